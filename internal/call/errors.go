package call

import "errors"

var (
	// ErrEmptyRoomID is returned by Join before any store access when the
	// supplied identifier is empty.
	ErrEmptyRoomID = errors.New("room id is empty")

	// ErrOfferMissing is returned when a room exists but the caller has not
	// published its offer yet. The join attempt fails; the user retries
	// later.
	ErrOfferMissing = errors.New("room has no offer yet")
)
