package call

import "github.com/Siddhram/webrtc/internal/signalstore"

// Role is fixed for the lifetime of a session and determines which
// description slot and candidate line a participant writes versus watches.
type Role string

const (
	// RoleCaller creates the room, publishes the offer, and watches the room
	// for the answer.
	RoleCaller Role = "caller"
	// RoleCallee fetches the room once, publishes the answer, and never
	// re-reads the room afterwards.
	RoleCallee Role = "callee"
)

// PublishLine is the candidate collection this role appends to.
func (r Role) PublishLine() signalstore.Line {
	if r == RoleCaller {
		return signalstore.LineOffer
	}
	return signalstore.LineAnswer
}

// WatchLine is the peer's candidate collection this role consumes.
func (r Role) WatchLine() signalstore.Line {
	if r == RoleCaller {
		return signalstore.LineAnswer
	}
	return signalstore.LineOffer
}
