// Package signalstore defines the shared signaling mailbox: a document store
// holding one room per call attempt, with per-document change subscriptions.
//
// A room carries at most one offer and one answer description plus two
// append-only candidate collections, one per publishing role. Each field has
// exactly one writer role for the lifetime of a session, so implementations
// need no transactional discipline beyond per-store locking.
package signalstore

import (
	"context"
	"errors"
)

var ErrRoomNotFound = errors.New("room not found")

// Description is an opaque negotiation blob (SDP) produced by the
// negotiation engine. Type is "offer" or "answer".
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidateRecord is a single trickled ICE candidate. ID is assigned by the
// store on append and is unique within its collection; consumers use it to
// deduplicate redelivered records.
type CandidateRecord struct {
	ID               string  `json:"id"`
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Line names one of the two candidate collections scoped to a room.
type Line string

const (
	// LineOffer holds candidates published by the caller.
	LineOffer Line = "offerCandidates"
	// LineAnswer holds candidates published by the callee.
	LineAnswer Line = "answerCandidates"
)

func (l Line) Valid() bool { return l == LineOffer || l == LineAnswer }

// Room is a snapshot of a room document. Offer and Answer are nil until the
// owning role publishes them.
type Room struct {
	ID     string       `json:"id"`
	Offer  *Description `json:"offer,omitempty"`
	Answer *Description `json:"answer,omitempty"`
}

// StopFunc cancels a watch. Calling it more than once is safe.
type StopFunc func()

// Store is the signaling mailbox capability.
//
// Watches deliver state already present at subscription time as a first
// notification, then deltas; callers must treat both identically. A watch
// callback may be invoked more than once for the same logical state, and
// candidate batches may redeliver records; consumers deduplicate by record
// ID. Callbacks for one watch are never invoked concurrently with each
// other.
type Store interface {
	// CreateRoom allocates a fresh, empty room and returns its ID.
	CreateRoom(ctx context.Context) (string, error)

	// GetRoom reads a room snapshot once. Returns ErrRoomNotFound if no such
	// room exists.
	GetRoom(ctx context.Context, roomID string) (Room, error)

	// PublishOffer sets the room's offer description. Caller-only by
	// contract; the store does not arbitrate.
	PublishOffer(ctx context.Context, roomID string, desc Description) error

	// PublishAnswer sets the room's answer description. Callee-only by
	// contract.
	PublishAnswer(ctx context.Context, roomID string, desc Description) error

	// AppendCandidate appends a record to the given line and returns the
	// store-assigned record ID.
	AppendCandidate(ctx context.Context, roomID string, line Line, rec CandidateRecord) (string, error)

	// WatchRoom subscribes to room document changes. If the room already
	// exists the current snapshot is delivered first.
	WatchRoom(ctx context.Context, roomID string, fn func(Room)) (StopFunc, error)

	// WatchCandidates subscribes to added records on one line. Records
	// already present are delivered once as the first batch. Subscribing to
	// a room that does not exist yet is allowed; records appended after the
	// room appears are delivered normally.
	WatchCandidates(ctx context.Context, roomID string, line Line, fn func([]CandidateRecord)) (StopFunc, error)
}
