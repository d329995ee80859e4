// Package storews serves and consumes the signaling store over WebSocket.
//
// The wire protocol is a small JSON envelope: clients send correlated
// requests (create_room, get_room, publish_offer, publish_answer,
// append_candidate, watch_room, watch_candidates, unwatch) and receive
// results, errors, and watch events (room_changed, candidates_added).
package storews

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Siddhram/webrtc/internal/signalstore"
)

type messageType string

const (
	messageTypeCreateRoom      messageType = "create_room"
	messageTypeGetRoom         messageType = "get_room"
	messageTypePublishOffer    messageType = "publish_offer"
	messageTypePublishAnswer   messageType = "publish_answer"
	messageTypeAppendCandidate messageType = "append_candidate"
	messageTypeWatchRoom       messageType = "watch_room"
	messageTypeWatchCandidates messageType = "watch_candidates"
	messageTypeUnwatch         messageType = "unwatch"

	messageTypeResult          messageType = "result"
	messageTypeError           messageType = "error"
	messageTypeRoomChanged     messageType = "room_changed"
	messageTypeCandidatesAdded messageType = "candidates_added"
)

// Error codes carried by error messages.
const (
	errCodeBadMessage   = "bad_message"
	errCodeRoomNotFound = "room_not_found"
	errCodeRateLimited  = "rate_limited"
	errCodeInternal     = "internal_error"
)

type message struct {
	Type messageType `json:"type"`

	// ID correlates a request with its result or error. Watch requests reuse
	// it as the watch handle echoed on every event.
	ID uint64 `json:"id,omitempty"`

	RoomID string `json:"roomId,omitempty"`
	Line   string `json:"line,omitempty"`

	Description *signalstore.Description     `json:"description,omitempty"`
	Candidate   *signalstore.CandidateRecord `json:"candidate,omitempty"`

	Room       *signalstore.Room             `json:"room,omitempty"`
	Candidates []signalstore.CandidateRecord `json:"candidates,omitempty"`
	RecordID   string                        `json:"recordId,omitempty"`

	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func parseMessage(data []byte) (message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg message
	if err := dec.Decode(&msg); err != nil {
		return message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return message{}, err
	}
	return msg, nil
}

func (m message) validate() error {
	switch m.Type {
	case messageTypeCreateRoom:
		if m.ID == 0 {
			return fmt.Errorf("create_room missing id")
		}
	case messageTypeGetRoom, messageTypeWatchRoom:
		if m.ID == 0 || m.RoomID == "" {
			return fmt.Errorf("%s missing id/roomId", m.Type)
		}
	case messageTypePublishOffer, messageTypePublishAnswer:
		if m.ID == 0 || m.RoomID == "" {
			return fmt.Errorf("%s missing id/roomId", m.Type)
		}
		if m.Description == nil || m.Description.SDP == "" {
			return fmt.Errorf("%s missing description", m.Type)
		}
	case messageTypeAppendCandidate:
		if m.ID == 0 || m.RoomID == "" {
			return fmt.Errorf("append_candidate missing id/roomId")
		}
		if !signalstore.Line(m.Line).Valid() {
			return fmt.Errorf("append_candidate has invalid line %q", m.Line)
		}
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("append_candidate missing candidate")
		}
	case messageTypeWatchCandidates:
		if m.ID == 0 || m.RoomID == "" {
			return fmt.Errorf("watch_candidates missing id/roomId")
		}
		if !signalstore.Line(m.Line).Valid() {
			return fmt.Errorf("watch_candidates has invalid line %q", m.Line)
		}
	case messageTypeUnwatch:
		if m.ID == 0 {
			return fmt.Errorf("unwatch missing id")
		}
	case messageTypeResult:
		if m.ID == 0 {
			return fmt.Errorf("result missing id")
		}
	case messageTypeError:
		if m.Code == "" {
			return fmt.Errorf("error missing code")
		}
	case messageTypeRoomChanged:
		if m.ID == 0 || m.Room == nil {
			return fmt.Errorf("room_changed missing id/room")
		}
	case messageTypeCandidatesAdded:
		if m.ID == 0 || len(m.Candidates) == 0 {
			return fmt.Errorf("candidates_added missing id/candidates")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
