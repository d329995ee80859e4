package call

// State tracks negotiation progress for one session. The caller and callee
// walk disjoint paths that meet at StateConnected, the only terminal state.
// Errors are reported out of band by the operation that hit them; there is
// no failed state.
type State int

const (
	StateIdle State = iota
	StateLocalMediaReady

	// Caller path.
	StateOfferCreated
	StateOfferPublished
	StateAwaitingAnswer

	// Callee path.
	StateAwaitingOffer
	StateOfferFetched
	StateAnswerCreated
	StateAnswerPublished // user-visible as awaiting connection

	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalMediaReady:
		return "local media ready"
	case StateOfferCreated:
		return "offer created"
	case StateOfferPublished:
		return "offer published"
	case StateAwaitingAnswer:
		return "awaiting answer"
	case StateAwaitingOffer:
		return "awaiting offer"
	case StateOfferFetched:
		return "offer fetched"
	case StateAnswerCreated:
		return "answer created"
	case StateAnswerPublished:
		return "answer published"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status is the user-facing projection of negotiation progress. It is
// derived state, not authoritative.
type Status string

const (
	StatusIdle               Status = ""
	StatusAcquiringMedia     Status = "starting camera and microphone"
	StatusAwaitingAnswer     Status = "waiting for the other side to join"
	StatusAwaitingConnection Status = "joining the call"
	StatusConnected          Status = "connected"
)

func (s State) Status() Status {
	switch s {
	case StateAwaitingAnswer:
		return StatusAwaitingAnswer
	case StateAnswerPublished:
		return StatusAwaitingConnection
	case StateConnected:
		return StatusConnected
	default:
		return StatusIdle
	}
}
