package metrics

import "sync"

// Counter names used across the signaling core. Names are intentionally
// simple event labels rather than pre-namespaced metric names.
const (
	RoomsCreated     = "rooms_created"
	OffersPublished  = "offers_published"
	AnswersPublished = "answers_published"

	CandidatesPublished    = "candidates_published"
	CandidatesIngested     = "candidates_ingested"
	CandidateIngestFailed  = "candidate_ingest_failed"
	CandidatesDeduped      = "candidates_deduped"
	CandidatePublishFailed = "candidate_publish_failed"

	SessionsConnected = "sessions_connected"

	StoreRateLimited = "store_rate_limited"
	StoreBadMessage  = "store_bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type exists so relay and coordinator behavior stays observable and
// testable without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
