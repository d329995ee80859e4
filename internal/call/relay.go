package call

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/signalstore"
)

// Relay forwards trickled ICE candidates in both directions between the
// negotiation engine and the room's candidate lines. It starts as soon as
// the engine exists, before any description is exchanged, so no candidate
// is ever lost.
//
// Ingestion is best effort per record: one bad candidate is counted and
// logged, the rest keep flowing. Records are deduplicated by store-assigned
// ID because store subscriptions may redeliver.
type Relay struct {
	store   signalstore.Store
	engine  Engine
	roomID  string
	role    Role
	log     *slog.Logger
	metrics *metrics.Metrics

	// post serializes work onto the session's single flow of control.
	post func(func())

	ctx  context.Context
	seen map[string]struct{}
	stop signalstore.StopFunc
}

func NewRelay(store signalstore.Store, engine Engine, roomID string, role Role, log *slog.Logger, m *metrics.Metrics, post func(func())) *Relay {
	return &Relay{
		store:   store,
		engine:  engine,
		roomID:  roomID,
		role:    role,
		log:     log.With("room_id", roomID, "role", role),
		metrics: m,
		post:    post,
		seen:    make(map[string]struct{}),
	}
}

// Start registers the outbound candidate hook and subscribes to the peer's
// line. The inbound watch delivers pre-existing records first; they are
// treated identically to later additions.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx = ctx

	r.engine.OnCandidate(func(init webrtc.ICECandidateInit) {
		r.post(func() { r.publish(init) })
	})

	stop, err := r.store.WatchCandidates(ctx, r.roomID, r.role.WatchLine(), func(recs []signalstore.CandidateRecord) {
		r.post(func() { r.ingest(recs) })
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", r.role.WatchLine(), err)
	}
	r.stop = stop
	return nil
}

func (r *Relay) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

func (r *Relay) publish(init webrtc.ICECandidateInit) {
	rec := signalstore.CandidateRecord{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
	id, err := r.store.AppendCandidate(r.ctx, r.roomID, r.role.PublishLine(), rec)
	if err != nil {
		r.metrics.Inc(metrics.CandidatePublishFailed)
		r.log.Warn("failed to publish candidate", "err", err)
		return
	}
	r.metrics.Inc(metrics.CandidatesPublished)
	r.log.Debug("published candidate", "record_id", id)
}

func (r *Relay) ingest(recs []signalstore.CandidateRecord) {
	for _, rec := range recs {
		if rec.ID != "" {
			if _, dup := r.seen[rec.ID]; dup {
				r.metrics.Inc(metrics.CandidatesDeduped)
				continue
			}
			r.seen[rec.ID] = struct{}{}
		}

		err := r.engine.AddRemoteCandidate(webrtc.ICECandidateInit{
			Candidate:        rec.Candidate,
			SDPMid:           rec.SDPMid,
			SDPMLineIndex:    rec.SDPMLineIndex,
			UsernameFragment: rec.UsernameFragment,
		})
		if err != nil {
			r.metrics.Inc(metrics.CandidateIngestFailed)
			r.log.Warn("failed to ingest candidate", "record_id", rec.ID, "err", err)
			continue
		}
		r.metrics.Inc(metrics.CandidatesIngested)
	}
}
