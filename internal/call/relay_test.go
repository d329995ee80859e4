package call

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/signalstore"
)

func TestRelay_DeliversInitialAndLiveCandidates(t *testing.T) {
	ctx := context.Background()
	store := signalstore.NewMemory()
	engine := newFakeEngine()
	m := metrics.New()

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// The callee consumes LineOffer: records already present at subscription
	// time and records appended afterwards must both arrive, each once.
	for i := 0; i < 3; i++ {
		rec := signalstore.CandidateRecord{Candidate: fmt.Sprintf("pre-%d", i)}
		if _, err := store.AppendCandidate(ctx, roomID, signalstore.LineOffer, rec); err != nil {
			t.Fatalf("AppendCandidate: %v", err)
		}
	}

	r := NewRelay(store, engine, roomID, RoleCallee, discardLogger(), m, inlinePost)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	for i := 0; i < 2; i++ {
		rec := signalstore.CandidateRecord{Candidate: fmt.Sprintf("live-%d", i)}
		if _, err := store.AppendCandidate(ctx, roomID, signalstore.LineOffer, rec); err != nil {
			t.Fatalf("AppendCandidate: %v", err)
		}
	}

	waitUntil(t, func() bool { return engine.remoteCandidateCount() == 5 }, "relay did not deliver all candidates")

	engine.mu.Lock()
	seen := make(map[string]int)
	for _, c := range engine.remoteCands {
		seen[c.Candidate]++
	}
	engine.mu.Unlock()
	for cand, n := range seen {
		if n != 1 {
			t.Errorf("candidate %q delivered %d times, want 1", cand, n)
		}
	}
	if got := m.Get(metrics.CandidatesIngested); got != 5 {
		t.Fatalf("candidates_ingested = %d, want 5", got)
	}
}

func TestRelay_FiftyCandidatesAcrossTwoBatches(t *testing.T) {
	store := signalstore.NewMemory()
	engine := newFakeEngine()
	m := metrics.New()
	r := NewRelay(store, engine, "room", RoleCallee, discardLogger(), m, inlinePost)

	var first, second []signalstore.CandidateRecord
	for i := 0; i < 50; i++ {
		rec := signalstore.CandidateRecord{
			ID:        fmt.Sprintf("rec-%02d", i),
			Candidate: fmt.Sprintf("candidate:%d", i),
		}
		if i < 25 {
			first = append(first, rec)
		} else {
			second = append(second, rec)
		}
	}
	r.ingest(first)
	r.ingest(second)

	if got := engine.remoteCandidateCount(); got != 50 {
		t.Fatalf("engine candidates = %d, want 50", got)
	}
	engine.mu.Lock()
	seen := make(map[string]int)
	for _, c := range engine.remoteCands {
		seen[c.Candidate]++
	}
	engine.mu.Unlock()
	if len(seen) != 50 {
		t.Fatalf("distinct candidates = %d, want 50", len(seen))
	}
	for cand, n := range seen {
		if n != 1 {
			t.Errorf("candidate %q delivered %d times", cand, n)
		}
	}
}

func TestRelay_IngestOrderCommutes(t *testing.T) {
	recs := make([]signalstore.CandidateRecord, 8)
	for i := range recs {
		recs[i] = signalstore.CandidateRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			Candidate: fmt.Sprintf("candidate:%d", i),
		}
	}

	ingestAll := func(order []int) map[string]bool {
		store := signalstore.NewMemory()
		engine := newFakeEngine()
		r := NewRelay(store, engine, "room", RoleCallee, discardLogger(), metrics.New(), inlinePost)
		for _, i := range order {
			r.ingest([]signalstore.CandidateRecord{recs[i]})
		}
		engine.mu.Lock()
		defer engine.mu.Unlock()
		set := make(map[string]bool, len(engine.remoteCands))
		for _, c := range engine.remoteCands {
			set[c.Candidate] = true
		}
		return set
	}

	orders := [][]int{
		{0, 1, 2, 3, 4, 5, 6, 7},
		{7, 6, 5, 4, 3, 2, 1, 0},
		{3, 0, 7, 1, 6, 2, 5, 4},
	}
	want := ingestAll(orders[0])
	for _, order := range orders[1:] {
		got := ingestAll(order)
		if len(got) != len(want) {
			t.Fatalf("order %v: set size %d, want %d", order, len(got), len(want))
		}
		for cand := range want {
			if !got[cand] {
				t.Fatalf("order %v: missing %q", order, cand)
			}
		}
	}
}

func TestRelay_DedupByRecordID(t *testing.T) {
	store := signalstore.NewMemory()
	engine := newFakeEngine()
	m := metrics.New()
	r := NewRelay(store, engine, "room", RoleCaller, discardLogger(), m, inlinePost)

	rec := signalstore.CandidateRecord{ID: "rec-1", Candidate: "candidate:0"}
	r.ingest([]signalstore.CandidateRecord{rec})
	r.ingest([]signalstore.CandidateRecord{rec, {ID: "rec-2", Candidate: "candidate:1"}})

	if got := engine.remoteCandidateCount(); got != 2 {
		t.Fatalf("engine candidates = %d, want 2", got)
	}
	if got := m.Get(metrics.CandidatesDeduped); got != 1 {
		t.Fatalf("candidates_deduped = %d, want 1", got)
	}
}

func TestRelay_IngestFailureIsolation(t *testing.T) {
	store := signalstore.NewMemory()
	engine := newFakeEngine()
	engine.addRemoteErr = func(init webrtc.ICECandidateInit) error {
		if strings.Contains(init.Candidate, "bad") {
			return fmt.Errorf("malformed candidate")
		}
		return nil
	}
	m := metrics.New()
	r := NewRelay(store, engine, "room", RoleCaller, discardLogger(), m, inlinePost)

	r.ingest([]signalstore.CandidateRecord{
		{ID: "a", Candidate: "good one"},
		{ID: "b", Candidate: "bad apple"},
		{ID: "c", Candidate: "good two"},
	})

	if got := engine.remoteCandidateCount(); got != 2 {
		t.Fatalf("engine candidates = %d, want 2", got)
	}
	if got := m.Get(metrics.CandidateIngestFailed); got != 1 {
		t.Fatalf("candidate_ingest_failed = %d, want 1", got)
	}
	if got := m.Get(metrics.CandidatesIngested); got != 2 {
		t.Fatalf("candidates_ingested = %d, want 2", got)
	}
}

func TestRelay_PublishesLocalCandidates(t *testing.T) {
	ctx := context.Background()
	store := signalstore.NewMemory()
	engine := newFakeEngine()
	m := metrics.New()

	roomID, err := store.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	published := make(chan signalstore.CandidateRecord, 8)
	stop, err := store.WatchCandidates(ctx, roomID, signalstore.LineOffer, func(recs []signalstore.CandidateRecord) {
		for _, rec := range recs {
			published <- rec
		}
	})
	if err != nil {
		t.Fatalf("WatchCandidates: %v", err)
	}
	defer stop()

	r := NewRelay(store, engine, roomID, RoleCaller, discardLogger(), m, inlinePost)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	mid := "0"
	engine.fireCandidate(webrtc.ICECandidateInit{Candidate: "candidate:local", SDPMid: &mid})

	select {
	case rec := <-published:
		if rec.Candidate != "candidate:local" {
			t.Fatalf("published candidate = %+v", rec)
		}
		if rec.ID == "" {
			t.Fatal("published record has no store-assigned ID")
		}
		if rec.SDPMid == nil || *rec.SDPMid != "0" {
			t.Fatalf("sdpMid = %v, want 0", rec.SDPMid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("candidate never reached the store")
	}
	if got := m.Get(metrics.CandidatesPublished); got != 1 {
		t.Fatalf("candidates_published = %d, want 1", got)
	}
}

type appendFailStore struct {
	signalstore.Store
}

func (s appendFailStore) AppendCandidate(ctx context.Context, roomID string, line signalstore.Line, rec signalstore.CandidateRecord) (string, error) {
	return "", fmt.Errorf("store write refused")
}

func TestRelay_PublishFailureIsCountedNotFatal(t *testing.T) {
	ctx := context.Background()
	mem := signalstore.NewMemory()
	roomID, err := mem.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	engine := newFakeEngine()
	m := metrics.New()
	r := NewRelay(appendFailStore{Store: mem}, engine, roomID, RoleCaller, discardLogger(), m, inlinePost)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	engine.fireCandidate(webrtc.ICECandidateInit{Candidate: "candidate:doomed"})
	engine.fireCandidate(webrtc.ICECandidateInit{Candidate: "candidate:doomed-too"})

	if got := m.Get(metrics.CandidatePublishFailed); got != 2 {
		t.Fatalf("candidate_publish_failed = %d, want 2", got)
	}
	if got := m.Get(metrics.CandidatesPublished); got != 0 {
		t.Fatalf("candidates_published = %d, want 0", got)
	}
}
