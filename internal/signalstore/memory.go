package signalstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// Memory is an in-process Store. It backs webrtc-signald and the package
// tests.
type Memory struct {
	mu        sync.Mutex
	rooms     map[string]*memRoom
	nextWatch int
}

type memRoom struct {
	// exists distinguishes a created room from a shell allocated to hold
	// watches registered before creation.
	exists bool
	room   Room
	cands  map[Line][]CandidateRecord

	roomWatches map[int]*memWatch[Room]
	candWatches map[Line]map[int]*memWatch[[]CandidateRecord]
}

type memWatch[T any] struct {
	n  *notifier
	fn func(T)
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memRoom)}
}

func (m *Memory) CreateRoom(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := newID(8)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	r := m.roomLocked(id)
	r.exists = true
	r.room.ID = id
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.exists {
		return Room{}, ErrRoomNotFound
	}
	return r.room, nil
}

func (m *Memory) PublishOffer(ctx context.Context, roomID string, desc Description) error {
	return m.setDescription(ctx, roomID, desc, func(r *Room, d Description) { r.Offer = &d })
}

func (m *Memory) PublishAnswer(ctx context.Context, roomID string, desc Description) error {
	return m.setDescription(ctx, roomID, desc, func(r *Room, d Description) { r.Answer = &d })
}

func (m *Memory) setDescription(ctx context.Context, roomID string, desc Description, set func(*Room, Description)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok || !r.exists {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	set(&r.room, desc)
	snapshot := r.room
	watches := make([]*memWatch[Room], 0, len(r.roomWatches))
	for _, w := range r.roomWatches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w := w
		w.n.enqueue(func() { w.fn(snapshot) })
	}
	return nil
}

func (m *Memory) AppendCandidate(ctx context.Context, roomID string, line Line, rec CandidateRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !line.Valid() {
		return "", fmt.Errorf("invalid candidate line %q", line)
	}
	id, err := newID(6)
	if err != nil {
		return "", err
	}
	rec.ID = id

	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok || !r.exists {
		m.mu.Unlock()
		return "", ErrRoomNotFound
	}
	r.cands[line] = append(r.cands[line], rec)
	watches := make([]*memWatch[[]CandidateRecord], 0, len(r.candWatches[line]))
	for _, w := range r.candWatches[line] {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	added := []CandidateRecord{rec}
	for _, w := range watches {
		w := w
		w.n.enqueue(func() { w.fn(added) })
	}
	return id, nil
}

func (m *Memory) WatchRoom(ctx context.Context, roomID string, fn func(Room)) (StopFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memWatch[Room]{n: newNotifier(), fn: fn}

	m.mu.Lock()
	r := m.roomLocked(roomID)
	id := m.nextWatch
	m.nextWatch++
	r.roomWatches[id] = w
	deliverInitial := r.exists
	snapshot := r.room
	m.mu.Unlock()

	if deliverInitial {
		w.n.enqueue(func() { w.fn(snapshot) })
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(r.roomWatches, id)
			m.mu.Unlock()
			w.n.close()
		})
	}
	return stop, nil
}

func (m *Memory) WatchCandidates(ctx context.Context, roomID string, line Line, fn func([]CandidateRecord)) (StopFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !line.Valid() {
		return nil, fmt.Errorf("invalid candidate line %q", line)
	}
	w := &memWatch[[]CandidateRecord]{n: newNotifier(), fn: fn}

	m.mu.Lock()
	r := m.roomLocked(roomID)
	if r.candWatches[line] == nil {
		r.candWatches[line] = make(map[int]*memWatch[[]CandidateRecord])
	}
	id := m.nextWatch
	m.nextWatch++
	r.candWatches[line][id] = w
	initial := append([]CandidateRecord(nil), r.cands[line]...)
	m.mu.Unlock()

	if len(initial) > 0 {
		w.n.enqueue(func() { w.fn(initial) })
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(r.candWatches[line], id)
			m.mu.Unlock()
			w.n.close()
		})
	}
	return stop, nil
}

// roomLocked returns the bookkeeping entry for roomID, allocating a
// non-existent shell if needed so watches can be registered before creation.
func (m *Memory) roomLocked(roomID string) *memRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memRoom{
			cands:       make(map[Line][]CandidateRecord),
			roomWatches: make(map[int]*memWatch[Room]),
			candWatches: make(map[Line]map[int]*memWatch[[]CandidateRecord]),
		}
		m.rooms[roomID] = r
	}
	return r
}

func newID(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
