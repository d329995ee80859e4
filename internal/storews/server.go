package storews

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Siddhram/webrtc/internal/metrics"
	"github.com/Siddhram/webrtc/internal/ratelimit"
	"github.com/Siddhram/webrtc/internal/signalstore"
)

const writeWait = 1 * time.Second

// Server exposes a signalstore.Store over a WebSocket endpoint. Each
// connection gets an isolated request loop with a read limit and a message
// rate budget; watches registered by a connection are cancelled when it
// goes away.
type Server struct {
	Store   signalstore.Store
	Log     *slog.Logger
	Metrics *metrics.Metrics

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	mu    sync.Mutex
	conns map[*serverConn]struct{}
}

func NewServer(store signalstore.Store, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		Store:   store,
		Log:     log,
		Metrics: m,
		conns:   make(map[*serverConn]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxMessageBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.MaxMessagesPerSecond <= 0 {
		return 50
	}
	return s.MaxMessagesPerSecond
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "store not configured", http.StatusInternalServerError)
		return
	}

	upgrader := websocket.Upgrader{
		// Clients are native binaries, not browsers; there is no origin to
		// assert.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sc := &serverConn{
		srv:     s,
		conn:    conn,
		req:     r,
		limiter: ratelimit.NewLimiter(ratelimit.RealClock{}, s.maxMessagesPerSecond()),
		watches: make(map[uint64]signalstore.StopFunc),
	}
	s.track(sc)
	defer s.untrack(sc)

	sc.run()
}

// Close terminates every live connection. New connections are still
// accepted; callers shut the HTTP listener down first.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.close()
	}
}

func (s *Server) track(sc *serverConn) {
	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
}

type serverConn struct {
	srv     *Server
	conn    *websocket.Conn
	req     *http.Request
	limiter *ratelimit.Limiter

	writeMu sync.Mutex

	watchMu sync.Mutex
	watches map[uint64]signalstore.StopFunc

	closeOnce sync.Once
}

func (sc *serverConn) run() {
	defer sc.close()

	sc.conn.SetReadLimit(sc.srv.maxMessageBytes())

	for {
		msgType, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		// The limiter runs after the read so bytes already buffered by the
		// OS are consumed before we slam the door.
		if !sc.limiter.Allow() {
			sc.srv.Metrics.Inc(metrics.StoreRateLimited)
			sc.sendError(0, errCodeRateLimited, "message rate limit exceeded")
			sc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			sc.sendError(0, errCodeBadMessage, "expected text message")
			sc.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseMessage(data)
		if err != nil {
			sc.srv.Metrics.Inc(metrics.StoreBadMessage)
			sc.sendError(0, errCodeBadMessage, err.Error())
			sc.closeWith(websocket.ClosePolicyViolation, "bad message")
			return
		}

		sc.handle(msg)
	}
}

func (sc *serverConn) handle(msg message) {
	ctx := sc.req.Context()

	switch msg.Type {
	case messageTypeCreateRoom:
		roomID, err := sc.srv.Store.CreateRoom(ctx)
		if err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.srv.Metrics.Inc(metrics.RoomsCreated)
		sc.send(message{Type: messageTypeResult, ID: msg.ID, RoomID: roomID})

	case messageTypeGetRoom:
		room, err := sc.srv.Store.GetRoom(ctx, msg.RoomID)
		if err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.send(message{Type: messageTypeResult, ID: msg.ID, Room: &room})

	case messageTypePublishOffer:
		if err := sc.srv.Store.PublishOffer(ctx, msg.RoomID, *msg.Description); err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.send(message{Type: messageTypeResult, ID: msg.ID})

	case messageTypePublishAnswer:
		if err := sc.srv.Store.PublishAnswer(ctx, msg.RoomID, *msg.Description); err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.send(message{Type: messageTypeResult, ID: msg.ID})

	case messageTypeAppendCandidate:
		recordID, err := sc.srv.Store.AppendCandidate(ctx, msg.RoomID, signalstore.Line(msg.Line), *msg.Candidate)
		if err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.send(message{Type: messageTypeResult, ID: msg.ID, RecordID: recordID})

	case messageTypeWatchRoom:
		watchID := msg.ID
		stop, err := sc.srv.Store.WatchRoom(ctx, msg.RoomID, func(room signalstore.Room) {
			sc.send(message{Type: messageTypeRoomChanged, ID: watchID, Room: &room})
		})
		if err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.addWatch(watchID, stop)
		sc.send(message{Type: messageTypeResult, ID: msg.ID})

	case messageTypeWatchCandidates:
		watchID := msg.ID
		stop, err := sc.srv.Store.WatchCandidates(ctx, msg.RoomID, signalstore.Line(msg.Line), func(recs []signalstore.CandidateRecord) {
			sc.send(message{Type: messageTypeCandidatesAdded, ID: watchID, Candidates: recs})
		})
		if err != nil {
			sc.sendStoreError(msg.ID, err)
			return
		}
		sc.addWatch(watchID, stop)
		sc.send(message{Type: messageTypeResult, ID: msg.ID})

	case messageTypeUnwatch:
		sc.removeWatch(msg.ID)
		sc.send(message{Type: messageTypeResult, ID: msg.ID})

	default:
		// Server-to-client types arriving from a client.
		sc.sendError(msg.ID, errCodeBadMessage, fmt.Sprintf("unexpected message type %q", msg.Type))
	}
}

func (sc *serverConn) addWatch(id uint64, stop signalstore.StopFunc) {
	sc.watchMu.Lock()
	if sc.watches == nil {
		sc.watchMu.Unlock()
		stop()
		return
	}
	if prev, ok := sc.watches[id]; ok {
		prev()
	}
	sc.watches[id] = stop
	sc.watchMu.Unlock()
}

func (sc *serverConn) removeWatch(id uint64) {
	sc.watchMu.Lock()
	stop, ok := sc.watches[id]
	delete(sc.watches, id)
	sc.watchMu.Unlock()
	if ok {
		stop()
	}
}

func (sc *serverConn) sendStoreError(id uint64, err error) {
	if errors.Is(err, signalstore.ErrRoomNotFound) {
		sc.sendError(id, errCodeRoomNotFound, err.Error())
		return
	}
	sc.sendError(id, errCodeInternal, err.Error())
}

func (sc *serverConn) sendError(id uint64, code, reason string) {
	sc.send(message{Type: messageTypeError, ID: id, Code: code, Reason: reason})
}

func (sc *serverConn) send(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		sc.srv.Log.Error("failed to encode message", "err", err)
		return
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = sc.conn.WriteMessage(websocket.TextMessage, data)
}

func (sc *serverConn) closeWith(code int, reason string) {
	sc.writeMu.Lock()
	_ = sc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	sc.writeMu.Unlock()
}

func (sc *serverConn) close() {
	sc.closeOnce.Do(func() {
		sc.watchMu.Lock()
		stops := make([]signalstore.StopFunc, 0, len(sc.watches))
		for _, stop := range sc.watches {
			stops = append(stops, stop)
		}
		sc.watches = nil
		sc.watchMu.Unlock()

		for _, stop := range stops {
			stop()
		}
		_ = sc.conn.Close()
	})
}
