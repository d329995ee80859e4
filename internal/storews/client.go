package storews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Siddhram/webrtc/internal/signalstore"
)

// ErrClientClosed is returned by store operations after the connection to
// the store server is gone.
var ErrClientClosed = errors.New("store connection closed")

// Client implements signalstore.Store against a storews server. A single
// read loop dispatches results to pending requests and events to watch
// callbacks, so callbacks for one watch never run concurrently.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	nextID      uint64
	pending     map[uint64]chan message
	roomWatches map[uint64]func(signalstore.Room)
	candWatches map[uint64]func([]signalstore.CandidateRecord)
	closed      bool

	closeOnce sync.Once
}

var _ signalstore.Store = (*Client)(nil)

// Dial connects to a store server's /signal endpoint.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:        conn,
		log:         log,
		pending:     make(map[uint64]chan message),
		roomWatches: make(map[uint64]func(signalstore.Room)),
		candWatches: make(map[uint64]func([]signalstore.CandidateRecord)),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.pending
		c.pending = nil
		c.roomWatches = nil
		c.candWatches = nil
		c.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := parseMessage(data)
		if err != nil {
			c.log.Warn("bad message from store server", "err", err)
			continue
		}

		switch msg.Type {
		case messageTypeResult, messageTypeError:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
				close(ch)
			}

		case messageTypeRoomChanged:
			c.mu.Lock()
			fn := c.roomWatches[msg.ID]
			c.mu.Unlock()
			if fn != nil {
				fn(*msg.Room)
			}

		case messageTypeCandidatesAdded:
			c.mu.Lock()
			fn := c.candWatches[msg.ID]
			c.mu.Unlock()
			if fn != nil {
				fn(msg.Candidates)
			}

		default:
			c.log.Warn("unexpected message from store server", "type", string(msg.Type))
		}
	}
}

// request sends msg with a fresh ID and waits for its result.
func (c *Client) request(ctx context.Context, msg message) (message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return message{}, ErrClientClosed
	}
	c.nextID++
	msg.ID = c.nextID
	ch := make(chan message, 1)
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return message{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return message{}, ErrClientClosed
		}
		if resp.Type == messageTypeError {
			return message{}, errorFromCode(resp)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return message{}, ctx.Err()
	}
}

func (c *Client) send(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to store: %w", err)
	}
	return nil
}

func errorFromCode(msg message) error {
	switch msg.Code {
	case errCodeRoomNotFound:
		return signalstore.ErrRoomNotFound
	default:
		return fmt.Errorf("store error %s: %s", msg.Code, msg.Reason)
	}
}

func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, message{Type: messageTypeCreateRoom})
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (signalstore.Room, error) {
	resp, err := c.request(ctx, message{Type: messageTypeGetRoom, RoomID: roomID})
	if err != nil {
		return signalstore.Room{}, err
	}
	if resp.Room == nil {
		return signalstore.Room{}, fmt.Errorf("store result missing room")
	}
	return *resp.Room, nil
}

func (c *Client) PublishOffer(ctx context.Context, roomID string, desc signalstore.Description) error {
	_, err := c.request(ctx, message{Type: messageTypePublishOffer, RoomID: roomID, Description: &desc})
	return err
}

func (c *Client) PublishAnswer(ctx context.Context, roomID string, desc signalstore.Description) error {
	_, err := c.request(ctx, message{Type: messageTypePublishAnswer, RoomID: roomID, Description: &desc})
	return err
}

func (c *Client) AppendCandidate(ctx context.Context, roomID string, line signalstore.Line, rec signalstore.CandidateRecord) (string, error) {
	resp, err := c.request(ctx, message{
		Type:      messageTypeAppendCandidate,
		RoomID:    roomID,
		Line:      string(line),
		Candidate: &rec,
	})
	if err != nil {
		return "", err
	}
	return resp.RecordID, nil
}

func (c *Client) WatchRoom(ctx context.Context, roomID string, fn func(signalstore.Room)) (signalstore.StopFunc, error) {
	return c.watch(ctx, message{Type: messageTypeWatchRoom, RoomID: roomID}, func(id uint64) {
		c.roomWatches[id] = fn
	}, func(id uint64) {
		c.mu.Lock()
		delete(c.roomWatches, id)
		c.mu.Unlock()
	})
}

func (c *Client) WatchCandidates(ctx context.Context, roomID string, line signalstore.Line, fn func([]signalstore.CandidateRecord)) (signalstore.StopFunc, error) {
	return c.watch(ctx, message{Type: messageTypeWatchCandidates, RoomID: roomID, Line: string(line)}, func(id uint64) {
		c.candWatches[id] = fn
	}, func(id uint64) {
		c.mu.Lock()
		delete(c.candWatches, id)
		c.mu.Unlock()
	})
}

// watch registers the callback under the request ID before the request is
// sent, so no event delivered between the server's registration and our
// result handling is missed.
func (c *Client) watch(ctx context.Context, msg message, register func(uint64), unregister func(uint64)) (signalstore.StopFunc, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.nextID++
	id := c.nextID
	msg.ID = id
	ch := make(chan message, 1)
	c.pending[id] = ch
	register(id)
	c.mu.Unlock()

	fail := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		unregister(id)
	}

	if err := c.send(msg); err != nil {
		fail()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			unregister(id)
			return nil, ErrClientClosed
		}
		if resp.Type == messageTypeError {
			unregister(id)
			return nil, errorFromCode(resp)
		}
	case <-ctx.Done():
		fail()
		return nil, ctx.Err()
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			unregister(id)
			// Best effort; the server also drops watches on disconnect. The
			// result for the unwatch comes back on the watch ID and is
			// dropped by the read loop.
			_ = c.send(message{Type: messageTypeUnwatch, ID: id})
		})
	}
	return stop, nil
}
