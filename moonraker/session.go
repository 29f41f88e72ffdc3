package moonraker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/john/printer_remote/printer"
)

// ErrSessionClosed is returned by Call once the session's connection is gone.
var ErrSessionClosed = errors.New("moonraker websocket session closed")

const closeWait = time.Second

// Session is a live WebSocket connection to Moonraker. Responses are routed
// to waiting callers by request id; server notifications are discarded.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *rpcMessage
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

var _ printer.SocketSession = (*Session)(nil)

func newSession(conn *websocket.Conn, logger *slog.Logger) *Session {
	s := &Session{
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan *rpcMessage),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Done returns a channel that is closed when the read loop exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.closed = true
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("moonraker websocket read error", "error", err)
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("moonraker websocket: ignoring malformed frame", "error", err)
			continue
		}
		id, ok := msg.responseID()
		if !ok {
			continue
		}

		s.mu.Lock()
		ch, isPending := s.pending[id]
		if isPending {
			delete(s.pending, id)
		}
		s.mu.Unlock()

		if isPending {
			ch <- &msg
		}
	}
}

// Call sends a JSON-RPC request and waits for its response. result may be nil
// when the caller does not need the payload.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	id := s.nextID.Add(1)
	ch := make(chan *rpcMessage, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}); err != nil {
		s.forget(id)
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return ErrSessionClosed
		}
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("%w: %s result: %w", ErrDecode, method, err)
		}
		return nil
	case <-ctx.Done():
		s.forget(id)
		return ctx.Err()
	}
}

func (s *Session) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) write(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Close sends a close frame, closes the connection, and waits for the read
// loop to exit. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// WriteControl may run alongside a blocked WriteJSON; it gives up after closeWait.
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		err = s.conn.Close()
		<-s.done
	})
	return err
}
