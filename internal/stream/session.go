package stream

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one connected, subscribed feed socket.
type Session struct {
	ID string

	conn         *websocket.Conn
	pingInterval time.Duration
	pongTimeout  time.Duration

	closed    chan struct{}
	closeOnce sync.Once
	pingDone  chan struct{}

	mu        sync.Mutex
	err       error
	stopAfter func() bool
}

func newSession(ctx context.Context, conn *websocket.Conn, pingInterval, pongTimeout time.Duration) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		conn:         conn,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		closed:       make(chan struct{}),
		pingDone:     make(chan struct{}),
	}

	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})
	go s.keepalive()
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	s.stopAfter = stop
	s.mu.Unlock()
	return s
}

// extendDeadline gives the peer one ping interval plus the pong timeout to
// show it is alive.
func (s *Session) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongTimeout))
}

// keepalive pings the peer every interval. Control frames may be written
// concurrently with the subscribe frame and the close frame.
func (s *Session) keepalive() {
	defer close(s.pingDone)
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.pongTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

// Frames yields text and binary frames in arrival order. The sequence ends
// when the connection fails, the keep-alive times out or the session is
// closed; the session is closed when the sequence ends.
func (s *Session) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		defer s.Close()
		for {
			// The deadline covers only the wait on the peer, not time
			// spent in the consumer.
			s.extendDeadline()
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				s.setErr(err)
				return
			}
			if !yield(data) {
				return
			}
		}
	}
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
		<-s.pingDone
	})
}
