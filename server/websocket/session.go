package websocket

import (
	"context"
	"sync"
	"time"

	"peerchat/pkg/logger"
	"peerchat/services/broadcast"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const writeWait = 10 * time.Second

// Dispatcher is the part of the dispatcher a live session talks to
type Dispatcher interface {
	SubmitLive(ctx context.Context, sessionID string, payload []byte) error
	Attach(ctx context.Context, s broadcast.Session) error
	Detach(ctx context.Context, sessionID string) error
}

// Session is one attached live channel. Outbound frames are queued by the
// dispatcher goroutine and written by WritePump; inbound frames go straight
// back to the dispatcher.
type Session struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	log          *logger.Logger
}

func NewSession(conn *websocket.Conn, bufferSize int, pingInterval time.Duration) *Session {
	id := uuid.NewString()
	return &Session{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		log:          logger.WithComponent("live").WithField("session", id),
	}
}

func (s *Session) ID() string { return s.id }

// Enqueue never blocks; false means the frame was not queued
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops WritePump; safe to call more than once
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Serve attaches the session, runs both pumps and detaches on return
func (s *Session) Serve(ctx context.Context, d Dispatcher) {
	if err := d.Attach(ctx, s); err != nil {
		s.log.WithError(err).Warn("could not attach live session")
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.WritePump()
	}()
	s.ReadPump(ctx, d)

	// the connection is released once the handler returns
	s.Close()
	<-written
	if err := d.Detach(context.Background(), s.id); err != nil {
		s.log.WithError(err).Debug("detach after dispatcher stop")
	}
}

// ReadPump forwards every inbound frame to the dispatcher until the
// connection drops or the dispatcher stops accepting work
func (s *Session) ReadPump(ctx context.Context, d Dispatcher) {
	readWait := 2 * s.pingInterval
	s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Warn("live read error")
			}
			return
		}

		if err := d.SubmitLive(ctx, s.id, payload); err != nil {
			s.log.WithError(err).Warn("dispatcher refused live frame")
			return
		}
	}
}

func (s *Session) WritePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.WithError(err).Warn("live write error")
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
