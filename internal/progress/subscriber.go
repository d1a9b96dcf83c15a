package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 4 * 1024
)

type message struct {
	data     []byte
	terminal bool
}

// Subscriber is one websocket connection following an operation feed.
type Subscriber struct {
	hub         *Hub
	conn        *websocket.Conn
	outbox      chan message
	sendMu      sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	ID          string
	OperationID string
}

func NewSubscriber(hub *Hub, conn *websocket.Conn, id, operationID string) *Subscriber {
	return &Subscriber{
		hub:         hub,
		conn:        conn,
		outbox:      make(chan message, 64),
		done:        make(chan struct{}),
		ID:          id,
		OperationID: operationID,
	}
}

// ReadPump drains the connection until the peer goes away. Subscribers
// never send anything meaningful.
func (s *Subscriber) ReadPump(ctx context.Context) {
	defer func() {
		s.stop()
		s.hub.Unregister(s)
		s.conn.Close(websocket.StatusNormalClosure, "")
	}()

	s.conn.SetReadLimit(maxMsgSize)
	for {
		if _, _, err := s.conn.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slog.Debug("progress: read error", "error", err, "subscriber", s.ID)
			}
			return
		}
	}
}

// WritePump forwards updates to the peer and closes the connection after
// the terminal update.
func (s *Subscriber) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case m := <-s.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := s.conn.Write(writeCtx, websocket.MessageText, m.data)
			cancel()
			if err != nil {
				slog.Debug("progress: write error", "error", err, "subscriber", s.ID)
				return
			}
			if m.terminal {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// send queues an update without blocking. A full outbox drops progress
// updates, but a terminal update evicts the oldest queued ones so the peer
// always learns how the operation ended.
func (s *Subscriber) send(data []byte, terminal bool) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	m := message{data: data, terminal: terminal}
	for {
		select {
		case s.outbox <- m:
			return
		default:
		}
		if !terminal {
			slog.Warn("progress: subscriber buffer full, dropping update", "subscriber", s.ID)
			return
		}
		select {
		case <-s.outbox:
		default:
		}
	}
}

func (s *Subscriber) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}
