package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetention is how long a finished feed keeps its last update for
// late subscribers.
const DefaultRetention = 5 * time.Minute

type feed struct {
	operationID string
	last        *Update
	finished    time.Time
	subscribers map[string]*Subscriber // subscriberID -> subscriber
}

type Hub struct {
	mu         sync.RWMutex
	feeds      map[string]*feed // operationID -> feed
	register   chan *Subscriber
	unregister chan *Subscriber
	stopped    chan struct{}
	retention  time.Duration
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		feeds:      make(map[string]*feed),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		stopped:    make(chan struct{}),
		retention:  DefaultRetention,
		logger:     logger,
	}
}

// Run processes subscriptions until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(h.stopped)
	for {
		select {
		case s := <-h.register:
			h.addSubscriber(s)
		case s := <-h.unregister:
			h.removeSubscriber(s)
		case now := <-ticker.C:
			h.prune(now)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) Register(s *Subscriber) {
	select {
	case h.register <- s:
	case <-h.stopped:
		s.stop()
	}
}

func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.stopped:
	}
}

// Publish records u as the operation's latest state and fans it out to
// every subscriber.
func (h *Hub) Publish(u Update) error {
	if err := u.validate(); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	u.Progress = clampProgress(u.Progress)
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	h.mu.Lock()
	f := h.feedLocked(u.OperationID)
	if f.last != nil && f.last.Terminal() {
		h.mu.Unlock()
		return fmt.Errorf("publish update: operation %s already finished", u.OperationID)
	}
	f.last = &u
	if u.Terminal() {
		f.finished = time.Now()
	}
	subs := make([]*Subscriber, 0, len(f.subscribers))
	for _, s := range f.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.send(data, u.Terminal())
	}
	return nil
}

// Last returns the latest update published for operationID.
func (h *Hub) Last(operationID string) (Update, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	f, ok := h.feeds[operationID]
	if !ok || f.last == nil {
		return Update{}, false
	}
	return *f.last, true
}

// Subscribers returns the number of live subscribers of operationID.
func (h *Hub) Subscribers(operationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if f, ok := h.feeds[operationID]; ok {
		return len(f.subscribers)
	}
	return 0
}

func (h *Hub) feedLocked(operationID string) *feed {
	f, ok := h.feeds[operationID]
	if !ok {
		f = &feed{operationID: operationID, subscribers: make(map[string]*Subscriber)}
		h.feeds[operationID] = f
	}
	return f
}

func (h *Hub) addSubscriber(s *Subscriber) {
	h.mu.Lock()
	f := h.feedLocked(s.OperationID)
	f.subscribers[s.ID] = s
	last := f.last
	h.mu.Unlock()

	// Late subscribers start from the current state.
	if last != nil {
		if data, err := json.Marshal(last); err == nil {
			s.send(data, last.Terminal())
		}
	}
	h.logger.Info("progress: subscribed", "operation", s.OperationID, "subscriber", s.ID)
}

func (h *Hub) removeSubscriber(s *Subscriber) {
	h.mu.Lock()
	f, ok := h.feeds[s.OperationID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(f.subscribers, s.ID)
	if len(f.subscribers) == 0 && f.last == nil {
		delete(h.feeds, s.OperationID)
	}
	h.mu.Unlock()

	h.logger.Info("progress: unsubscribed", "operation", s.OperationID, "subscriber", s.ID)
}

func (h *Hub) prune(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, f := range h.feeds {
		if !f.finished.IsZero() && len(f.subscribers) == 0 && now.Sub(f.finished) > h.retention {
			delete(h.feeds, id)
		}
	}
}
