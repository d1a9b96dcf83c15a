package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func newTestServer(t *testing.T) (*Hub, *Tickets, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	tickets := NewTickets("test-secret", time.Minute)
	h := NewHandler(hub, tickets, nil)
	r := mux.NewRouter()
	r.HandleFunc("/progress/{operationId}/tickets", h.IssueTicket).Methods("POST")
	r.HandleFunc("/ws/progress/{operationId}", h.Subscribe)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, tickets, srv
}

func feedURL(srv *httptest.Server, operationID, ticket string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress/" + operationID + "?ticket=" + ticket
}

func TestTicketScopesOperation(t *testing.T) {
	tickets := NewTickets("secret", time.Minute)
	ticket, err := tickets.Issue("op_a")
	if err != nil {
		t.Fatal(err)
	}
	if err := tickets.Validate(ticket, "op_a"); err != nil {
		t.Errorf("expected valid ticket, got %v", err)
	}
	if err := tickets.Validate(ticket, "op_b"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket for another operation, got %v", err)
	}
	if err := NewTickets("other", time.Minute).Validate(ticket, "op_a"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket for wrong secret, got %v", err)
	}
}

func TestTicketExpires(t *testing.T) {
	tickets := NewTickets("secret", time.Minute)
	tickets.now = func() time.Time { return time.Now().Add(-time.Hour) }
	ticket, err := tickets.Issue("op_a")
	if err != nil {
		t.Fatal(err)
	}
	tickets.now = time.Now
	if err := tickets.Validate(ticket, "op_a"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected expired ticket rejected, got %v", err)
	}
}

func TestPublishValidates(t *testing.T) {
	hub := NewHub(nil)
	if err := hub.Publish(Update{Status: StatusRunning}); err == nil {
		t.Error("expected missing operation id rejected")
	}
	if err := hub.Publish(Update{OperationID: "op_a", Status: "paused"}); err == nil {
		t.Error("expected unknown status rejected")
	}
	if err := hub.Publish(Update{OperationID: "op_a", Status: StatusRunning, Progress: 250}); err != nil {
		t.Fatal(err)
	}
	if u, _ := hub.Last("op_a"); u.Progress != 100 {
		t.Errorf("expected progress clamped to 100, got %v", u.Progress)
	}
	if err := hub.Publish(Update{OperationID: "op_a", Status: StatusCompleted, Progress: 100}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Publish(Update{OperationID: "op_a", Status: StatusRunning}); err == nil {
		t.Error("expected updates after completion rejected")
	}
}

func TestWatchFollowsFeedUntilCompleted(t *testing.T) {
	hub, tickets, srv := newTestServer(t)
	if err := hub.Publish(Update{OperationID: "op_a", Status: StatusRunning, Progress: 10}); err != nil {
		t.Fatal(err)
	}
	ticket, err := tickets.Issue("op_a")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []float64
	final, err := Watch(ctx, feedURL(srv, "op_a", ticket), func(u Update) {
		seen = append(seen, u.Progress)
		if u.Progress == 10 {
			// The subscriber is registered once it has the current state.
			hub.Publish(Update{OperationID: "op_a", Status: StatusRunning, Progress: 60})
			hub.Publish(Update{OperationID: "op_a", Status: StatusCompleted, Progress: 100, Message: "done"})
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted || final.Message != "done" {
		t.Errorf("unexpected final update %+v", final)
	}
	if len(seen) != 3 || seen[0] != 10 || seen[1] != 60 || seen[2] != 100 {
		t.Errorf("expected 10, 60, 100; got %v", seen)
	}
}

func TestWatchReportsFailure(t *testing.T) {
	hub, tickets, srv := newTestServer(t)
	hub.Publish(Update{OperationID: "op_b", Status: StatusError, Message: "render failed"})
	ticket, _ := tickets.Issue("op_b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := Watch(ctx, feedURL(srv, "op_b", ticket), nil)
	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("expected ErrOperationFailed, got %v", err)
	}
	if final.Message != "render failed" {
		t.Errorf("unexpected final update %+v", final)
	}
}

func TestSubscribeRejectsBadTicket(t *testing.T) {
	hub, tickets, srv := newTestServer(t)
	hub.Publish(Update{OperationID: "op_a", Status: StatusQueued})
	ticket, _ := tickets.Issue("op_other")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Watch(ctx, feedURL(srv, "op_a", ticket), nil); err == nil {
		t.Fatal("expected dial to fail")
	}

	resp, err := http.Get(srv.URL + "/ws/progress/op_a")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without ticket, got %d", resp.StatusCode)
	}
}

func TestIssueTicketEndpoint(t *testing.T) {
	hub, tickets, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/progress/op_missing/tickets", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown operation, got %d", resp.StatusCode)
	}

	hub.Publish(Update{OperationID: "op_a", Status: StatusQueued})
	resp, err = http.Post(srv.URL+"/progress/op_a/tickets", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if err := tickets.Validate(body["ticket"], "op_a"); err != nil {
		t.Errorf("issued ticket does not validate: %v", err)
	}
}

func TestUpdateTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusError, true},
	}
	for _, tt := range tests {
		if got := (Update{Status: tt.status}).Terminal(); got != tt.want {
			t.Errorf("%s: Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestFullOutboxStillDeliversTerminalUpdate(t *testing.T) {
	s := NewSubscriber(nil, nil, "sub", "op_a")
	for i := 0; i < cap(s.outbox); i++ {
		s.send([]byte("running"), false)
	}
	s.send([]byte("dropped"), false)
	s.send([]byte("completed"), true)

	var last message
	n := 0
	for len(s.outbox) > 0 {
		last = <-s.outbox
		n++
		if string(last.data) == "dropped" {
			t.Error("non-terminal update was queued past capacity")
		}
	}
	if n != cap(s.outbox) {
		t.Errorf("expected %d queued updates, got %d", cap(s.outbox), n)
	}
	if !last.terminal || string(last.data) != "completed" {
		t.Errorf("expected the terminal update last, got %q (terminal=%v)", last.data, last.terminal)
	}
}

func TestStoppedSubscriberIgnoresUpdates(t *testing.T) {
	s := NewSubscriber(nil, nil, "sub", "op_a")
	s.stop()
	s.send([]byte("completed"), true)
	if len(s.outbox) != 0 {
		t.Errorf("expected nothing queued after stop, got %d", len(s.outbox))
	}
}
