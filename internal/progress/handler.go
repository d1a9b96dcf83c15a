package progress

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handler serves the progress feed routes:
//
//	POST /progress/{operationId}/tickets
//	GET  /ws/progress/{operationId}?ticket=...
type Handler struct {
	hub            *Hub
	tickets        *Tickets
	originPatterns []string
}

func NewHandler(hub *Hub, tickets *Tickets, originPatterns []string) *Handler {
	return &Handler{hub: hub, tickets: tickets, originPatterns: originPatterns}
}

func (h *Handler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	operationID := mux.Vars(r)["operationId"]
	if _, ok := h.hub.Last(operationID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "operation not found"})
		return
	}

	ticket, err := h.tickets.Issue(operationID)
	if err != nil {
		slog.Error("issue ticket failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ticket": ticket})
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	operationID := mux.Vars(r)["operationId"]

	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		http.Error(w, "missing ticket", http.StatusUnauthorized)
		return
	}
	if err := h.tickets.Validate(ticket, operationID); err != nil {
		if errors.Is(err, ErrInvalidTicket) {
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	s := NewSubscriber(h.hub, conn, uuid.New().String(), operationID)
	h.hub.Register(s)

	ctx := r.Context()
	go s.WritePump(ctx)
	s.ReadPump(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
