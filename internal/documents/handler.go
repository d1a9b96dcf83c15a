package documents

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/engine"
	"github.com/printdesk/editor/internal/history"
	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/typeid"
)

const maxDocumentSize = 4 << 20 // 4MB

type Handler struct {
	store    store.Store
	registry *Registry
}

func NewHandler(s store.Store, registry *Registry) *Handler {
	return &Handler{store: s, registry: registry}
}

type createRequest struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

type createResponse struct {
	ID string `json:"id"`
}

type operationsRequest struct {
	Operations []document.Operation `json:"operations"`
}

// Create handles POST /documents. The template is "blank" (default) or
// "sample".
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	docID := typeid.NewDocumentID()
	var scene *document.Scene
	switch req.Template {
	case "", "blank":
		scene = document.NewBlankScene(docID)
	case "sample":
		scene = document.NewSampleScene(docID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown template"})
		return
	}
	if req.Name != "" {
		scene.Name = req.Name
	}

	data, err := scene.Encode()
	if err == nil {
		err = h.store.Save(r.Context(), docID, data)
	}
	if err != nil {
		slog.Error("create document failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: docID})
}

// Get handles GET /documents/{docId}. An open session serves its live
// scene.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	var data []byte
	var err error
	if s, ok := h.registry.Lookup(docID); ok {
		data, err = s.Scene().Encode()
	} else {
		data, err = h.store.Load(r.Context(), docID)
	}
	if err != nil {
		handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Put handles PUT /documents/{docId}: a client that edits locally saves a
// whole new version.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	if _, ok := h.registry.Lookup(docID); ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "document is open in a server session"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentSize))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "document too large"})
		return
	}
	scene, err := document.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	data, err := scene.Encode()
	if err == nil {
		err = h.store.Save(r.Context(), docID, data)
	}
	if err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Apply handles POST /documents/{docId}/operations. The batch commits as
// one edit.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	var req operationsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	s, err := h.registry.Acquire(r.Context(), docID)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := s.Apply(req.Operations...); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// Undo handles POST /documents/{docId}/undo.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*engine.Session).Undo)
}

// Redo handles POST /documents/{docId}/redo.
func (h *Handler) Redo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*engine.Session).Redo)
}

func (h *Handler) step(w http.ResponseWriter, r *http.Request, move func(*engine.Session) error) {
	s, err := h.registry.Acquire(r.Context(), mux.Vars(r)["docId"])
	if err != nil {
		handleError(w, err)
		return
	}
	if err := move(s); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// Status handles GET /documents/{docId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Lookup(mux.Vars(r)["docId"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open session"})
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// Close handles DELETE /documents/{docId}/session: the session saves and
// detaches.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Release(r.Context(), mux.Vars(r)["docId"]); err != nil {
		slog.Error("close session failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "final save failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
	case errors.Is(err, history.ErrNothingToUndo), errors.Is(err, history.ErrNothingToRedo):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, document.ErrObjectNotFound),
		errors.Is(err, document.ErrInvalidOperation),
		errors.Is(err, document.ErrDuplicateID),
		errors.Is(err, document.ErrInvalidScene):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrRegistryClosed), errors.Is(err, engine.ErrSessionClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
	default:
		slog.Error("document request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
