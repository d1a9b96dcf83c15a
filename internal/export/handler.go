// Package export renders stored documents to PNG, either inline as a
// preview or as a background job that reports over the progress feed.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/printdesk/editor/internal/canvas"
	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/progress"
	"github.com/printdesk/editor/internal/render"
	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/typeid"
)

const defaultJobTimeout = 2 * time.Minute

type Handler struct {
	docs    store.Loader
	images  canvas.ImageSource
	hub     *progress.Hub
	results *store.Cache
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewHandler creates an export handler. images may be nil, in which case
// image objects render as placeholders. Finished exports are kept in
// results until it expires them.
func NewHandler(docs store.Loader, images canvas.ImageSource, hub *progress.Hub, results *store.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		docs:    docs,
		images:  images,
		hub:     hub,
		results: results,
		logger:  logger,
		timeout: defaultJobTimeout,
	}
}

// Preview handles GET /documents/{docId}/preview.png.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]

	data, err := h.renderPNG(r.Context(), docID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	if err != nil {
		h.logger.Error("render preview", "doc", docID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render preview"})
		return
	}
	writePNG(w, data, "")
}

// StartResponse is returned when an export job is queued. Subscribers ask
// for a ticket on the operation and follow its progress feed.
type StartResponse struct {
	OperationID string `json:"operationId"`
	ResultURL   string `json:"resultUrl"`
}

// Start handles POST /documents/{docId}/exports.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	opID := typeid.NewOpID()

	if err := h.hub.Publish(progress.Update{OperationID: opID, Status: progress.StatusQueued}); err != nil {
		h.logger.Error("queue export", "doc", docID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to queue export"})
		return
	}

	h.wg.Add(1)
	go h.run(opID, docID)

	writeJSON(w, http.StatusAccepted, StartResponse{OperationID: opID, ResultURL: resultURL(opID)})
}

// Result handles GET /exports/{operationId}.png.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	opID := mux.Vars(r)["operationId"]

	data, freshness := h.results.Get(opID)
	if freshness != store.Miss {
		writePNG(w, data, opID+".png")
		return
	}
	if u, ok := h.hub.Last(opID); ok && !u.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "export still running"})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "export not found"})
}

// Wait blocks until every running export job has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// run renders one export job. It outlives the request that queued it.
func (h *Handler) run(opID, docID string) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	publish := func(status progress.Status, pct float64, msg string) {
		u := progress.Update{OperationID: opID, Status: status, Progress: pct, Message: msg}
		if err := h.hub.Publish(u); err != nil {
			h.logger.Warn("publish export progress", "op", opID, "error", err)
		}
	}

	start := time.Now()
	h.logger.Info("export started", "op", opID, "doc", docID)
	publish(progress.StatusRunning, 10, "loading document")

	data, err := h.renderPNG(ctx, docID, func() {
		publish(progress.StatusRunning, 50, "rendering")
	})
	if err != nil {
		h.logger.Error("export failed", "op", opID, "doc", docID, "error", err)
		publish(progress.StatusError, 0, err.Error())
		return
	}

	h.results.Set(opID, data)
	publish(progress.StatusCompleted, 100, resultURL(opID))
	h.logger.Info("export complete", "op", opID, "size", len(data), "elapsed", time.Since(start))
}

// renderPNG loads docID and rasterizes it at canvas size. loaded runs
// between loading and rendering.
func (h *Handler) renderPNG(ctx context.Context, docID string, loaded ...func()) ([]byte, error) {
	raw, err := h.docs.Load(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	scene, err := document.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", docID, err)
	}
	for _, fn := range loaded {
		fn()
	}

	r := canvas.NewRaster(scene.Canvas.Width, scene.Canvas.Height)
	defer r.Close()
	if h.images != nil {
		r.SetImages(h.images)
	}
	if err := r.Draw(scene.Canvas.Background, render.Compile(scene, render.Overlay{})); err != nil {
		return nil, fmt.Errorf("draw document %s: %w", docID, err)
	}
	var buf bytes.Buffer
	if err := r.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resultURL(opID string) string {
	return "/exports/" + opID + ".png"
}

func writePNG(w http.ResponseWriter, data []byte, filename string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
