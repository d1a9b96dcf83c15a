package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/printdesk/editor/internal/asset"
	"github.com/printdesk/editor/internal/autosave"
	"github.com/printdesk/editor/internal/config"
	"github.com/printdesk/editor/internal/documents"
	"github.com/printdesk/editor/internal/engine"
	"github.com/printdesk/editor/internal/export"
	"github.com/printdesk/editor/internal/geometry"
	mw "github.com/printdesk/editor/internal/middleware"
	"github.com/printdesk/editor/internal/progress"
	"github.com/printdesk/editor/internal/render"
	"github.com/printdesk/editor/internal/store"
	"github.com/printdesk/editor/internal/store/postgres"
	"github.com/printdesk/editor/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("EDITOR_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	docs := store.NewCached(backend, store.NewCache(store.CacheOptions{
		StaleAfter:  cfg.CacheStaleAfter,
		ExpireAfter: cfg.CacheExpireAfter,
		Capacity:    cfg.CacheCapacity,
	}), slog.Default())

	hub := progress.NewHub(slog.Default())
	go hub.Run(ctx)
	tickets := progress.NewTickets(cfg.TicketSecret, cfg.TicketTTL)
	progressHandler := progress.NewHandler(hub, tickets, cfg.Origins())

	assets, err := asset.NewLibrary(cfg.AssetDir, 0, slog.Default())
	if err != nil {
		slog.Error("open asset library", "error", err)
		os.Exit(1)
	}
	assetHandler := asset.NewHandler(assets)

	results := store.NewCache(store.CacheOptions{
		StaleAfter:  cfg.ExportRetention,
		ExpireAfter: cfg.ExportRetention,
	})
	exportHandler := export.NewHandler(docs, assets, hub, results, slog.Default())

	// Sessions opened over HTTP have no display, so frames are never
	// delivered and nothing is painted.
	sessionDeps := func(docID string) engine.Deps {
		return engine.Deps{
			HistoryDepth: cfg.HistoryDepth,
			Autosave: autosave.Options{
				Debounce:    cfg.AutosaveDebounce,
				Interval:    cfg.AutosaveInterval,
				SaveTimeout: cfg.SaveTimeout,
			},
			Frames: &render.ManualFrames{},
			Assist: geometry.Assist{
				Grid:       geometry.Grid{Size: cfg.GridSize, Snap: cfg.GridSnap, Visible: cfg.GridVisible},
				Guides:     true,
				Tolerance:  cfg.GuideTolerance,
				Precedence: geometry.Precedence(cfg.GuidePrecedence),
			},
		}
	}
	registry := documents.NewRegistry(docs, sessionDeps, documents.DefaultIdle, slog.Default())
	go registry.Run(ctx)
	documentHandler := documents.NewHandler(docs, registry)

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.Origins()))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Documents
	r.HandleFunc("/documents", documentHandler.Create).Methods("POST", "OPTIONS")
	r.HandleFunc("/documents/{docId}", documentHandler.Get).Methods("GET")
	r.HandleFunc("/documents/{docId}", documentHandler.Put).Methods("PUT", "OPTIONS")
	r.HandleFunc("/documents/{docId}/operations", documentHandler.Apply).Methods("POST", "OPTIONS")
	r.HandleFunc("/documents/{docId}/undo", documentHandler.Undo).Methods("POST", "OPTIONS")
	r.HandleFunc("/documents/{docId}/redo", documentHandler.Redo).Methods("POST", "OPTIONS")
	r.HandleFunc("/documents/{docId}/status", documentHandler.Status).Methods("GET")
	r.HandleFunc("/documents/{docId}/session", documentHandler.Close).Methods("DELETE", "OPTIONS")

	// Rendering
	r.HandleFunc("/documents/{docId}/preview.png", exportHandler.Preview).Methods("GET")
	r.HandleFunc("/documents/{docId}/exports", exportHandler.Start).Methods("POST", "OPTIONS")
	r.HandleFunc("/exports/{operationId:[a-z0-9_]+}.png", exportHandler.Result).Methods("GET")

	// Progress feed
	r.HandleFunc("/progress/{operationId}/tickets", progressHandler.IssueTicket).Methods("POST", "OPTIONS")
	r.HandleFunc("/ws/progress/{operationId}", progressHandler.Subscribe)

	// Assets
	r.HandleFunc("/assets/upload", assetHandler.Upload).Methods("POST", "OPTIONS")
	r.PathPrefix(asset.URLPrefix).Handler(assetHandler.Serve()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		// Close sessions first so unsaved edits reach the store
		slog.Info("saving open documents...")
		if err := registry.CloseAll(shutdownCtx); err != nil {
			slog.Error("save on shutdown", "error", err)
		}
		srv.Shutdown(shutdownCtx)
		exportHandler.Wait()
		docs.Wait()
	}()

	slog.Info("server starting", "addr", addr, "store", cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		slog.Warn("using in-memory store; documents are lost on exit")
		return store.NewMemory(), func() {}, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
