package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkloft/linkloft/internal/model"
	"github.com/linkloft/linkloft/internal/schedule"
	"github.com/linkloft/linkloft/internal/store"
)

var servePort int

// enrichService is the slice of the enricher the HTTP surface needs.
type enrichService interface {
	EnrichByID(ctx context.Context, id string) (model.EnrichmentOutcome, error)
	CreateAndEnrich(ctx context.Context, userID, rawURL string) (model.EnrichmentOutcome, error)
}

// runService is the slice of the scheduler the HTTP surface needs.
type runService interface {
	RunOnce(ctx context.Context) (*model.BatchSummary, error)
	Snapshot() schedule.Snapshot
}

func newRouter(st store.Store, enricher enrichService, sched runService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, sched.Snapshot())
	})

	r.Post("/links", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL    string `json:"url"`
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}

		out, err := enricher.CreateAndEnrich(req.Context(), body.UserID, body.URL)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, out)
	})

	r.Post("/links/{id}/enrich", func(w http.ResponseWriter, req *http.Request) {
		out, err := enricher.EnrichByID(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		// The run outlives the request; progress shows up under /status.
		go func() {
			if _, err := sched.RunOnce(context.WithoutCancel(req.Context())); err != nil {
				zap.L().Error("triggered run failed", zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API alongside the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		enricher, err := initEnricher(st)
		if err != nil {
			return err
		}
		sched := newScheduler(st, enricher)
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Error("scheduler stopped", zap.Error(err))
			}
		}()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st, enricher, sched),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
