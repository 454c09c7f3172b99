// Package web serves a small read-only view of the agent: health, current
// status and the recent attempt ledger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/agent"
	"github.com/example/court-scheduler/internal/attempts"
	"github.com/example/court-scheduler/internal/db"
)

type StatusSource interface {
	Status() agent.Status
}

type AttemptStore interface {
	List(ctx context.Context, limit int) ([]attempts.Record, error)
	Get(ctx context.Context, id string) (attempts.Record, error)
}

type Server struct {
	Status StatusSource
	// Attempts is optional; without it the ledger routes return 404.
	Attempts AttemptStore
	Log      *zap.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", s.handleStatus)

	if s.Attempts != nil {
		r.Route("/attempts", func(r chi.Router) {
			r.Get("/", s.handleAttempts)
			r.Get("/{id}", s.handleAttempt)
		})
	}
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status.Status())
}

type attemptView struct {
	ID         string    `json:"id"`
	Outcome    string    `json:"outcome"`
	TargetDate *string   `json:"target_date,omitempty"`
	TargetTime *string   `json:"target_time,omitempty"`
	Court      *string   `json:"court,omitempty"`
	Detail     string    `json:"detail"`
	FiredAt    time.Time `json:"fired_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func view(rec attempts.Record) attemptView {
	v := attemptView{
		ID:         rec.ID,
		Outcome:    string(rec.Outcome),
		TargetTime: rec.TargetTime,
		Court:      rec.Court,
		Detail:     rec.Detail,
		FiredAt:    rec.FiredAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.TargetDate != nil {
		d := rec.TargetDate.Format(time.DateOnly)
		v.TargetDate = &d
	}
	return v
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..500"})
			return
		}
		limit = n
	}

	recs, err := s.Attempts.List(r.Context(), limit)
	if err != nil {
		s.Log.Error("list attempts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	out := make([]attemptView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, view(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such attempt"})
		return
	}
	rec, err := s.Attempts.Get(r.Context(), id.String())
	if db.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such attempt"})
		return
	}
	if err != nil {
		s.Log.Error("get attempt", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, view(rec))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Log.Info("status server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
