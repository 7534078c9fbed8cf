// Package server exposes the scoring service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auditrisk/internal/features"
	"auditrisk/internal/logger"
	"auditrisk/internal/metrics"
	"auditrisk/internal/model"
	"auditrisk/internal/scoring"
)

const maxBodyBytes = 1 << 20

var log = logger.Named("server")

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewHandler routes the scoring, health and metrics endpoints.
func NewHandler(svc *scoring.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Post("/predict_risk", predictRisk(svc))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !svc.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Message: "model not loaded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func predictRisk(svc *scoring.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := features.DecodeRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			metrics.ScoreRequestsTotal.WithLabelValues("bad_request").Inc()
			writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
			return
		}

		resp, err := svc.Score(r.Context(), req)
		switch {
		case err == nil:
			metrics.ScoreRequestsTotal.WithLabelValues("success").Inc()
			writeJSON(w, http.StatusOK, resp)
		case errors.Is(err, model.ErrModelUnavailable):
			metrics.ScoreRequestsTotal.WithLabelValues("unavailable").Inc()
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Status: "error", Message: "Model not loaded"})
		case errors.Is(err, features.ErrExtraction):
			metrics.ScoreRequestsTotal.WithLabelValues("bad_request").Inc()
			writeJSON(w, http.StatusBadRequest, errorBody{Status: "error", Message: err.Error()})
		default:
			metrics.ScoreRequestsTotal.WithLabelValues("error").Inc()
			log.Warnf("score request %s failed: %v", chimw.GetReqID(r.Context()), err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Status: "error", Message: err.Error()})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the HTTP listener around the handler.
type Server struct {
	srv *http.Server
}

// New creates a server bound to addr.
func New(addr string, svc *scoring.Service) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewHandler(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Infof("server stopped")
		return nil
	}
}
