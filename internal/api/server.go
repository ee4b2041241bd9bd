// Package api serves the rig over a JSON HTTP API for dashboards and
// scripts. Commands map onto the rig's command surface one to one; the
// snapshot endpoint returns everything a view renders in one poll.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nvandessel/fluidrig/internal/rig"
)

// Config holds server-specific configuration.
type Config struct {
	Addr string
}

// maxUploadBytes caps multipart uploads.
const maxUploadBytes = 16 << 20

// Handler serves the API for one rig.
type Handler struct {
	rig    *rig.Rig
	logger *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(rg *rig.Rig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{rig: rg, logger: logger}
}

// NewRouter builds the chi router with middleware and every route.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}

// RegisterRoutes mounts the API routes on r.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/snapshot", h.Snapshot)
	r.Get("/log", h.Log)

	r.Get("/devices", h.Devices)
	r.Get("/devices/{id}", h.Device)
	r.Post("/devices/{id}/start", h.StartDevice)
	r.Post("/devices/{id}/stop", h.StopDevice)
	r.Put("/devices/{id}/params", h.SetDeviceParams)
	r.Put("/devices/{id}/spectra", h.SetSpectra)
	r.Put("/devices/{id}/camera", h.SetCamera)

	r.Get("/valves", h.Valves)
	r.Post("/valves/{id}/toggle", h.ToggleValve)

	r.Get("/experiment", h.Experiment)
	r.Get("/experiment/phases", h.Phases)
	r.Post("/experiment/begin", h.BeginExperiment)

	r.Get("/emergency", h.Emergency)
	r.Post("/emergency/trigger", h.EmergencyTrigger)
	r.Post("/emergency/resolve", h.EmergencyResolve)

	r.Route("/affinity", func(r chi.Router) {
		r.Get("/records", h.AffinityRecords)
		r.Get("/ranking", h.AffinityRanking)
		r.Get("/groups", h.AffinityGroups)
		r.Post("/upload", h.UploadCSV)
		r.Delete("/", h.ClearAffinityData)
		r.Get("/chart/ranking", h.RankingChart)
		r.Get("/chart/curves", h.CurveChart)
	})

	r.Get("/kd", h.LastKD)
	r.Post("/kd", h.UploadKD)
}

// NewHTTPServer wraps the router in an http.Server.
func NewHTTPServer(cfg Config, h *Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"took", time.Since(start))
		})
	}
}
