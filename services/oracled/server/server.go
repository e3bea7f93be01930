// Package server hosts the read API and admin endpoints for oracled.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeoracle/native/oracle"
	"stakeoracle/observability"
	"stakeoracle/services/oracled/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	// AdminToken authenticates emergency-stop requests. An empty token
	// disables the admin surface entirely.
	AdminToken string
	// AdminIdentity is the identity admin requests act as; it must match
	// the engine's authority for toggles to succeed.
	AdminIdentity string
}

// Server exposes oracle reads, status, and the emergency-stop toggle.
type Server struct {
	cfg     Config
	engine  *oracle.Engine
	audit   *storage.Storage
	logger  *slog.Logger
	metrics *observability.OracleMetrics
}

// New constructs a server around the engine and audit store.
func New(cfg Config, engine *oracle.Engine, audit *storage.Storage, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, fmt.Errorf("listen address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		audit:   audit,
		logger:  logger,
		metrics: observability.Oracle(),
	}, nil
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/price/{asset}", s.handlePrice)
		r.Get("/apy/{asset}", s.handleAPY)
		r.Get("/assets/{asset}/audit", s.handleAudit)
		r.Post("/admin/emergency-stop", s.requireAdmin(s.handleEmergencyStop))
		r.Get("/admin/control-events", s.requireAdmin(s.handleControlEvents))
	})
	return otelhttp.NewHandler(r, "oracled")
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(s.cfg.AdminToken)
		if token == "" {
			writeError(w, http.StatusForbidden, "admin surface disabled")
			return
		}
		supplied := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	header, err := s.engine.Header()
	if err != nil {
		s.renderEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"emergency_stop":     header.EmergencyStop,
		"last_global_update": header.LastGlobalUpdate,
		"asset_count":        header.AssetCount,
	})
}

func (s *Server) assetParam(r *http.Request) (oracle.AssetKind, error) {
	return oracle.ParseAssetKind(chi.URLParam(r, "asset"))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assetParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	record, err := s.engine.AssetRecord(asset)
	if err != nil {
		s.renderEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":          asset.String(),
		"price":          record.Price,
		"previous_price": record.PreviousPrice,
		"updated_at":     record.LastUpdateTime,
	})
}

func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assetParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	record, err := s.engine.AssetRecord(asset)
	if err != nil {
		s.renderEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":      asset.String(),
		"apy":        record.APY,
		"updated_at": record.LastUpdateTime,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit journal disabled")
		return
	}
	asset, err := s.assetParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := s.audit.RecentUpdates(r.Context(), asset.String(), limit)
	if err != nil {
		s.logger.Error("audit query failed", "asset", asset.String(), "err", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleControlEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "control journal disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	events, err := s.audit.ControlEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("control event query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "control event query failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Stop   bool   `json:"stop"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.engine.SetEmergencyStop(s.cfg.AdminIdentity, payload.Stop); err != nil {
		s.renderEngineError(w, err)
		return
	}
	s.metrics.SetEmergencyStop(payload.Stop)
	if s.audit != nil {
		if err := s.audit.RecordControlEvent(r.Context(), payload.Stop, s.cfg.AdminIdentity, payload.Reason); err != nil {
			s.logger.Error("record control event failed", "err", err)
		}
	}
	s.logger.Info("emergency stop toggled", "stop", payload.Stop, "actor", s.cfg.AdminIdentity)
	writeJSON(w, http.StatusOK, map[string]interface{}{"emergency_stop": payload.Stop})
}

func (s *Server) renderEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oracle.ErrDataNotAvailable), errors.Is(err, oracle.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, oracle.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, oracle.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("engine call failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
