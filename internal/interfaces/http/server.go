// Package http is the engine's HTTP surface: websocket upgrade for the
// subscription manager, one-shot REST fetches, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
	"github.com/kiarashplusplus/fiml/internal/stream"
)

// Server wires the router over the engine, registry and subscription
// manager.
type Server struct {
	httpServer *http.Server
	engine     *arbiter.Engine
	registry   *provider.Registry
	manager    *stream.Manager

	userRegion          string
	maxStalenessSeconds float64
}

// NewServer builds the HTTP server on addr.
func NewServer(addr string, engine *arbiter.Engine, registry *provider.Registry, manager *stream.Manager, userRegion string, maxStalenessSeconds float64) *Server {
	s := &Server{
		engine:              engine,
		registry:            registry,
		manager:             manager,
		userRegion:          userRegion,
		maxStalenessSeconds: maxStalenessSeconds,
	}

	r := mux.NewRouter()
	r.Handle("/ws", manager)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/api/v1/{dataType}/{symbol}", s.handleFetch).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.registry.Health()
	healthy := false
	for _, h := range health {
		if h.Healthy {
			healthy = true
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":    statusWord(healthy),
		"providers": health,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name       string                `json:"name"`
		Enabled    bool                  `json:"enabled"`
		InCooldown bool                  `json:"in_cooldown"`
		Health     market.ProviderHealth `json:"health"`
	}

	var out []entry
	for _, a := range s.registry.All() {
		out = append(out, entry{
			Name:       a.Name(),
			Enabled:    a.Config().Enabled,
			InCooldown: a.InCooldown(),
			Health:     a.Health(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleFetch runs one arbitrate-then-execute cycle for a single asset.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dt := market.DataType(vars["dataType"])
	if !dt.Valid() || !dt.Fetchable() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown or unfetchable data type: " + vars["dataType"],
		})
		return
	}

	q := r.URL.Query()
	kind := market.AssetKind(q.Get("kind"))
	if kind == "" {
		kind = market.KindEquity
	}
	mkt := market.Market(q.Get("market"))
	if mkt == "" {
		mkt = market.MarketUS
	}

	asset, err := market.NewAsset(vars["symbol"], kind, mkt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	opts := arbiter.FetchOptions{Timeframe: q.Get("timeframe")}
	if limit := q.Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}

	plan, err := s.engine.Arbitrate(r.Context(), asset, dt, s.userRegion, s.maxStalenessSeconds)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	resp, err := s.engine.Execute(r.Context(), plan, asset, dt, opts)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plan":     plan,
		"response": resp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Encoding HTTP response")
	}
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
