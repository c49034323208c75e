package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// ConnRef 外部连接状态
type ConnRef interface {
	IsConnected() bool
}

// StatsRef 组件统计
type StatsRef interface {
	Stats() map[string]any
}

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr      string
	conns     map[string]ConnRef
	stats     map[string]StatsRef
	server    *http.Server
	mu        sync.RWMutex
	healthy   bool
	startTime time.Time
}

func NewHealthServer(addr string) *HealthServer {
	return &HealthServer{
		addr:      addr,
		conns:     make(map[string]ConnRef),
		stats:     make(map[string]StatsRef),
		healthy:   true,
		startTime: time.Now(),
	}
}

// WithConn 注册参与就绪检查的连接，需在 Start 前调用
func (h *HealthServer) WithConn(name string, c ConnRef) *HealthServer {
	h.conns[name] = c
	return h
}

// WithStats 注册 /status 中展示的组件
func (h *HealthServer) WithStats(name string, s StatsRef) *HealthServer {
	h.stats[name] = s
	return h
}

func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", h.statusHandler)
	return mux
}

func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")
	return nil
}

func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy     bool                      `json:"healthy"`
	Uptime      string                    `json:"uptime"`
	Connections map[string]bool           `json:"connections"`
	Components  map[string]map[string]any `json:"components,omitempty"`
}

func (h *HealthServer) status(withStats bool) HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	st := HealthStatus{
		Healthy:     healthy,
		Uptime:      time.Since(h.startTime).Truncate(time.Second).String(),
		Connections: make(map[string]bool, len(h.conns)),
	}
	for name, c := range h.conns {
		st.Connections[name] = c.IsConnected()
	}
	if withStats {
		st.Components = make(map[string]map[string]any, len(h.stats))
		for name, s := range h.stats {
			st.Components[name] = s.Stats()
		}
	}
	return st
}

func (h *HealthServer) ready() bool {
	st := h.status(false)
	if !st.Healthy {
		return false
	}
	for _, ok := range st.Connections {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, _ *http.Request) {
	st := h.status(false)
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (h *HealthServer) readyHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status(true))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("write health response failed")
	}
}
