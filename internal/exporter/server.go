// Package exporter serves the telemetry snapshot over HTTP: a JSON API,
// Prometheus metrics and a WebSocket push stream.
package exporter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/format"
	"codeberg.org/mutker/amdgpumon/internal/logger"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const EventSnapshot = "snapshot"

// SnapshotSource is satisfied by both the poller and the telemetry store.
type SnapshotSource interface {
	Snapshot() telemetry.Snapshot
	Subscribe(fn func(telemetry.Snapshot)) (unsubscribe func())
}

// Display holds the formatted labels a panel would show.
type Display struct {
	Power       string `json:"power"`
	Temperature string `json:"temperature"`
	Memory      string `json:"memory"`
	Clock       string `json:"clock"`
	Band        string `json:"band,omitempty"`
	StyleClass  string `json:"style_class,omitempty"`
}

// SnapshotResponse is the raw snapshot plus its display labels.
type SnapshotResponse struct {
	telemetry.Snapshot
	Display Display `json:"display"`
}

// Event is one WebSocket message.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func NewSnapshotResponse(snap telemetry.Snapshot) SnapshotResponse {
	d := Display{
		Power:       format.Power(snap),
		Temperature: format.Temperature(snap),
		Memory:      format.Memory(snap),
		Clock:       format.Clock(snap),
	}
	if band, ok := format.SnapshotBand(snap); ok {
		d.Band = string(band)
		d.StyleClass = band.StyleClass()
	}

	return SnapshotResponse{Snapshot: snap, Display: d}
}

// Server exposes /healthz, /snapshot, /metrics and /ws.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	source     SnapshotSource
	metrics    *Metrics
	hub        *Hub
	logger     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	listener    net.Listener
	unsubscribe func()
	hubDone     chan struct{}
}

func New(addr string, source SnapshotSource, metrics *Metrics, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:  gin.New(),
		source:  source,
		metrics: metrics,
		hub:     NewHub(log, metrics),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.engine.Use(gin.Recovery(), s.loggerMiddleware())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/snapshot", s.handleSnapshot)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens, starts the WebSocket hub and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.New().Wrap(ErrListenFailed, err)
	}
	s.listener = ln

	s.hubDone = make(chan struct{})
	go func() {
		defer close(s.hubDone)
		s.hub.Run(s.ctx)
	}()

	s.unsubscribe = s.source.Subscribe(s.publish)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP exporter listening")

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return s.httpServer.Addr
	}

	return s.listener.Addr().String()
}

// Stop unsubscribes from the source, shuts the HTTP server down and closes
// every WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}

	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	if s.hubDone != nil {
		<-s.hubDone
	}

	if err != nil {
		return errors.New().Wrap(ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) publish(snap telemetry.Snapshot) {
	msg, err := encodeEvent(snap)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode snapshot event")
		return
	}
	s.hub.Publish(msg)
}

func encodeEvent(snap telemetry.Snapshot) ([]byte, error) {
	return json.Marshal(Event{
		Type:      EventSnapshot,
		Data:      NewSnapshotResponse(snap),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	snap := s.source.Snapshot()

	sources := make(map[string]bool, len(snap.Sources))
	healthy := 0
	for id, st := range snap.Sources {
		sources[id] = st.Healthy()
		if st.Healthy() {
			healthy++
		}
	}

	if len(snap.Sources) > 0 && healthy == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "sources": sources})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "sources": sources})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, NewSnapshotResponse(s.source.Snapshot()))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	initial, err := encodeEvent(s.source.Snapshot())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.hub.serve(s.ctx, c.Writer, c.Request, initial); err != nil {
		s.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
	}
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		ev := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
