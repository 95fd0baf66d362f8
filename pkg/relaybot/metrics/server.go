package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// HealthFunc reports the current per-channel health.
type HealthFunc func() map[string]channels.HealthStatus

// HealthReport is the JSON body served on /health.
type HealthReport struct {
	Status   string                   `json:"status"`
	Uptime   string                   `json:"uptime"`
	Channels map[string]ChannelReport `json:"channels,omitempty"`
}

// ChannelReport is one channel's entry in HealthReport.
type ChannelReport struct {
	Connected     bool      `json:"connected"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	ErrorCount    int       `json:"error_count"`
}

// Server exposes /metrics and /health over HTTP.
type Server struct {
	server  *http.Server
	metrics *Metrics
	health  HealthFunc
	logger  *slog.Logger
}

// NewServer creates the observability HTTP server listening on addr.
func NewServer(addr string, m *Metrics, health HealthFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		metrics: m,
		health:  health,
		logger:  logger.With("component", "metrics"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Report builds the current health report. Status is "healthy" when every
// channel is connected, "degraded" when some are, "unhealthy" when none are.
func (s *Server) Report() HealthReport {
	report := HealthReport{
		Status: "healthy",
		Uptime: time.Since(s.metrics.StartTime).Truncate(time.Second).String(),
	}
	if s.health == nil {
		return report
	}

	statuses := s.health()
	if len(statuses) == 0 {
		return report
	}
	report.Channels = make(map[string]ChannelReport, len(statuses))
	connected := 0
	for name, st := range statuses {
		report.Channels[name] = ChannelReport{
			Connected:     st.Connected,
			LastMessageAt: st.LastMessageAt,
			ErrorCount:    st.ErrorCount,
		}
		if st.Connected {
			connected++
		}
	}
	switch {
	case connected == 0:
		report.Status = "unhealthy"
	case connected < len(statuses):
		report.Status = "degraded"
	}
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Report()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Warn("failed to write health report", "error", err)
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("observability server started",
		"metrics", fmt.Sprintf("http://%s/metrics", ln.Addr()),
		"health", fmt.Sprintf("http://%s/health", ln.Addr()),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
