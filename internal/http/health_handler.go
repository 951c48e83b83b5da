package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"caen-hv-bridge/internal/logger"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status             string         `json:"status"`               // "healthy", "degraded", "unhealthy"
	Timestamp          time.Time      `json:"timestamp"`            // Current timestamp
	Uptime             string         `json:"uptime"`               // Application uptime
	DeviceOnline       bool           `json:"device_online"`        // Health monitor verdict
	LastSuccessfulTick string         `json:"last_successful_tick"` // Time since the device last answered
	LastError          string         `json:"last_error,omitempty"` // Time since the last failed tick
	ErrorCount         int64          `json:"error_count"`          // Failed ticks
	SuccessCount       int64          `json:"success_count"`        // Answered ticks
	Sampler            *SamplerStatus `json:"sampler,omitempty"`
	Version            string         `json:"version,omitempty"`
}

// SamplerStatus describes the sampling loop.
type SamplerStatus struct {
	Running       bool    `json:"running"`
	Channel       int     `json:"channel"`
	PeriodSeconds float64 `json:"period_seconds"`
}

// HealthChecker interface for providing health information
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetLastErrorTime() time.Time
	GetErrorCount() int64
	GetSuccessCount() int64
}

// SamplerInfo is optionally reported by /health.
type SamplerInfo interface {
	Running() bool
	Channel() int
	Period() time.Duration
}

// HealthHandler provides HTTP health check endpoint
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	sampler       SamplerInfo
	version       string
}

// NewHealthHandler creates a new health check handler. sampler may be nil.
func NewHealthHandler(healthChecker HealthChecker, sampler SamplerInfo, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		sampler:       sampler,
		version:       version,
	}
}

// ServeHTTP implements http.Handler interface for /health endpoint
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hh.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")

	// degraded still answers 200
	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		logger.LogError("Failed to encode health status: %v", err)
	}
}

// getHealthStatus determines current health status
func (hh *HealthHandler) getHealthStatus() HealthStatus {
	now := time.Now()

	isOnline := hh.healthChecker.IsOnline()
	lastSuccess := hh.healthChecker.GetLastSuccessTime()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	lastTick := "never"
	if !lastSuccess.IsZero() {
		lastTick = ago(now.Sub(lastSuccess))
	}
	var lastError string
	if t := hh.healthChecker.GetLastErrorTime(); !t.IsZero() {
		lastError = ago(now.Sub(t))
	}

	status := HealthStatus{
		Status:             classify(isOnline, errorCount, successCount),
		Timestamp:          now,
		Uptime:             formatDuration(now.Sub(hh.startTime)),
		DeviceOnline:       isOnline,
		LastSuccessfulTick: lastTick,
		LastError:          lastError,
		ErrorCount:         errorCount,
		SuccessCount:       successCount,
		Version:            hh.version,
	}
	if hh.sampler != nil {
		status.Sampler = &SamplerStatus{
			Running:       hh.sampler.Running(),
			Channel:       hh.sampler.Channel(),
			PeriodSeconds: hh.sampler.Period().Seconds(),
		}
	}
	return status
}

func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
}

// classify maps the error rate to a status: above 50% unhealthy, above 20% degraded.
func classify(online bool, errorCount, successCount int64) string {
	if !online {
		return "unhealthy"
	}
	total := errorCount + successCount
	if errorCount == 0 || total == 0 {
		return "healthy"
	}
	errorRate := float64(errorCount) / float64(total) * 100.0
	switch {
	case errorRate > 50.0:
		return "unhealthy"
	case errorRate > 20.0:
		return "degraded"
	default:
		return "healthy"
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}

const indexPage = `<html>
<head><title>CAEN HV Bridge</title></head>
<body>
<h1>CAEN HV Bridge</h1>
<ul>
<li><a href="/health">Health Check</a></li>
<li><a href="/metrics">Metrics</a></li>
</ul>
</body>
</html>`

// NewMux routes /health, /metrics and the index page. metrics may be nil.
func NewMux(health http.Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, indexPage)
	})
	return mux
}

// Server is the status HTTP server.
type Server struct {
	server *http.Server
}

// NewServer creates a server on the given port with the timeouts of gosec G114.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{server: &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Start serves in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		logger.LogInfo("🌐 HTTP server listening on %s (/health, /metrics)", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("❌ HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
