package services

import (
	"context"
	"time"

	apperrors "caen-hv-bridge/internal/errors"
	"caen-hv-bridge/internal/logger"
)

// StatusPublisher publishes the bridge availability.
type StatusPublisher interface {
	PublishStatusOnline(ctx context.Context) error
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// OnlineChecker reports the device monitor verdict.
type OnlineChecker interface {
	IsOnline() bool
}

// HeartbeatService refreshes the retained online status so subscribers that
// missed a transition still see the current state.
type HeartbeatService struct {
	publisher     StatusPublisher
	healthMonitor OnlineChecker
	interval      time.Duration
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(publisher StatusPublisher, healthMonitor OnlineChecker, interval time.Duration) *HeartbeatService {
	return &HeartbeatService{
		publisher:     publisher,
		healthMonitor: healthMonitor,
		interval:      interval,
	}
}

// Start runs the heartbeat loop until ctx is done.
func (s *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.LogInfo("💓 Heartbeat service started with interval: %v", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔇 Heartbeat service stopped")
			return
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat publishes online only while the device is marked online
func (s *HeartbeatService) sendHeartbeat(ctx context.Context) {
	if !s.healthMonitor.IsOnline() {
		logger.LogDebug("💔 Skipping heartbeat - device is offline")
		return
	}

	if err := s.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Heartbeat failed: %v", err)
		return
	}
	logger.LogDebug("💓 Heartbeat sent: online")

	if diagErr := s.publisher.PublishDiagnostic(ctx, apperrors.CodeOK, "CAEN HV bridge running"); diagErr != nil {
		logger.LogDebug("⚠️ Diagnostic heartbeat failed: %v", diagErr)
	}
}

// SendImmediateHeartbeat sends a heartbeat right away, e.g. at startup.
func (s *HeartbeatService) SendImmediateHeartbeat(ctx context.Context) {
	s.sendHeartbeat(ctx)
}
