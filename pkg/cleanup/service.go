// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/gobby-dev/gobby/pkg/store"
)

// Config controls the cleanup loop's retention thresholds and run
// interval.
type Config struct {
	SessionRetentionAge time.Duration
	CleanupInterval     time.Duration
}

// Service periodically enforces retention policy: archiving sessions
// that completed or expired past SessionRetentionAge (spec.md §3.2,
// "archived by retention policy"). Safe to run from a single gobbyd
// process; Gobby is not a multi-replica deployment the way the
// teacher's pod fleet is, so this never needs to be idempotent across
// concurrent runners beyond the store's own atomic UPDATE.
type Service struct {
	config   Config
	sessions *store.SessionManager

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(cfg Config, sessions *store.SessionManager) *Service {
	return &Service{config: cfg, sessions: sessions}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"session_retention_age", s.config.SessionRetentionAge,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	count, err := s.sessions.ArchiveExpired(ctx, s.config.SessionRetentionAge)
	if err != nil {
		slog.Error("retention: archive sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: archived sessions", "count", count)
	}
}
