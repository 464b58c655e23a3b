package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// HousekeepingService periodically removes expired sessions, refresh tokens
// and signing keys so storage does not grow without bound.
type HousekeepingService struct {
	Store    store.Store
	Keys     *jwtx.KeyManager // optional; retired keys past their grace period are unpublished
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. If interval is 0 or
// negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, keys *jwtx.KeyManager, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Keys:     keys,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs cleanup now and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each step is independent; a failure is logged and
// the rest still run. It returns how many steps succeeded.
func (s *HousekeepingService) Cleanup(ctx context.Context) int {
	now := s.Now()
	s.Logger.Debug("starting housekeeping cleanup")

	steps := []struct {
		name string
		fn   func(context.Context, time.Time) error
	}{
		// tokens before sessions so a session's chain never outlives it
		{"refresh tokens", s.Store.RefreshTokens().DeleteExpiredRefreshTokens},
		{"sessions", s.Store.Sessions().DeleteExpiredSessions},
		{"signing keys", s.Store.SigningKeys().DeleteExpiredSigningKeys},
	}

	var ok int
	for _, step := range steps {
		if err := step.fn(ctx, now); err != nil {
			s.Logger.Error("failed to delete expired "+step.name, "error", err)
			continue
		}
		ok++
	}

	if s.Keys != nil {
		if dropped, err := s.Keys.Prune(now); err != nil {
			s.Logger.Error("failed to prune retired signing keys", "error", err)
		} else if dropped > 0 {
			s.Logger.Info("unpublished expired signing keys", "count", dropped)
		}
	}

	s.Logger.Info("housekeeping cleanup completed", "successful_cleanups", ok)
	return ok
}
