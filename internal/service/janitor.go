package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/tokenauth/internal/repository"
)

// Janitor periodically deletes expired refresh tokens from the store.
type Janitor struct {
	tokens   repository.TokenRepository
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewJanitor(tokens repository.TokenRepository, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Janitor{tokens: tokens, interval: interval, logger: logger}
}

// RunOnce performs a single cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.tokens.CleanupExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	if n > 0 {
		j.logger.Info("expired tokens removed", zap.Int64("count", n))
	}
	return n, nil
}

// Run cleans up every interval until ctx is done. Pass failures are logged
// and do not stop the loop.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Warn("token cleanup failed", zap.Error(err))
			}
		}
	}
}

// Start launches Run in the background.
func (j *Janitor) Start(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	g := new(errgroup.Group)
	g.Go(func() error { return j.Run(runCtx) })
	j.group = g
	return nil
}

// Stop cancels the loop and waits for it, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel, g := j.cancel, j.group
	j.cancel, j.group = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
