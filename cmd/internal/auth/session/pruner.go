package session

import (
	"context"
	"log/slog"
	"time"
)

// RunPruner calls PruneExpired every interval until ctx is done.
func (s *Service) RunPruner(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.PruneExpired(ctx, s.now())
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("session.prune.fail", "err", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("session.prune.ok", "deleted", n)
			}
		}
	}
}
