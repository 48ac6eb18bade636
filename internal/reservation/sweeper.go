package reservation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically releases holds past their TTL so abandoned checkouts
// cannot keep stock locked.
type Sweeper struct {
	Engine   *Engine
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Engine.ReleaseExpired(ctx)
			if err != nil {
				slog.Error("reservation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired reservations released", "count", n)
			}
		}
	}
}
