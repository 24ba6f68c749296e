package app

import (
	"context"
	"time"
)

type SweepResult struct {
	SessionsRemoved int
	RunsPruned      int
}

// Sweep removes expired sessions and prunes audit records older than the
// configured retention. Failures are logged and the sweep continues.
func (a *App) Sweep(ctx context.Context) SweepResult {
	var out SweepResult
	removed, err := a.steps.Cleanup(ctx)
	if err != nil {
		a.logger.Error("session sweep failed", "error", err)
	} else {
		out.SessionsRemoved = removed
	}

	if a.cfg.RunlogRetention > 0 {
		cutoff := time.Now().UTC().Add(-a.cfg.RunlogRetention)
		n, err := a.runlogs.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			a.logger.Error("runlog pruning failed", "error", err)
		} else {
			out.RunsPruned = n
		}
	}
	if out.SessionsRemoved > 0 || out.RunsPruned > 0 {
		a.logger.Info("sweep completed",
			"sessions_removed", out.SessionsRemoved,
			"runs_pruned", out.RunsPruned,
		)
	}
	return out
}

func (a *App) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}
