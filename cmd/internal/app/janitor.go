package app

import (
	"context"
	"log/slog"
	"time"

	"pixelpact/cmd/internal/ledger"
)

// Janitor periodically removes redemption records that are past their
// token expiry by more than the retention window.
type Janitor struct {
	ledger    ledger.Ledger
	log       *slog.Logger
	metrics   *Metrics
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewJanitor builds a janitor that prunes l every interval, dropping
// records that expired more than retention ago.
func NewJanitor(l ledger.Ledger, log *slog.Logger, m *Metrics, retention, interval time.Duration) *Janitor {
	return &Janitor{
		ledger:    l,
		log:       log,
		metrics:   m,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Run prunes once per interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = j.PruneOnce(ctx)
		}
	}
}

// PruneOnce deletes records whose expiry is before now minus retention.
func (j *Janitor) PruneOnce(ctx context.Context) (int, error) {
	before := j.now().UTC().Add(-j.retention)
	n, err := j.ledger.Prune(ctx, before)
	if err != nil {
		j.metrics.observePrune(0, err)
		j.log.Error("ledger.prune.fail", "before", before, "err", err)
		return 0, err
	}
	j.metrics.observePrune(n, nil)
	if n > 0 {
		j.log.Info("ledger.prune.done", "removed", n, "before", before)
	} else {
		j.log.Debug("ledger.prune.done", "removed", 0, "before", before)
	}
	return n, nil
}
