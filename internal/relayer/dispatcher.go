package relayer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// RunDispatcher claims and relays INCOMING entries until ctx is done.
func (w *Worker) RunDispatcher(ctx context.Context) error {
	w.logger.Info("Dispatcher started", zap.Duration("interval", w.timing.PollInterval))
	return runLoop(ctx, w.logger.With(zap.String("loop", "dispatcher")), w.timing.PollInterval, w.dispatch)
}

func (w *Worker) dispatch(ctx context.Context) error {
	it := w.queue.ScanIncoming(ctx)
	for it.Next(ctx) {
		if ctx.Err() != nil {
			return nil
		}

		key := it.Key()
		_, transfer, err := decodeEntry(it.Entry())
		if err != nil {
			w.logger.Warn("Skipping undecodable INCOMING entry", zap.Stringer("key", key), zap.Error(err))
			continue
		}
		if !w.owns(transfer.TargetChain) {
			continue
		}

		entry, err := w.queue.ClaimForWork(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		w.process(ctx, key, entry)
	}
	return it.Err()
}

// process relays a claimed entry and writes the outcome back.
func (w *Worker) process(ctx context.Context, key store.QueueKey, entry store.Entry) {
	logger := w.logger.With(zap.Stringer("key", key), zap.Int("retries", entry.Retries))
	logger.Info("Relaying VAA")

	result := RelayResult{Status: store.StatusFatalError, Result: "ERROR: invalid vaa_bytes"}
	if raw, err := entry.VAA(); err == nil {
		result, err = w.Relay(ctx, raw, false)
		if err != nil {
			logger.Warn("Relay attempt failed", zap.Error(err))
		}
	}

	if result.Status == store.StatusCompleted {
		w.metrics.IncSuccesses(w.info.Chain.ChainID)
	} else {
		w.metrics.IncFailures(w.info.Chain.ChainID)
	}

	next, retry := applyOutcome(entry, result.Status, w.now())
	logger.Info("Relay finished",
		zap.Stringer("status", next.Status),
		zap.Int("nextRetries", next.Retries),
		zap.Bool("requeue", retry),
		zap.String("result", result.Result))

	write := func() error {
		var err error
		if retry {
			err = w.queue.Requeue(ctx, key, next)
		} else {
			err = w.queue.Update(ctx, key, next)
		}
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Minute
	if err := backoff.Retry(write, backoff.WithContext(b, ctx)); err != nil {
		logger.Error("Failed to record relay outcome", zap.Error(err))
	}
}

// applyOutcome updates an entry after a relay attempt and reports whether it
// goes back to INCOMING. Errors are retried until MaxRetries; after that, and
// for fatal errors, the entry stays in WORKING as FatalError with the retry
// counter pinned at MaxRetries.
func applyOutcome(entry store.Entry, status store.Status, now time.Time) (store.Entry, bool) {
	retry := false
	switch {
	case status == store.StatusCompleted:
		entry.Retries++
	case status == store.StatusFatalError || entry.Retries >= MaxRetries:
		status = store.StatusFatalError
		entry.Retries = MaxRetries
	default:
		entry.Retries++
		retry = true
	}

	entry.Status = status
	entry.Timestamp = store.FormatTimestamp(now)
	return entry, retry
}
