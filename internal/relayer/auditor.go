package relayer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// RunAuditor reconciles aged WORKING entries until ctx is done.
func (w *Worker) RunAuditor(ctx context.Context) error {
	logger := w.logger.With(zap.String("loop", "auditor"))
	logger.Info("Auditor started",
		zap.Duration("interval", w.timing.AuditInterval),
		zap.Duration("window", w.timing.AuditWindow))
	return runLoop(ctx, logger, w.timing.AuditInterval, w.audit)
}

func (w *Worker) audit(ctx context.Context) error {
	now := w.now()
	it := w.queue.ScanWorking(ctx)
	for it.Next(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.auditEntry(ctx, it.Key(), it.Entry(), it.Raw(), now); err != nil {
			return err
		}
	}
	return it.Err()
}

// auditEntry handles one WORKING entry. Every other worker of the chain audits
// the same table, so updates only apply while WORKING still holds scanned.
// Only store failures are returned.
func (w *Worker) auditEntry(ctx context.Context, key store.QueueKey, entry store.Entry, scanned string, now time.Time) error {
	logger := w.logger.With(zap.Stringer("key", key), zap.Stringer("status", entry.Status))

	_, transfer, err := decodeEntry(entry)
	if err != nil {
		logger.Error("Failed to decode WORKING entry", zap.Error(err))
		return nil
	}
	if !w.owns(transfer.TargetChain) {
		return nil
	}

	ts, err := entry.Time()
	if err != nil {
		logger.Error("WORKING entry has an invalid timestamp", zap.Error(err))
		return nil
	}
	if now.Sub(ts) <= w.timing.AuditWindow {
		return nil
	}

	switch entry.Status {
	case store.StatusFatalError:
		logger.Info("Removing failed VAA", zap.Int("retries", entry.Retries))
		return storeErr(logger, w.queue.DeleteIfUnchanged(ctx, key, scanned))

	case store.StatusCompleted:
		raw, err := entry.VAA()
		if err != nil {
			logger.Error("WORKING entry has invalid vaa_bytes", zap.Error(err))
			return nil
		}
		res, err := w.Relay(ctx, raw, true)
		if err != nil {
			logger.Warn("Could not confirm redemption, will retry", zap.Error(err))
			return nil
		}

		if res.Status == store.StatusCompleted {
			w.metrics.IncConfirmed(w.info.Chain.ChainID)
			logger.Info("Redemption confirmed")
			return storeErr(logger, w.queue.DeleteIfUnchanged(ctx, key, scanned))
		}

		logger.Warn("Redemption not found on chain, rolling back", zap.String("result", res.Result))
		if err := w.queue.RequeueIfUnchanged(ctx, key, scanned, entry.Reset(now)); err != nil {
			return storeErr(logger, err)
		}
		w.metrics.IncRollback(w.info.Chain.ChainID)
		return nil

	default:
		logger.Error("VAA stuck in WORKING",
			zap.String("timestamp", entry.Timestamp),
			zap.Int("retries", entry.Retries))
		return nil
	}
}

// storeErr passes store outages up to the loop and logs anything else.
func storeErr(logger *zap.Logger, err error) error {
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(err, store.ErrChanged) {
		logger.Debug("WORKING entry changed since scan, skipping")
		return nil
	}
	logger.Error("Queue update failed", zap.Error(err))
	return nil
}
