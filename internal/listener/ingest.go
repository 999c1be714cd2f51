// Package listener feeds VAAs from the spy subscription and the REST endpoint
// into the INCOMING table.
package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/store"
	"github.com/wormhole-demo/swim-relayer/internal/validator"
)

// Queue is the part of the store the ingestor writes to.
type Queue interface {
	EnqueueIncoming(ctx context.Context, key store.QueueKey, entry store.Entry) error
	Park(key store.QueueKey, entry store.Entry)
}

// Submitter schedules a raw VAA for relaying.
type Submitter interface {
	Submit(ctx context.Context, raw []byte) (validator.Result, error)
}

// Ingestor validates VAAs and writes accepted ones to INCOMING. Both ingress
// paths share one Ingestor.
type Ingestor struct {
	validator *validator.Validator
	queue     Queue
	now       func() time.Time
	logger    *zap.Logger
}

var _ Submitter = (*Ingestor)(nil)

func NewIngestor(logger *zap.Logger, v *validator.Validator, queue Queue) *Ingestor {
	return &Ingestor{
		validator: v,
		queue:     queue,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "Ingestor")),
	}
}

// Submit validates raw and stores it as a Pending entry. A VAA that is
// already queued is reported as rejected with its location. When the store
// is unreachable the entry is parked in the backup list and still counts as
// scheduled.
func (i *Ingestor) Submit(ctx context.Context, raw []byte) (validator.Result, error) {
	res := i.validator.Validate(ctx, raw)
	if !res.Accepted() {
		return res, nil
	}

	key := res.Message.Key()
	entry := store.NewEntry(raw, i.now())

	err := i.queue.EnqueueIncoming(ctx, key, entry)
	switch {
	case err == nil:
		i.logger.Info("Scheduled VAA",
			zap.Stringer("key", key),
			zap.Uint16("targetChain", uint16(res.Message.Transfer.TargetChain)))
		return res, nil

	case errors.Is(err, store.ErrAlreadyQueued):
		return validator.Rejected(store.QueuedLocation(err)), nil

	case errors.Is(err, store.ErrUnavailable):
		i.queue.Park(key, entry)
		return res, nil

	default:
		return validator.Result{}, fmt.Errorf("failed to enqueue %s: %w", key, err)
	}
}
