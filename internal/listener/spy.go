package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/clients"
)

type eventStream interface {
	Recv() clients.Event
}

// SpyListener submits every VAA the spy streams for the configured emitters.
type SpyListener struct {
	subscribe   func(ctx context.Context) (eventStream, error)
	submitter   Submitter
	minInterval time.Duration
	maxInterval time.Duration
	logger      *zap.Logger
}

// NewSpyListener creates a listener over spyClient restricted to filters.
func NewSpyListener(logger *zap.Logger, spyClient *clients.SpyClient, filters []clients.EmitterFilter, submitter Submitter) *SpyListener {
	return &SpyListener{
		subscribe: func(ctx context.Context) (eventStream, error) {
			return spyClient.Subscribe(ctx, filters)
		},
		submitter:   submitter,
		minInterval: time.Second,
		maxInterval: 30 * time.Second,
		logger:      logger.With(zap.String("component", "SpyListener")),
	}
}

// Run consumes the subscription until ctx is cancelled, resubscribing with
// exponential backoff whenever the stream ends or fails.
func (l *SpyListener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.minInterval
	b.MaxInterval = l.maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	l.logger.Info("Listening for VAAs")
	for {
		received, err := l.consume(ctx)
		if ctx.Err() != nil {
			l.logger.Info("Shutting down spy listener")
			return nil
		}
		if received > 0 {
			b.Reset()
		}

		wait := b.NextBackOff()
		l.logger.Warn("Spy stream ended, resubscribing",
			zap.Error(err),
			zap.Int("received", received),
			zap.Duration("retryIn", wait))

		select {
		case <-ctx.Done():
			l.logger.Info("Shutting down spy listener")
			return nil
		case <-time.After(wait):
		}
	}
}

// consume reads one subscription to its end and returns how many VAAs it
// delivered.
func (l *SpyListener) consume(ctx context.Context) (int, error) {
	sub, err := l.subscribe(ctx)
	if err != nil {
		return 0, fmt.Errorf("subscribe to VAA stream: %w", err)
	}

	received := 0
	for {
		ev := sub.Recv()
		switch ev.Kind {
		case clients.EventItem:
			received++
			l.handle(ctx, ev.VAA)
		case clients.EventClosed:
			return received, nil
		default:
			return received, ev.Err
		}
	}
}

func (l *SpyListener) handle(ctx context.Context, raw []byte) {
	res, err := l.submitter.Submit(ctx, raw)
	if err != nil {
		l.logger.Error("Failed to submit VAA", zap.Error(err))
		return
	}
	if !res.Accepted() {
		l.logger.Debug("Rejected VAA", zap.String("reason", res.Reason))
	}
}
