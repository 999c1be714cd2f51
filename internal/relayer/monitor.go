package relayer

import (
	"context"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// ChainPair is a source -> target chain route.
type ChainPair struct {
	Source vaaLib.ChainID
	Target vaaLib.ChainID
}

// Monitor periodically counts queued VAAs per route in both tables.
type Monitor struct {
	queue    Queue
	metrics  Metrics
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(logger *zap.Logger, queue Queue, metrics Metrics, interval time.Duration) *Monitor {
	return &Monitor{
		queue:    queue,
		metrics:  metrics,
		interval: interval,
		logger:   logger.With(zap.String("component", "QueueMonitor")),
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	return runLoop(ctx, m.logger, m.interval, m.pass)
}

func (m *Monitor) pass(ctx context.Context) error {
	tables := []struct {
		name store.Table
		scan func(context.Context) *store.Iterator
	}{
		{store.TableIncoming, m.queue.ScanIncoming},
		{store.TableWorking, m.queue.ScanWorking},
	}

	for _, t := range tables {
		depths, err := countRoutes(ctx, t.scan(ctx))
		if err != nil {
			return err
		}
		m.metrics.SetQueueDepths(t.name, depths)
		m.logger.Debug("Queue depth", zap.String("table", string(t.name)), zap.Int("routes", len(depths)))
	}
	return nil
}

func countRoutes(ctx context.Context, it *store.Iterator) (map[ChainPair]int, error) {
	depths := make(map[ChainPair]int)
	for it.Next(ctx) {
		env, transfer, err := decodeEntry(it.Entry())
		if err != nil {
			continue
		}
		depths[ChainPair{Source: env.EmitterChain, Target: transfer.TargetChain}]++
	}
	return depths, it.Err()
}
