// Package relayer runs the workers that redeem queued VAAs on their target
// chains and reconcile what they did.
package relayer

import (
	"context"
	"errors"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// MaxRetries is the retry budget of an entry before it is marked FatalError.
const MaxRetries = 10

// ErrFatal marks executor failures that retrying cannot fix.
var ErrFatal = errors.New("fatal relay error")

// Request is a single redemption (or redemption check) on a target chain.
type Request struct {
	Chain        config.ChainConfig
	VAA          []byte
	UnwrapNative bool
	CheckOnly    bool
}

// Outcome reports whether the transfer is redeemed on the target chain.
// Result carries a transaction id or a short description.
type Outcome struct {
	Redeemed bool
	Result   string
}

// Executor redeems VAAs on one target chain with one wallet.
type Executor interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// Queue is the part of the store the workers use.
type Queue interface {
	ClaimForWork(ctx context.Context, key store.QueueKey) (store.Entry, error)
	Update(ctx context.Context, key store.QueueKey, entry store.Entry) error
	Requeue(ctx context.Context, key store.QueueKey, entry store.Entry) error
	RequeueIfUnchanged(ctx context.Context, key store.QueueKey, scanned string, entry store.Entry) error
	DeleteIfUnchanged(ctx context.Context, key store.QueueKey, scanned string) error
	ScanIncoming(ctx context.Context) *store.Iterator
	ScanWorking(ctx context.Context) *store.Iterator
}

// Metrics receives relay counters and queue gauges.
type Metrics interface {
	IncSuccesses(chain vaaLib.ChainID)
	IncFailures(chain vaaLib.ChainID)
	IncConfirmed(chain vaaLib.ChainID)
	IncRollback(chain vaaLib.ChainID)
	SetQueueDepths(table store.Table, depths map[ChainPair]int)
}

// Timing configures the worker loops.
type Timing struct {
	PollInterval    time.Duration
	AuditInterval   time.Duration
	AuditWindow     time.Duration
	MonitorInterval time.Duration
}

// TimingFromConfig copies the relay timings out of the configuration.
func TimingFromConfig(c config.RelayTimingConfig) Timing {
	return Timing{
		PollInterval:    c.PollInterval,
		AuditInterval:   c.AuditInterval,
		AuditWindow:     c.AuditWindow,
		MonitorInterval: c.MonitorInterval,
	}
}

// ExecutorFactory builds the executor bound to one wallet key of a chain.
type ExecutorFactory func(chain config.ChainConfig, walletKey string) (Executor, error)

// Relayer owns every worker and the queue monitor.
type Relayer struct {
	workers []*Worker
	monitor *Monitor
	logger  *zap.Logger
}

// New creates one worker per wallet key of each supported chain.
func New(logger *zap.Logger, cfg *config.Config, queue Queue, metrics Metrics, factory ExecutorFactory) (*Relayer, error) {
	r := &Relayer{logger: logger.With(zap.String("component", "Relayer"))}
	timing := TimingFromConfig(cfg.Relay)

	supported := make(map[vaaLib.ChainID]bool)
	for _, chain := range cfg.SupportedChains {
		supported[chain.ChainID] = true
	}

	for _, chain := range cfg.SupportedChains {
		for i, key := range chain.WalletPrivateKeys {
			exec, err := factory(chain, key)
			if err != nil {
				return nil, err
			}
			info := WorkerInfo{Index: i, Chain: chain}
			w := NewWorker(logger, info, exec, queue, metrics, timing)
			w.supported = supported
			r.workers = append(r.workers, w)
		}
	}

	r.monitor = NewMonitor(logger, queue, metrics, timing.MonitorInterval)
	return r, nil
}

// Workers returns the configured workers.
func (r *Relayer) Workers() []*Worker {
	return r.workers
}

// Run starts a dispatcher and an auditor per worker plus the queue monitor,
// and blocks until ctx is cancelled or a loop fails.
func (r *Relayer) Run(ctx context.Context) error {
	r.logger.Info("Starting workers", zap.Int("count", len(r.workers)))

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		g.Go(func() error { return w.RunDispatcher(ctx) })
		g.Go(func() error { return w.RunAuditor(ctx) })
	}
	g.Go(func() error { return r.monitor.Run(ctx) })

	err := g.Wait()
	r.logger.Info("Workers stopped")
	return err
}
