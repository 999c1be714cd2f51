package relayer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/address"
	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/payload"
	"github.com/wormhole-demo/swim-relayer/internal/store"
)

// WorkerInfo identifies a worker: one wallet key on one target chain.
type WorkerInfo struct {
	Index int
	Chain config.ChainConfig
}

func (i WorkerInfo) Name() string {
	return fmt.Sprintf("%s-%d", i.Chain.Name, i.Index)
}

// RelayResult is the status a relay attempt maps to.
type RelayResult struct {
	Status store.Status
	Result string
}

// Worker dispatches and audits the entries targeting its chain. Entries whose
// target chain has no worker at all are handled by every worker so they end
// up as FatalError instead of sitting in INCOMING.
type Worker struct {
	info      WorkerInfo
	exec      Executor
	queue     Queue
	metrics   Metrics
	timing    Timing
	supported map[vaaLib.ChainID]bool
	now       func() time.Time
	logger    *zap.Logger
}

func NewWorker(logger *zap.Logger, info WorkerInfo, exec Executor, queue Queue, metrics Metrics, timing Timing) *Worker {
	return &Worker{
		info:      info,
		exec:      exec,
		queue:     queue,
		metrics:   metrics,
		timing:    timing,
		supported: map[vaaLib.ChainID]bool{info.Chain.ChainID: true},
		now:       time.Now,
		logger: logger.With(
			zap.String("component", "Worker"),
			zap.String("worker", info.Name())),
	}
}

func (w *Worker) Info() WorkerInfo {
	return w.info
}

func (w *Worker) owns(target vaaLib.ChainID) bool {
	return target == w.info.Chain.ChainID || !w.supported[target]
}

func decodeEntry(entry store.Entry) (*payload.Envelope, *payload.TransferWithPayload, error) {
	raw, err := entry.VAA()
	if err != nil {
		return nil, nil, err
	}
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return nil, nil, err
	}
	transfer, err := payload.DecodeTransferWithPayload(env.Payload)
	if err != nil {
		return nil, nil, err
	}
	return env, transfer, nil
}

// Relay redeems the VAA on this worker's chain, or with checkOnly only asks
// whether it has been redeemed. Executor errors are folded into the result;
// the returned error is set for non-fatal executor failures so callers that
// must not act on them can tell.
func (w *Worker) Relay(ctx context.Context, raw []byte, checkOnly bool) (RelayResult, error) {
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return RelayResult{Status: store.StatusFatalError, Result: "ERROR: unable to parse VAA"}, nil
	}
	if env.PayloadType() != payload.TypeTransferWithPayload {
		return RelayResult{Status: store.StatusFatalError, Result: "ERROR: Invalid payload type"}, nil
	}
	transfer, err := payload.DecodeTransferWithPayload(env.Payload)
	if err != nil {
		return RelayResult{Status: store.StatusFatalError, Result: "ERROR: unable to parse transfer"}, nil
	}

	target := transfer.TargetChain
	if target != w.info.Chain.ChainID {
		return RelayResult{
			Status: store.StatusFatalError,
			Result: fmt.Sprintf("Fatal Error: target chain %d not supported", target),
		}, nil
	}

	req := Request{
		Chain:        w.info.Chain,
		VAA:          raw,
		UnwrapNative: w.unwrapNative(transfer),
		CheckOnly:    checkOnly,
	}
	out, err := w.exec.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, ErrFatal) {
			return RelayResult{Status: store.StatusFatalError, Result: err.Error()}, nil
		}
		return RelayResult{Status: store.StatusError, Result: err.Error()}, err
	}
	if out.Redeemed {
		return RelayResult{Status: store.StatusCompleted, Result: out.Result}, nil
	}
	return RelayResult{Status: store.StatusError, Result: out.Result}, nil
}

// unwrapNative reports whether the transfer moves the target chain's wrapped
// native asset back home, in which case EVM redemptions unwrap it.
func (w *Worker) unwrapNative(t *payload.TransferWithPayload) bool {
	chain := w.info.Chain
	if chain.Type != config.ChainTypeEVM || chain.WrappedAsset == "" || t.OriginChain != chain.ChainID {
		return false
	}
	origin, err := address.ToNative(t.OriginChain, t.OriginAddress)
	if err != nil {
		return false
	}
	return strings.EqualFold(origin, chain.WrappedAsset)
}
