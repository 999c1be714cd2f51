package submitter

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/clients"
	"github.com/wormhole-demo/swim-relayer/internal/relayer"
)

// EVMClient is the part of clients.EVMClient the submitter needs.
type EVMClient interface {
	GetAddress() common.Address
	IsTransferCompleted(ctx context.Context, tokenBridge string, digest common.Hash) (bool, error)
	RelayVAA(ctx context.Context, targetContract, method string, vaaBytes []byte) (*types.Receipt, error)
}

// EVMSubmitter redeems swim transfers on EVM chains
type EVMSubmitter struct {
	routingContract string
	evmClient       EVMClient
	timeout         time.Duration
	logger          *zap.Logger
}

var _ relayer.Executor = (*EVMSubmitter)(nil)

// NewEVMSubmitter creates a new EVM submitter instance
func NewEVMSubmitter(logger *zap.Logger, routingContract string, evmClient EVMClient) *EVMSubmitter {
	return &EVMSubmitter{
		routingContract: routingContract,
		evmClient:       evmClient,
		timeout:         2 * time.Minute,
		logger:          logger.With(zap.String("component", "EVMSubmitter")),
	}
}

// Execute checks the token bridge for a completed transfer and, unless
// req.CheckOnly is set, redeems it through the swim routing contract. Native
// unwraps go through the token bridge directly.
func (s *EVMSubmitter) Execute(ctx context.Context, req relayer.Request) (relayer.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	digest, err := clients.VAADigest(req.VAA)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("%w: %v", relayer.ErrFatal, err)
	}

	logger := s.logger.With(
		zap.String("chain", req.Chain.Name),
		zap.String("digest", digest.Hex()),
		zap.String("fromAddress", s.evmClient.GetAddress().Hex()))

	done, err := s.evmClient.IsTransferCompleted(ctx, req.Chain.TokenBridgeAddress, digest)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to check transfer on %s: %w", req.Chain.Name, err)
	}
	if done {
		logger.Debug("Transfer already completed")
		return relayer.Outcome{Redeemed: true, Result: "transfer already completed"}, nil
	}
	if req.CheckOnly {
		return relayer.Outcome{Redeemed: false, Result: "transfer not completed"}, nil
	}

	target, method := s.routingContract, clients.MethodPropellerCompleteToUser
	if req.UnwrapNative {
		target, method = req.Chain.TokenBridgeAddress, clients.MethodCompleteAndUnwrap
	}

	logger.Info("Submitting VAA to EVM",
		zap.String("target", target),
		zap.String("method", method),
		zap.Int("vaaLength", len(req.VAA)))

	receipt, err := s.evmClient.RelayVAA(ctx, target, method, req.VAA)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to submit VAA to %s: %w", req.Chain.Name, err)
	}

	txHash := receipt.TxHash.Hex()
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("Redemption transaction reverted", zap.String("txHash", txHash))
		return relayer.Outcome{Redeemed: false, Result: "reverted: " + txHash}, nil
	}

	logger.Info("VAA successfully redeemed", zap.String("txHash", txHash), zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return relayer.Outcome{Redeemed: true, Result: txHash}, nil
}
