package submitter

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/payload"
	"github.com/wormhole-demo/swim-relayer/internal/relayer"
)

// SolanaClient is the part of clients.SolanaClient the submitter needs.
type SolanaClient interface {
	GetPayerAddress() solana.PublicKey
	IsTransferCompleted(ctx context.Context, emitterAddress [32]byte, emitterChain uint16, sequence uint64) (bool, error)
	PostVAAToWormhole(ctx context.Context, vaaBytes []byte) (solana.PublicKey, error)
	CompleteTransfer(ctx context.Context, vaaBytes []byte) (string, error)
}

// SolanaSubmitter redeems swim transfers on Solana
type SolanaSubmitter struct {
	solanaClient SolanaClient
	timeout      time.Duration
	logger       *zap.Logger
}

var _ relayer.Executor = (*SolanaSubmitter)(nil)

// NewSolanaSubmitter creates a new Solana submitter instance
func NewSolanaSubmitter(logger *zap.Logger, solanaClient SolanaClient) *SolanaSubmitter {
	return &SolanaSubmitter{
		solanaClient: solanaClient,
		timeout:      180 * time.Second,
		logger:       logger.With(zap.String("component", "SolanaSubmitter")),
	}
}

// Execute uses the token bridge claim account as the redemption record. A
// redemption posts the VAA, completes the transfer and checks the claim again.
func (s *SolanaSubmitter) Execute(ctx context.Context, req relayer.Request) (relayer.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	env, err := payload.DecodeEnvelope(req.VAA)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("%w: %v", relayer.ErrFatal, err)
	}

	logger := s.logger.With(
		zap.Uint16("emitterChain", uint16(env.EmitterChain)),
		zap.Uint64("sequence", env.Sequence),
		zap.String("payer", s.solanaClient.GetPayerAddress().String()))

	done, err := s.solanaClient.IsTransferCompleted(ctx, env.EmitterAddress, uint16(env.EmitterChain), env.Sequence)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to check claim: %w", err)
	}
	if done {
		logger.Debug("Transfer already claimed")
		return relayer.Outcome{Redeemed: true, Result: "transfer already completed"}, nil
	}
	if req.CheckOnly {
		return relayer.Outcome{Redeemed: false, Result: "transfer not completed"}, nil
	}

	logger.Info("Submitting VAA to Solana", zap.Int("vaaLength", len(req.VAA)))
	postedVAA, err := s.solanaClient.PostVAAToWormhole(ctx, req.VAA)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to post VAA: %w", err)
	}
	logger.Debug("VAA posted", zap.String("postedVAA", postedVAA.String()))

	sig, err := s.solanaClient.CompleteTransfer(ctx, req.VAA)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to complete transfer: %w", err)
	}

	done, err = s.solanaClient.IsTransferCompleted(ctx, env.EmitterAddress, uint16(env.EmitterChain), env.Sequence)
	if err != nil {
		return relayer.Outcome{}, fmt.Errorf("failed to confirm claim: %w", err)
	}

	logger.Info("Solana redemption finished", zap.String("signature", sig), zap.Bool("claimed", done))
	return relayer.Outcome{Redeemed: done, Result: sig}, nil
}
