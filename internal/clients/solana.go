package clients

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Default Wormhole core bridge program on Solana devnet
var DefaultWormholeProgramID = solana.MustPublicKeyFromBase58("3u8hJUVTA4jH1wYAyUur7FFZVQ8H635K3tSHHF4ssjQ5")

// Wormhole PDA seeds
var (
	SeedPostedVAA = []byte("PostedVAA")
)

// SolanaClient handles interactions with Solana blockchain
type SolanaClient struct {
	client            *rpc.Client
	payer             solana.PrivateKey
	tokenBridgeID     solana.PublicKey
	wormholeProgramID solana.PublicKey
	service           *VAAServiceClient
	postTimeout       time.Duration
	logger            *zap.Logger
}

// NewSolanaClient creates a new Solana client. If wormholeProgramID is empty
// DefaultWormholeProgramID (devnet) is used. Posting and redemption go through
// the VAA service at vaaServiceURL.
func NewSolanaClient(logger *zap.Logger, rpcURL, privateKeyBase58, tokenBridgeID, wormholeProgramID, vaaServiceURL string) (*SolanaClient, error) {
	client := &SolanaClient{
		logger:      logger.With(zap.String("component", "SolanaClient")),
		client:      rpc.New(rpcURL),
		postTimeout: 20 * time.Second,
	}

	client.logger.Info("Connecting to Solana", zap.String("rpcURL", rpcURL))

	privKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	client.payer = privKey

	bridge, err := solana.PublicKeyFromBase58(tokenBridgeID)
	if err != nil {
		return nil, fmt.Errorf("invalid token bridge program ID: %v", err)
	}
	client.tokenBridgeID = bridge

	client.wormholeProgramID = DefaultWormholeProgramID
	if wormholeProgramID != "" {
		whProgID, err := solana.PublicKeyFromBase58(wormholeProgramID)
		if err != nil {
			return nil, fmt.Errorf("invalid wormhole program ID: %v", err)
		}
		client.wormholeProgramID = whProgID
	}

	if vaaServiceURL != "" {
		client.service = NewVAAServiceClient(logger, vaaServiceURL)
	}

	client.logger.Info("Solana client initialized",
		zap.String("payer", client.payer.PublicKey().String()),
		zap.String("tokenBridge", client.tokenBridgeID.String()),
		zap.String("wormholeProgramID", client.wormholeProgramID.String()),
		zap.String("vaaServiceURL", vaaServiceURL))

	return client, nil
}

// GetPayerAddress returns the payer's public key
func (c *SolanaClient) GetPayerAddress() solana.PublicKey {
	return c.payer.PublicKey()
}

// DeriveClaimPDA derives the token bridge claim account of a transfer. The
// account exists once the transfer has been redeemed.
func DeriveClaimPDA(tokenBridge solana.PublicKey, emitterAddress [32]byte, emitterChain uint16, sequence uint64) (solana.PublicKey, uint8, error) {
	chainBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(chainBytes, emitterChain)
	sequenceBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(sequenceBytes, sequence)
	return solana.FindProgramAddress([][]byte{emitterAddress[:], chainBytes, sequenceBytes}, tokenBridge)
}

// DerivePostedVAAPDA derives the posted VAA PDA from VAA hash
func (c *SolanaClient) DerivePostedVAAPDA(vaaHash [32]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{SeedPostedVAA, vaaHash[:]}, c.wormholeProgramID)
}

// ComputeVAAHash computes the keccak256 hash of the VAA body, as used for the
// posted VAA PDA.
func ComputeVAAHash(vaaBytes []byte) ([32]byte, error) {
	// version (1), guardian set index (4), signature count (1), 66 bytes per signature
	if len(vaaBytes) < 6 {
		return [32]byte{}, fmt.Errorf("VAA too short")
	}

	sigCount := int(vaaBytes[5])
	bodyStart := 6 + (sigCount * 66)
	if len(vaaBytes) < bodyStart {
		return [32]byte{}, fmt.Errorf("VAA too short for %d signatures", sigCount)
	}

	return crypto.Keccak256Hash(vaaBytes[bodyStart:]), nil
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// IsTransferCompleted checks whether the claim account of the transfer exists.
func (c *SolanaClient) IsTransferCompleted(ctx context.Context, emitterAddress [32]byte, emitterChain uint16, sequence uint64) (bool, error) {
	claim, _, err := DeriveClaimPDA(c.tokenBridgeID, emitterAddress, emitterChain, sequence)
	if err != nil {
		return false, fmt.Errorf("failed to derive claim PDA: %w", err)
	}

	done, err := c.accountExists(ctx, claim)
	if err != nil {
		return false, fmt.Errorf("failed to fetch claim account %s: %w", claim, err)
	}
	c.logger.Debug("Checked claim account", zap.String("claim", claim.String()), zap.Bool("exists", done))
	return done, nil
}

// PostVAAToWormhole makes sure the VAA is posted to the core bridge, posting
// it through the VAA service when needed, and returns the posted VAA account.
func (c *SolanaClient) PostVAAToWormhole(ctx context.Context, vaaBytes []byte) (solana.PublicKey, error) {
	vaaHash, err := ComputeVAAHash(vaaBytes)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to compute VAA hash: %v", err)
	}

	postedVAA, _, err := c.DerivePostedVAAPDA(vaaHash)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive posted VAA PDA: %v", err)
	}

	posted, err := c.accountExists(ctx, postedVAA)
	if err != nil {
		c.logger.Warn("Failed to check posted VAA account", zap.Error(err))
	}
	if posted {
		c.logger.Info("VAA already posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
		return postedVAA, nil
	}

	if c.service == nil {
		return solana.PublicKey{}, fmt.Errorf("VAA not yet posted to Wormhole at %s and no VAA service URL configured", postedVAA.String())
	}
	if _, err := c.service.PostVAA(ctx, vaaBytes, c.payer.PublicKey().String()); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to post VAA via service: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxElapsedTime = c.postTimeout
	wait := func() error {
		ok, err := c.accountExists(ctx, postedVAA)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("posted VAA account %s not found yet", postedVAA)
		}
		return nil
	}
	if err := backoff.Retry(wait, backoff.WithContext(b, ctx)); err != nil {
		return solana.PublicKey{}, fmt.Errorf("VAA was posted but not found on chain: %w", err)
	}

	c.logger.Info("VAA successfully posted to Wormhole", zap.String("postedVAA", postedVAA.String()))
	return postedVAA, nil
}

// CompleteTransfer redeems a posted transfer through the VAA service and
// returns the transaction signature.
func (c *SolanaClient) CompleteTransfer(ctx context.Context, vaaBytes []byte) (string, error) {
	if c.service == nil {
		return "", fmt.Errorf("no VAA service URL configured")
	}
	return c.service.CompleteTransfer(ctx, vaaBytes, c.payer.PublicKey().String())
}

// CheckService reports whether the configured VAA service is reachable.
func (c *SolanaClient) CheckService(ctx context.Context) error {
	if c.service == nil {
		return fmt.Errorf("no VAA service URL configured")
	}
	return c.service.CheckHealth(ctx)
}
