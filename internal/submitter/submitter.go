// Package submitter implements relayer.Executor for the supported chain
// types.
package submitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/clients"
	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/relayer"
)

// Factory returns a relayer.ExecutorFactory that connects a client per
// wallet key. routingContract is the swim routing contract on EVM chains.
func Factory(logger *zap.Logger, routingContract string) relayer.ExecutorFactory {
	return func(chain config.ChainConfig, walletKey string) (relayer.Executor, error) {
		switch chain.Type {
		case config.ChainTypeEVM:
			client, err := clients.NewEVMClient(logger, chain.NodeURL, walletKey)
			if err != nil {
				return nil, fmt.Errorf("failed to create EVM client for %s: %w", chain.Name, err)
			}
			return NewEVMSubmitter(logger, routingContract, client), nil

		case config.ChainTypeSolana:
			client, err := clients.NewSolanaClient(logger, chain.NodeURL, walletKey,
				chain.TokenBridgeAddress, chain.BridgeAddress, chain.VAAServiceURL)
			if err != nil {
				return nil, fmt.Errorf("failed to create Solana client for %s: %w", chain.Name, err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := client.CheckService(ctx); err != nil {
				logger.Warn("VAA service not available", zap.String("chain", chain.Name), zap.Error(err))
			}
			cancel()
			return NewSolanaSubmitter(logger, client), nil

		default:
			return nil, fmt.Errorf("no executor for chain type %q", chain.Type)
		}
	}
}
