package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/payload"
	"github.com/wormhole-demo/swim-relayer/internal/relayer"
	"github.com/wormhole-demo/swim-relayer/internal/submitter"
)

// checkCmd asks the target chain whether a VAA has been redeemed
var checkCmd = &cobra.Command{
	Use:   "check <vaa>",
	Short: "Check whether a Swim transfer has been redeemed on its target chain",
	Long: `Runs a check-only relay of the VAA (hex or base64) against its target chain
from --config and prints the resulting status. Nothing is submitted.`,
	Args: cobra.ExactArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		configureLogging(cmd, args)
	},
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().Duration(
		"timeout",
		time.Minute,
		"Timeout for the chain queries")
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := configureLogging(cmd, args)

	raw, err := parseVAAArg(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	transfer, err := payload.DecodeTransferWithPayload(env.Payload)
	if err != nil {
		return err
	}

	chain, ok := cfg.Chain(transfer.TargetChain)
	if !ok {
		return fmt.Errorf("target chain %d is not configured", transfer.TargetChain)
	}

	worker, err := checkWorker(logger, cfg, chain)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := worker.Relay(ctx, raw, true)
	if err != nil {
		logger.Warn("Check failed", zap.Error(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Status, res.Result)
	return nil
}

func checkWorker(logger *zap.Logger, cfg *config.Config, chain config.ChainConfig) (*relayer.Worker, error) {
	if len(chain.WalletPrivateKeys) == 0 {
		return nil, fmt.Errorf("chain %s has no wallet keys", chain.Name)
	}
	exec, err := submitter.Factory(logger, cfg.SwimEVMRoutingAddress)(chain, chain.WalletPrivateKeys[0])
	if err != nil {
		return nil, err
	}
	info := relayer.WorkerInfo{Index: 0, Chain: chain}
	return relayer.NewWorker(logger, info, exec, nil, nil, relayer.TimingFromConfig(cfg.Relay)), nil
}
