package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wormhole-demo/swim-relayer/internal/address"
	"github.com/wormhole-demo/swim-relayer/internal/clients"
	"github.com/wormhole-demo/swim-relayer/internal/config"
	"github.com/wormhole-demo/swim-relayer/internal/listener"
	"github.com/wormhole-demo/swim-relayer/internal/metrics"
	"github.com/wormhole-demo/swim-relayer/internal/relayer"
	"github.com/wormhole-demo/swim-relayer/internal/store"
	"github.com/wormhole-demo/swim-relayer/internal/submitter"
	"github.com/wormhole-demo/swim-relayer/internal/validator"
)

// relayCmd runs the listeners and the workers in one process
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Listen for Swim transfers and redeem them on the target chains",
	Long: `Subscribes to the Wormhole spy for the configured token bridge emitters and
serves the /relayvaa REST endpoint. Accepted transfers are queued in Redis and
redeemed by one worker per wallet key of each supported chain.

Chains, wallet keys, approved tokens and spy filters are read from the file
given with --config.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		printBanner()
		configureLogging(cmd, args)
	},
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().Int(
		"rest-port",
		config.DefaultRestPort,
		"Port of the /relayvaa REST listener")

	relayCmd.Flags().Int(
		"prom-port",
		config.DefaultMetricsPort,
		"Port serving Prometheus metrics on /metrics")

	relayCmd.Flags().String(
		"swim-evm-routing-address",
		"",
		"Swim routing contract on EVM chains; transfers must be sent by it")

	viper.BindPFlag("rest_port", relayCmd.Flags().Lookup("rest-port"))
	viper.BindPFlag("prom_port", relayCmd.Flags().Lookup("prom-port"))
	viper.BindPFlag("swim_evm_routing_address", relayCmd.Flags().Lookup("swim-evm-routing-address"))
}

func runRelay(cmd *cobra.Command, args []string) (err error) {
	logger := configureLogging(cmd, args)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger.Info("Configuration",
		zap.String("spyRPC", cfg.SpyRPCHost),
		zap.Int("spyFilters", len(cfg.SpyFilters)),
		zap.Int("restPort", cfg.RestPort),
		zap.Int("promPort", cfg.MetricsPort),
		zap.String("redis", cfg.Redis.Addr),
		zap.String("routingContract", cfg.SwimEVMRoutingAddress),
		zap.Int("supportedTokens", len(cfg.SupportedTokens)),
		zap.Int("supportedChains", len(cfg.SupportedChains)))

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := store.New(logger, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to create queue store: %v", err)
	}
	if perr := queue.Ping(ctx); perr != nil {
		logger.Warn("Redis not reachable yet, accepted VAAs will be parked", zap.Error(perr))
	}

	spyClient, err := clients.NewSpyClient(logger, cfg.SpyRPCHost)
	if err != nil {
		_ = queue.Close()
		return fmt.Errorf("failed to create spy client: %v", err)
	}
	defer func() {
		err = multierr.Combine(err, spyClient.Close(), queue.Close())
	}()

	relayMetrics := metrics.New(prometheus.DefaultRegisterer, queue.BackupLen)

	validatorCfg, err := validator.NewConfig(cfg)
	if err != nil {
		return err
	}
	ingestor := listener.NewIngestor(logger, validator.New(logger, validatorCfg, queue), queue)

	filters, err := spyFilters(cfg.SpyFilters)
	if err != nil {
		return err
	}
	spyListener := listener.NewSpyListener(logger, spyClient, filters, ingestor)
	restListener := listener.NewRESTListener(logger, ingestor, "swim_relayer_http")

	workers, err := relayer.New(logger, cfg, queue, relayMetrics, submitter.Factory(logger, cfg.SwimEVMRoutingAddress))
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %v", err)
	}
	for _, w := range workers.Workers() {
		logger.Info("Worker ready", zap.String("worker", w.Info().Name()))
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Received shutdown signal")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return spyListener.Run(ctx) })
	g.Go(func() error { return restListener.Run(ctx, fmt.Sprintf(":%d", cfg.RestPort)) })
	g.Go(func() error { return serveMetrics(ctx, logger, cfg.MetricsPort) })
	g.Go(func() error { return queue.RunBackupDrain(ctx, cfg.Redis.BackupInterval) })
	g.Go(func() error { return workers.Run(ctx) })

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relayer stopped with error: %w", err)
	}
	logger.Info("Shutdown complete", zap.Int("parkedVAAs", queue.BackupLen()))
	return nil
}

func spyFilters(filters []config.SpyFilter) ([]clients.EmitterFilter, error) {
	out := make([]clients.EmitterFilter, 0, len(filters))
	for _, f := range filters {
		emitter, err := address.EmitterAddress(f.ChainID, f.EmitterAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid spy filter for chain %d: %w", f.ChainID, err)
		}
		out = append(out, clients.EmitterFilter{ChainID: f.ChainID, EmitterAddress: emitter})
	}
	return out, nil
}

func serveMetrics(ctx context.Context, logger *zap.Logger, port int) error {
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true
	server.GET("/metrics", echoprometheus.NewHandler())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.Int("port", port))
		errCh <- server.Start(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
