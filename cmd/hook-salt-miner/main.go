package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/screa/hook-salt-miner/internal/cache"
	"github.com/screa/hook-salt-miner/internal/config"
	"github.com/screa/hook-salt-miner/internal/crypto"
	logpkg "github.com/screa/hook-salt-miner/internal/logger"
	"github.com/screa/hook-salt-miner/internal/metrics"
	minerpkg "github.com/screa/hook-salt-miner/pkg/miner"
	"github.com/screa/hook-salt-miner/pkg/oracle"
	"github.com/screa/hook-salt-miner/pkg/types"
)

var (
	cfg    = config.NewConfig()
	logger *logpkg.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg.ApplyEnv()

	rootCmd := &cobra.Command{
		Use:   "hook-salt-miner",
		Short: "Mine CREATE2 salts for hook-permissioned strategy addresses",
		Long: `Searches the deterministic salt sequence of a (token, user) pair for a
salt whose predicted deployment address carries the required hook permission
bits. Addresses are predicted by the factory's view function over JSON-RPC,
or locally from a known init code hash.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
		RunE: runMiner,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")
	pf.StringVarP(&cfg.LogFile, "log-file", "l", cfg.LogFile, "Log file for progress tracking (default: stdout)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	pf.Uint16Var(&cfg.Mask, "mask", cfg.Mask, "Hook permission mask applied to the low 16 address bits")
	pf.Uint16Var(&cfg.RequiredBits, "bits", cfg.RequiredBits, "Bits required under the mask")
	pf.StringVarP(&cfg.Encoding, "encoding", "e", cfg.Encoding, "Inner salt encoding of (user, outer salt): packed or abi")

	f := rootCmd.Flags()
	f.StringVarP(&cfg.RPCURL, "rpc-url", "r", cfg.RPCURL, "JSON-RPC endpoint used to predict addresses")
	f.StringVar(&cfg.PredictSignature, "signature", cfg.PredictSignature, "Factory view function used to predict addresses")
	f.StringVar(&cfg.InitCodeHash, "init-code-hash", cfg.InitCodeHash, "Predict addresses locally with CREATE2 and this init code hash")
	f.StringVar(&cfg.Factory, "factory", cfg.Factory, "Strategy factory address (required)")
	f.StringVarP(&cfg.Token, "token", "t", cfg.Token, "Token address (required)")
	f.StringVar(&cfg.Deployer, "deployer", cfg.Deployer, "Launcher contract passed as sender of the prediction (required)")
	f.StringVarP(&cfg.User, "user", "u", cfg.User, "User address folded into the salt (required)")
	f.StringVarP(&cfg.TotalSupply, "total-supply", "s", cfg.TotalSupply, "Token total supply, decimal or 0x hex (required)")
	f.StringVarP(&cfg.ConfigData, "config-data", "c", cfg.ConfigData, "Strategy config data (hex)")
	f.StringVarP(&cfg.ConfigDataFile, "config-data-file", "F", cfg.ConfigDataFile, "File containing strategy config data (hex)")
	f.IntVarP(&cfg.MaxAttempts, "max-attempts", "n", cfg.MaxAttempts, "Maximum number of salts to try")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Give up after this long")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Prediction calls kept in flight")
	f.IntVar(&cfg.ProgressInterval, "progress-interval", cfg.ProgressInterval, "Report progress every N attempts")
	f.IntVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Verbose logging interval in seconds")
	f.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Cache found salts in Redis (redis://host:port/db)")
	f.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Lifetime of cached salts in Redis")
	f.BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, "Always mine, ignoring cached salts")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(newInnerSaltCmd(), newCheckCmd())
	return rootCmd
}

func runMiner(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	req, err := cfg.Request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		addr, err := metrics.StartServer(ctx, m, cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info("serving metrics", "addr", addr.String())
	}

	predictor, scope, closeFn, err := newPredictor(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	predictor = oracle.Instrument(predictor, m)

	logger.Info("starting hook salt miner",
		"target", cfg.GetTargetDescription(),
		"oracle", scope,
		"max_attempts", req.MaxAttempts,
		"timeout", req.Timeout,
		"workers", cfg.Workers,
	)

	miner := minerpkg.NewMiner(cfg, logger, minerpkg.WithMetrics(m))

	store := openCache(ctx)
	defer store.Close()
	key := cache.Key(req, scope)

	if result := lookupCached(ctx, miner, store, key, req, predictor); result != nil {
		printResult(cmd.OutOrStdout(), result, true)
		return nil
	}

	result, err := miner.Mine(ctx, req, predictor, func(attempts, maxAttempts int) {
		logger.Info("progress", "attempts", attempts, "max_attempts", maxAttempts)
	})
	if err != nil {
		return err
	}

	if !result.Found() {
		return describeFailure(result)
	}

	if err := store.Put(ctx, key, cache.NewEntry(result)); err != nil {
		logger.WithError(err).Warn("failed to cache salt")
	}
	printResult(cmd.OutOrStdout(), result, false)
	return nil
}

// newPredictor returns the configured address predictor and a scope string
// naming it for cache keys
func newPredictor(ctx context.Context) (oracle.Predictor, string, func(), error) {
	if cfg.InitCodeHash != "" {
		hash, err := crypto.ParseHash(cfg.InitCodeHash)
		if err != nil {
			return nil, "", nil, fmt.Errorf("invalid init code hash: %w", err)
		}
		return &oracle.Create2Predictor{InitCodeHash: hash}, "create2:" + hash.Hex(), func() {}, nil
	}

	p, err := oracle.DialRPCPredictor(ctx, cfg.RPCURL, oracle.WithSignature(cfg.PredictSignature))
	if err != nil {
		return nil, "", nil, err
	}
	return p, "rpc:" + cfg.PredictSignature, p.Close, nil
}

func openCache(ctx context.Context) cache.Cache {
	if cfg.NoCache || cfg.RedisURL == "" {
		return cache.NewMemory()
	}
	store, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		logger.WithError(err).Warn("salt cache unavailable, mining without it")
		return cache.NewMemory()
	}
	return store
}

// lookupCached returns a cached salt after checking it against the oracle
func lookupCached(ctx context.Context, miner *minerpkg.Miner, store cache.Cache, key common.Hash, req *types.MiningRequest, predictor oracle.Predictor) *types.Result {
	if cfg.NoCache {
		return nil
	}
	entry, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.WithError(err).Warn("salt cache lookup failed")
		}
		return nil
	}

	result, err := miner.Verify(ctx, req, predictor, entry.OuterSalt)
	if err != nil {
		logger.WithError(err).Warn("cached salt rejected", "outer_salt", entry.OuterSalt.Hex())
		return nil
	}
	result.Attempts = entry.Attempts
	return result
}

func describeFailure(result *types.Result) error {
	err := result.Err()
	switch result.Outcome {
	case types.OutcomeExhausted, types.OutcomeTimedOut:
		return fmt.Errorf("%w; consider increasing --max-attempts or --timeout", err)
	case types.OutcomeOracleUnavailable:
		return fmt.Errorf("%w; check --rpc-url and the factory address", err)
	default:
		return err
	}
}

func printResult(w io.Writer, result *types.Result, cached bool) {
	rate := 0.0
	if result.Duration.Seconds() > 0 {
		rate = float64(result.Attempts) / result.Duration.Seconds()
	}

	logger.Info("found match",
		"cached", cached,
		"attempts", result.Attempts,
		"oracle_errors", result.OracleErrors,
		"duration", result.Duration,
		"rate", fmt.Sprintf("%.2f salts/sec", rate),
	)
	fmt.Fprintf(w, "Outer salt: %s\n", result.OuterSalt.Hex())
	fmt.Fprintf(w, "Inner salt: %s\n", result.InnerSalt.Hex())
	fmt.Fprintf(w, "Address:    %s\n", result.Address.Hex())
	fmt.Fprintf(w, "Hook bits:  0x%04x\n", crypto.HookBits(result.Address))
}

func setupLogging() error {
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger = logpkg.NewWriter(file, cfg.LogLevel, cfg.LogFormat)
		return nil
	}
	logger = logpkg.NewWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	return nil
}
