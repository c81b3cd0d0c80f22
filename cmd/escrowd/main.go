package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"microescrow/cmd/internal/passphrase"
	"microescrow/config"
	"microescrow/crypto"
	"microescrow/observability/logging"
	telemetry "microescrow/observability/otel"
)

const genesisPathEnv = "ESCROW_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a YAML genesis manifest (overrides ESCROW_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.SetupWithOptions("escrowd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := run(ctx, cfg, genesisPath, logger); err != nil {
		logger.Error("escrowd stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		headers, err := telemetry.ParseHeaders(cfg.Telemetry.Headers)
		if err != nil {
			return err
		}
		providers, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "escrowd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     headers,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      true,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := providers.Shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	operator, err := loadOperator(cfg, passphrase.NewSource(config.EnvKeystorePassphrase, "operator keystore"))
	if err != nil {
		return err
	}

	n, err := newNode(ctx, cfg, genesisPath, operator, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	logger.Info("escrowd ready",
		slog.Uint64("chainId", cfg.ChainID),
		slog.Uint64("height", n.host.Height()),
		slog.String("operator", crypto.FormatAccount(operator)),
		slog.Any("pausedPrograms", cfg.PausedPrograms))
	return n.server.Serve(ctx, cfg.RPCAddress)
}

// loadOperator decrypts the operator keystore with the environment
// passphrase before falling back to a prompt.
func loadOperator(cfg *config.Config, source *passphrase.Source) ([20]byte, error) {
	path := strings.TrimSpace(cfg.OperatorKeystorePath)
	if path == "" {
		return [20]byte{}, nil
	}
	if key, err := crypto.LoadFromKeystore(path, config.KeystorePassphrase()); err == nil {
		return key.PubKey().Address().Raw(), nil
	}
	pass, err := source.Get()
	if err != nil {
		return [20]byte{}, fmt.Errorf("operator keystore passphrase: %w", err)
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return [20]byte{}, fmt.Errorf("load operator keystore: %w", err)
	}
	return key.PubKey().Address().Raw(), nil
}

func resolveGenesisPath(flagValue, cfgValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if env, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(env); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgValue)
}
