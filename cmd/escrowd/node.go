package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"microescrow/config"
	"microescrow/core/events"
	"microescrow/core/genesis"
	"microescrow/crypto"
	"microescrow/host"
	"microescrow/indexer"
	"microescrow/native/asset"
	nativecommon "microescrow/native/common"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
	"microescrow/receipts"
	"microescrow/rpc"
	"microescrow/storage"
)

// node bundles everything escrowd runs so it can be torn down in order.
type node struct {
	db       storage.Database
	host     *host.Host
	indexer  *indexer.Indexer
	receipts *receipts.Store
	server   *rpc.Server
	pauses   *nativecommon.PauseSet
	logger   *slog.Logger
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data dir: %w", err)
		}
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	}
}

func newNode(ctx context.Context, cfg *config.Config, genesisPath string, operator [20]byte, logger *slog.Logger) (*node, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	n := &node{db: db, logger: logger}
	ok := false
	defer func() {
		if !ok {
			n.Close()
		}
	}()

	h, err := host.New(db, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	h.SetLogger(logger)
	h.Register(asset.ProgramName, asset.New())
	h.Register(escrow.ProgramName, escrow.New())
	h.Register(feeaccumulator.ProgramName, feeaccumulator.New())
	n.pauses = nativecommon.NewPauseSet(cfg.PausedPrograms...)
	h.SetPauseView(n.pauses)
	n.host = h

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.ReceiptsPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare receipts dir: %w", err)
	}
	n.receipts, err = receipts.Open(cfg.Storage.ReceiptsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open receipts: %w", err)
	}
	h.SetReceiptRecorder(n.receipts)

	if cfg.Indexer.Enabled {
		if !strings.HasPrefix(cfg.Indexer.DSN, "postgres") {
			if err := os.MkdirAll(filepath.Dir(cfg.Indexer.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("prepare index dir: %w", err)
			}
		}
		gdb, err := indexer.Open(cfg.Indexer.DSN)
		if err != nil {
			return nil, err
		}
		n.indexer, err = indexer.New(gdb, logger)
		if err != nil {
			return nil, err
		}
	}

	n.server, err = rpc.NewServer(h, n.indexer, n.receipts, nil, rpc.ServerConfig{
		JWTSecret:         cfg.RPC.JWTSecret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RateLimitPerSec:   cfg.RPC.RateLimitPerSec,
		RateLimitBurst:    cfg.RPC.RateLimitBurst,
		TrustedProxies:    cfg.RPC.TrustedProxies,
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPC.IdleTimeout) * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}
	n.server.SetPauses(n.pauses)
	h.SetEmitter(events.NewMultiEmitter(n.server.Emitter(), eventLog{logger: logger}))

	if err := n.applyGenesis(ctx, genesisPath, operator); err != nil {
		return nil, err
	}
	ok = true
	return n, nil
}

// eventLog writes each committed event at debug level.
type eventLog struct {
	logger *slog.Logger
}

func (l eventLog) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	l.logger.Debug("event committed",
		slog.String("type", env.EventType()),
		slog.String("contract", crypto.FormatContract(env.Contract)),
		slog.Uint64("height", env.Height),
		slog.String("invocation", env.InvocationID))
}

func (n *node) applyGenesis(ctx context.Context, path string, operator [20]byte) error {
	path = strings.TrimSpace(path)
	if n.host.Height() > 0 {
		if path != "" {
			n.logger.Info("ledger already initialised; ignoring genesis manifest",
				slog.Uint64("height", n.host.Height()),
				slog.String("genesis", path))
		}
		return nil
	}
	if path == "" {
		n.logger.Warn("starting empty ledger without genesis manifest")
		return nil
	}
	var defaultOperator string
	if operator != ([20]byte{}) {
		defaultOperator = crypto.FormatAccount(operator)
	}
	manifest, err := genesis.Load(path, defaultOperator)
	if err != nil {
		return err
	}
	res, err := genesis.Apply(ctx, n.host, manifest, n.logger)
	if err != nil {
		return err
	}
	n.logger.Info("genesis applied",
		slog.Int("contracts", len(res.Contracts)),
		slog.Uint64("height", n.host.Height()),
		slog.String("root", n.host.Root().Hex()))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (n *node) Close() {
	var errs []error
	if n.indexer != nil {
		errs = append(errs, n.indexer.Close())
	}
	if n.receipts != nil {
		errs = append(errs, n.receipts.Close())
	}
	if n.db != nil {
		n.db.Close()
	}
	if err := errors.Join(errs...); err != nil {
		n.logger.Warn("shutdown errors", slog.String("error", err.Error()))
	}
}
