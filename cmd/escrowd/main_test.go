package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"microescrow/config"
	"microescrow/crypto"
)

func TestResolveGenesisPath(t *testing.T) {
	env := map[string]string{genesisPathEnv: " /env/genesis.yaml "}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cases := []struct {
		name   string
		flag   string
		cfg    string
		lookup func(string) (string, bool)
		want   string
	}{
		{name: "flag wins", flag: "/flag.yaml", cfg: "/cfg.yaml", lookup: lookup, want: "/flag.yaml"},
		{name: "env before config", cfg: "/cfg.yaml", lookup: lookup, want: "/env/genesis.yaml"},
		{name: "config fallback", cfg: " /cfg.yaml ", want: "/cfg.yaml"},
		{name: "none", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveGenesisPath(tc.flag, tc.cfg, tc.lookup); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir: dir,
		ChainID: config.DefaultChainID,
		Storage: config.StorageConfig{Backend: backend, ReceiptsPath: filepath.Join(dir, "receipts.db")},
		RPC:     config.RPCConfig{RateLimitPerSec: 10, RateLimitBurst: 10},
		Indexer: config.IndexerConfig{Enabled: true, DSN: filepath.Join(dir, "index", "events.sqlite")},
	}
}

func writeManifest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "genesis.yaml")
	contents := fmt.Sprintf(`assets:
  - name: usdc
    symbol: USDC
    decimals: 6
    admin: %s
    balances:
      %s: "1000"
feeAccumulators:
  - name: fees
`, crypto.FormatAccount([20]byte{0x0a}), crypto.FormatAccount([20]byte{0x0b}))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNewNodeAppliesGenesisOnce(t *testing.T) {
	cfg := testConfig(t, "leveldb")
	manifest := writeManifest(t, t.TempDir())
	operator := [20]byte{0x01}

	n, err := newNode(context.Background(), cfg, manifest, operator, discardLogger())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	height := n.host.Height()
	root := n.host.Root()
	if height == 0 {
		t.Fatalf("genesis did not advance the ledger")
	}
	n.Close()

	reopened, err := newNode(context.Background(), cfg, manifest, operator, discardLogger())
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	defer reopened.Close()
	if reopened.host.Height() != height || reopened.host.Root() != root {
		t.Fatalf("restart changed ledger: height %d root %s", reopened.host.Height(), reopened.host.Root())
	}
}

func TestNewNodeWithoutOperatorRequiresManifestOperator(t *testing.T) {
	cfg := testConfig(t, "memory")
	manifest := writeManifest(t, t.TempDir())
	if _, err := newNode(context.Background(), cfg, manifest, [20]byte{}, discardLogger()); err == nil {
		t.Fatalf("expected manifest without operator to fail")
	}
}

func TestNewNodeHonoursPausedPrograms(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.PausedPrograms = []string{"escrow"}
	n, err := newNode(context.Background(), cfg, "", [20]byte{}, discardLogger())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	defer n.Close()
	if !n.pauses.IsPaused("escrow") || n.pauses.IsPaused("asset") {
		t.Fatalf("unexpected pause set")
	}
}
