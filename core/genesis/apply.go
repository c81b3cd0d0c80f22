package genesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"microescrow/crypto"
	"microescrow/host"
	"microescrow/native/asset"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
)

// Result maps manifest names to deployed addresses.
type Result struct {
	Contracts map[string][20]byte
}

// Salt derives the deployment salt for a manifest entry.
func Salt(name string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte("microescrow/genesis/" + strings.TrimSpace(name)))
}

// Addresses predicts every contract address the manifest deploys.
func (m *Manifest) Addresses() map[string][20]byte {
	out := make(map[string][20]byte, len(m.Assets)+len(m.FeeAccumulators)+len(m.Escrows))
	for _, a := range m.Assets {
		out[a.Name] = host.ContractAddress(m.operator, Salt(a.Name), asset.ProgramName)
	}
	for _, acc := range m.FeeAccumulators {
		out[acc.Name] = host.ContractAddress(m.operator, Salt(acc.Name), feeaccumulator.ProgramName)
	}
	for _, esc := range m.Escrows {
		out[esc.Name] = host.ContractAddress(esc.payer, Salt(esc.Name), escrow.ProgramName)
	}
	return out
}

// Apply deploys the manifest onto an empty ledger. Entries are applied in
// name order so two nodes reach the same root. The manifest is validated
// again first, so every reference is known to resolve before the first
// deployment commits.
func Apply(ctx context.Context, h *host.Host, m *Manifest, logger *slog.Logger) (*Result, error) {
	if h == nil || m == nil {
		return nil, fmt.Errorf("genesis: host and manifest required")
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if h.Height() != 0 {
		return nil, fmt.Errorf("genesis: ledger already at height %d", h.Height())
	}
	if m.ChainID != 0 && m.ChainID != h.ChainID() {
		return nil, fmt.Errorf("genesis: manifest chain id %d does not match host chain id %d", m.ChainID, h.ChainID())
	}
	if logger == nil {
		logger = slog.Default()
	}
	addrs := m.Addresses()

	assets := append([]AssetSpec(nil), m.Assets...)
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	for _, a := range assets {
		args, err := asset.EncodeConstructor(a.admin, a.Symbol, a.Decimals)
		if err != nil {
			return nil, fmt.Errorf("genesis: asset %q: %w", a.Name, err)
		}
		if err := deploy(ctx, h, asset.ProgramName, a.Name, m.operator, args, addrs[a.Name]); err != nil {
			return nil, err
		}
		logger.Info("genesis asset deployed",
			slog.String("name", a.Name),
			slog.String("symbol", strings.ToUpper(a.Symbol)),
			slog.String("contract", crypto.FormatContract(addrs[a.Name])))
	}

	accumulators := append([]AccumulatorSpec(nil), m.FeeAccumulators...)
	sort.Slice(accumulators, func(i, j int) bool { return accumulators[i].Name < accumulators[j].Name })
	for _, acc := range accumulators {
		args, err := feeaccumulator.EncodeConstructor(acc.allowed...)
		if err != nil {
			return nil, fmt.Errorf("genesis: fee accumulator %q: %w", acc.Name, err)
		}
		if err := deploy(ctx, h, feeaccumulator.ProgramName, acc.Name, m.operator, args, addrs[acc.Name]); err != nil {
			return nil, err
		}
		logger.Info("genesis fee accumulator deployed",
			slog.String("name", acc.Name),
			slog.Int("allowedCallers", len(acc.allowed)),
			slog.String("contract", crypto.FormatContract(addrs[acc.Name])))
	}

	escrows := append([]EscrowSpec(nil), m.Escrows...)
	sort.Slice(escrows, func(i, j int) bool { return escrows[i].Name < escrows[j].Name })
	for _, esc := range escrows {
		if err := deploy(ctx, h, escrow.ProgramName, esc.Name, esc.payer, nil, addrs[esc.Name]); err != nil {
			return nil, err
		}
		logger.Info("genesis escrow deployed",
			slog.String("name", esc.Name),
			slog.String("contract", crypto.FormatContract(addrs[esc.Name])))
	}

	for _, a := range assets {
		for _, alloc := range a.balances {
			args, err := asset.EncodeMint(alloc.addr, alloc.amount)
			if err != nil {
				return nil, fmt.Errorf("genesis: asset %q mint: %w", a.Name, err)
			}
			if _, err := h.InvokeAs(ctx, addrs[a.Name], asset.MethodMint, args, a.admin); err != nil {
				return nil, fmt.Errorf("genesis: asset %q mint to %s: %w", a.Name, alloc.holder, err)
			}
		}
	}

	return &Result{Contracts: addrs}, nil
}

func deploy(ctx context.Context, h *host.Host, program, name string, deployer [20]byte, args []byte, want [20]byte) error {
	addr, err := h.DeployAs(ctx, program, Salt(name), deployer, args)
	if err != nil {
		return fmt.Errorf("genesis: deploy %s %q: %w", program, name, err)
	}
	if addr != want {
		return fmt.Errorf("genesis: %s %q deployed at unexpected address %s", program, name, crypto.FormatContract(addr))
	}
	return nil
}
