package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"microescrow/core/types"
	"microescrow/crypto"
)

// Manifest describes the contracts a fresh ledger starts with.
type Manifest struct {
	ChainID         uint64            `yaml:"chainId"`
	Operator        string            `yaml:"operator"`
	Assets          []AssetSpec       `yaml:"assets"`
	FeeAccumulators []AccumulatorSpec `yaml:"feeAccumulators"`
	Escrows         []EscrowSpec      `yaml:"escrows"`

	operator [20]byte
}

type AssetSpec struct {
	Name     string            `yaml:"name"`
	Symbol   string            `yaml:"symbol"`
	Decimals uint8             `yaml:"decimals"`
	Admin    string            `yaml:"admin"`
	Balances map[string]string `yaml:"balances"`

	admin    [20]byte
	balances []allocation
}

type AccumulatorSpec struct {
	Name           string   `yaml:"name"`
	AllowedCallers []string `yaml:"allowedCallers"`

	allowed [][20]byte
}

// EscrowSpec deploys an empty escrow instance owned by Payer. It is
// initialized later through a signed invocation.
type EscrowSpec struct {
	Name  string `yaml:"name"`
	Payer string `yaml:"payer"`

	payer [20]byte
}

type allocation struct {
	holder string
	addr   [20]byte
	amount *big.Int
}

// Load reads and validates a YAML manifest. defaultOperator fills an empty
// operator field.
func Load(path, defaultOperator string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis manifest path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis manifest %q: %w", path, err)
	}
	return parse(raw, defaultOperator)
}

// Parse decodes a manifest, rejecting unknown fields.
func Parse(raw []byte) (*Manifest, error) {
	return parse(raw, "")
}

func parse(raw []byte, defaultOperator string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode genesis manifest: %w", err)
	}
	if strings.TrimSpace(m.Operator) == "" {
		m.Operator = defaultOperator
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	operator, err := parseAccount("operator", m.Operator)
	if err != nil {
		return err
	}
	m.operator = operator

	names := make(map[string]struct{})
	claim := func(kind string, name *string) error {
		*name = strings.TrimSpace(*name)
		if *name == "" {
			return fmt.Errorf("%s: name required", kind)
		}
		if _, dup := names[*name]; dup {
			return fmt.Errorf("%s %q: duplicate name", kind, *name)
		}
		names[*name] = struct{}{}
		return nil
	}

	for i := range m.Assets {
		a := &m.Assets[i]
		if err := claim("asset", &a.Name); err != nil {
			return err
		}
		if strings.TrimSpace(a.Symbol) == "" {
			return fmt.Errorf("asset %q: symbol required", a.Name)
		}
		admin, err := parseAccount(fmt.Sprintf("asset %q admin", a.Name), a.Admin)
		if err != nil {
			return err
		}
		a.admin = admin
		a.balances = a.balances[:0]
		for holder, rawAmount := range a.Balances {
			amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
			if !ok {
				return fmt.Errorf("asset %q balance for %s: invalid amount %q", a.Name, holder, rawAmount)
			}
			if amount.Sign() < 0 {
				return fmt.Errorf("asset %q balance for %s: negative amount", a.Name, holder)
			}
			if err := types.CheckInt128(amount); err != nil {
				return fmt.Errorf("asset %q balance for %s: %w", a.Name, holder, err)
			}
			a.balances = append(a.balances, allocation{holder: holder, amount: amount})
		}
		sort.Slice(a.balances, func(i, j int) bool { return a.balances[i].holder < a.balances[j].holder })
	}

	for i := range m.FeeAccumulators {
		acc := &m.FeeAccumulators[i]
		if err := claim("feeAccumulator", &acc.Name); err != nil {
			return err
		}
	}

	for i := range m.Escrows {
		esc := &m.Escrows[i]
		if err := claim("escrow", &esc.Name); err != nil {
			return err
		}
		payer, err := parseAccount(fmt.Sprintf("escrow %q payer", esc.Name), esc.Payer)
		if err != nil {
			return err
		}
		esc.payer = payer
	}
	return m.resolveReferences()
}

// resolveReferences binds every holder and allowed caller to an address so
// that Apply cannot fail on a bad reference after it has started deploying.
func (m *Manifest) resolveReferences() error {
	addrs := m.Addresses()
	resolve := func(ref string) ([20]byte, error) {
		ref = strings.TrimSpace(ref)
		if addr, ok := addrs[ref]; ok {
			return addr, nil
		}
		addr, err := crypto.ParseAddress(ref)
		if err != nil {
			return [20]byte{}, fmt.Errorf("not a manifest name or address: %w", err)
		}
		return addr, nil
	}

	for i := range m.Assets {
		a := &m.Assets[i]
		supply := new(big.Int)
		for j := range a.balances {
			alloc := &a.balances[j]
			addr, err := resolve(alloc.holder)
			if err != nil {
				return fmt.Errorf("asset %q holder %q: %w", a.Name, alloc.holder, err)
			}
			alloc.addr = addr
			supply.Add(supply, alloc.amount)
		}
		if err := types.CheckInt128(supply); err != nil {
			return fmt.Errorf("asset %q total supply: %w", a.Name, err)
		}
	}

	for i := range m.FeeAccumulators {
		acc := &m.FeeAccumulators[i]
		acc.allowed = acc.allowed[:0]
		for _, ref := range acc.AllowedCallers {
			if strings.TrimSpace(ref) == "" {
				continue
			}
			addr, err := resolve(ref)
			if err != nil {
				return fmt.Errorf("fee accumulator %q caller %q: %w", acc.Name, ref, err)
			}
			acc.allowed = append(acc.allowed, addr)
		}
	}
	return nil
}

func parseAccount(field, raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.Prefix() != crypto.AccountPrefix {
		return [20]byte{}, fmt.Errorf("%s: expected an account address", field)
	}
	return addr.Raw(), nil
}
