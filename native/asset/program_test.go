package asset

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/host"
	"microescrow/host/hosttest"
)

type assetFixture struct {
	*hosttest.Fixture
	admin [20]byte
	token [20]byte
}

func newAssetFixture(t *testing.T) *assetFixture {
	t.Helper()
	f := hosttest.New(t, map[string]host.Program{ProgramName: New()})
	admin := [20]byte{0xad}
	token := f.Deploy(ProgramName, admin, 0x01, hosttest.MustEncode(t)(EncodeConstructor(admin, " usdc ", 7)))
	return &assetFixture{Fixture: f, admin: admin, token: token}
}

func (f *assetFixture) balance(t *testing.T, holder [20]byte) *big.Int {
	t.Helper()
	out := f.Query(f.token, MethodBalance, hosttest.MustEncode(t)(EncodeBalance(holder)))
	bal, err := DecodeAmount(out)
	if err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	return bal
}

func (f *assetFixture) mint(t *testing.T, to [20]byte, amount int64) {
	t.Helper()
	if _, err := f.InvokeAs(f.token, MethodMint, hosttest.MustEncode(t)(EncodeMint(to, big.NewInt(amount))), f.admin); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func TestConstructorNormalisesMetadata(t *testing.T) {
	f := newAssetFixture(t)
	meta, err := DecodeMetadata(f.Query(f.token, MethodMetadata, nil))
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Symbol != "USDC" || meta.Decimals != 7 || meta.Admin != f.admin {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	_, err = f.Host.DeployAs(context.Background(), ProgramName, hosttest.Salt(0x02), f.admin, hosttest.MustEncode(t)(EncodeConstructor(f.admin, "  ", 7)))
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected empty symbol to fail, got %v", err)
	}
}

func TestMintRequiresAdmin(t *testing.T) {
	f := newAssetFixture(t)
	holder := [20]byte{0x01}
	_, err := f.InvokeAs(f.token, MethodMint, hosttest.MustEncode(t)(EncodeMint(holder, big.NewInt(10))), holder)
	if !errors.Is(err, host.ErrAuthorizationFailed) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	f.mint(t, holder, 1000)
	if got := f.balance(t, holder); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected balance %s", got)
	}
}

func TestTransfer(t *testing.T) {
	from := [20]byte{0x01}
	to := [20]byte{0x02}
	cases := []struct {
		name     string
		amount   int64
		signer   [20]byte
		wantErr  error
		wantFrom int64
		wantTo   int64
	}{
		{name: "moves funds", amount: 400, signer: from, wantFrom: 600, wantTo: 400},
		{name: "zero is allowed", amount: 0, signer: from, wantFrom: 1000, wantTo: 0},
		{name: "whole balance", amount: 1000, signer: from, wantFrom: 0, wantTo: 1000},
		{name: "insufficient", amount: 1001, signer: from, wantErr: ErrInsufficientBalance, wantFrom: 1000},
		{name: "negative", amount: -1, signer: from, wantErr: ErrNegativeAmount, wantFrom: 1000},
		{name: "unauthorized", amount: 1, signer: to, wantErr: host.ErrAuthorizationFailed, wantFrom: 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAssetFixture(t)
			f.mint(t, from, 1000)
			f.Events.Reset()
			args := hosttest.MustEncode(t)(EncodeTransfer(from, to, big.NewInt(tc.amount)))
			_, err := f.InvokeAs(f.token, MethodTransfer, args, tc.signer)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if len(f.Events.Envelopes()) != 0 {
					t.Fatalf("failed transfer published events")
				}
			} else if err != nil {
				t.Fatalf("transfer: %v", err)
			}
			if got := f.balance(t, from); got.Cmp(big.NewInt(tc.wantFrom)) != 0 {
				t.Fatalf("from balance %s, want %d", got, tc.wantFrom)
			}
			if got := f.balance(t, to); got.Cmp(big.NewInt(tc.wantTo)) != 0 {
				t.Fatalf("to balance %s, want %d", got, tc.wantTo)
			}
			if tc.wantErr == nil {
				envs := f.Events.Envelopes()
				if len(envs) != 1 || envs[0].EventType() != events.TypeAssetTransfer {
					t.Fatalf("expected one transfer event, got %v", f.Events.Types())
				}
			}
		})
	}
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	f := newAssetFixture(t)
	holder := [20]byte{0x03}
	f.mint(t, holder, 50)
	if _, err := f.InvokeAs(f.token, MethodTransfer, hosttest.MustEncode(t)(EncodeTransfer(holder, holder, big.NewInt(20))), holder); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := f.balance(t, holder); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected balance %s", got)
	}
}

func TestMintCapsAtInt128(t *testing.T) {
	f := newAssetFixture(t)
	holder := [20]byte{0x04}
	args := hosttest.MustEncode(t)(EncodeMint(holder, types.MaxInt128))
	if _, err := f.InvokeAs(f.token, MethodMint, args, f.admin); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	_, err := f.InvokeAs(f.token, MethodMint, hosttest.MustEncode(t)(EncodeMint(holder, big.NewInt(1))), f.admin)
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := f.balance(t, holder); got.Cmp(types.MaxInt128) != 0 {
		t.Fatalf("balance changed after failed mint: %s", got)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newAssetFixture(t)
	if _, err := f.InvokeAs(f.token, "burn", nil); !errors.Is(err, host.ErrMethodNotFound) {
		t.Fatalf("expected method not found, got %v", err)
	}
}
