package receipts

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"microescrow/core/types"
	"microescrow/host"
	"microescrow/host/hosttest"
	"microescrow/native/asset"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "receipts.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndLookup(t *testing.T) {
	store := openStore(t)
	receipt := &host.Receipt{
		InvocationID: "inv-1",
		Contract:     [20]byte{0x01},
		Method:       "releaseFunds",
		Height:       7,
		Root:         common.HexToHash("0xabc"),
		Result:       []byte{0xc0},
		Events:       []*types.Event{{Type: "escrow.funds_released", Attributes: map[string]string{"feeAmount": "10"}}},
		Time:         1700000000,
	}
	if err := store.Record(receipt); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := store.Get("inv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Method != "releaseFunds" || got.Height != 7 || !got.Success() {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Root != receipt.Root.Hex() {
		t.Fatalf("unexpected root %s", got.Root)
	}
	if len(got.Events) != 1 || got.Events[0].Attributes["feeAmount"] != "10" {
		t.Fatalf("unexpected events %+v", got.Events)
	}

	byHeight, err := store.ByHeight(7)
	if err != nil {
		t.Fatalf("by height: %v", err)
	}
	if byHeight.InvocationID != "inv-1" {
		t.Fatalf("height index points at %s", byHeight.InvocationID)
	}
}

func TestLookupMisses(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.ByHeight(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Record(&host.Receipt{}); err == nil {
		t.Fatalf("expected missing invocation id to be rejected")
	}
}

func TestLatestNewestFirst(t *testing.T) {
	store := openStore(t)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Record(&host.Receipt{InvocationID: id, Height: uint64(i + 1)}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	latest, err := store.Latest(2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].InvocationID != "c" || latest[1].InvocationID != "b" {
		t.Fatalf("unexpected order %+v", latest)
	}
}

func TestHostRecordsFailedSignedInvocation(t *testing.T) {
	store := openStore(t)
	f := hosttest.New(t, map[string]host.Program{asset.ProgramName: asset.New()})
	f.Host.SetReceiptRecorder(store)

	admin := hosttest.Key(t, 0x0a)
	holder := hosttest.Key(t, 0x0b)
	token := f.Deploy(asset.ProgramName, hosttest.Address(admin), 0x01,
		hosttest.MustEncode(t)(asset.EncodeConstructor(hosttest.Address(admin), "USDC", 6)))

	args := hosttest.MustEncode(t)(asset.EncodeTransfer(hosttest.Address(holder), hosttest.Address(admin), big.NewInt(5)))
	receipt, err := f.InvokeSigned(token, asset.MethodTransfer, args, holder)
	if !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if receipt == nil {
		t.Fatalf("signed failure must still produce a receipt")
	}

	stored, err := store.Get(receipt.InvocationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Success() || stored.Error == "" {
		t.Fatalf("expected failed receipt, got %+v", stored)
	}
	if len(stored.Events) != 0 {
		t.Fatalf("failed receipt carries events %+v", stored.Events)
	}
}
