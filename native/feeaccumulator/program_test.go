package feeaccumulator

import (
	"errors"
	"math/big"
	"testing"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/host"
	"microescrow/host/hosttest"
)

func total(t *testing.T, f *hosttest.Fixture, collector [20]byte) *big.Int {
	t.Helper()
	out, err := DecodeTotal(f.Query(collector, MethodTotal, nil))
	if err != nil {
		t.Fatalf("decode total: %v", err)
	}
	return out
}

func trackArgs(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	return hosttest.MustEncode(t)(EncodeTrackFee(amount))
}

func TestTrackFeeAccumulates(t *testing.T) {
	f := hosttest.New(t, map[string]host.Program{ProgramName: New()})
	collector := f.Deploy(ProgramName, [20]byte{0x01}, 0x01, nil)

	if got := total(t, f, collector); got.Sign() != 0 {
		t.Fatalf("expected implicit zero total, got %s", got)
	}
	for _, amount := range []int64{10, 0, 5} {
		if _, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, big.NewInt(amount))); err != nil {
			t.Fatalf("track %d: %v", amount, err)
		}
	}
	if got := total(t, f, collector); got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected total 15, got %s", got)
	}
	envs := f.Events.Envelopes()
	if len(envs) != 3 || envs[2].EventType() != events.TypeFeeTracked {
		t.Fatalf("unexpected events %v", f.Events.Types())
	}
	if envs[2].Payload.Attributes["total"] != "15" {
		t.Fatalf("unexpected total attribute %q", envs[2].Payload.Attributes["total"])
	}
}

func TestTrackFeeFailsOnOverflow(t *testing.T) {
	f := hosttest.New(t, map[string]host.Program{ProgramName: New()})
	collector := f.Deploy(ProgramName, [20]byte{0x02}, 0x01, nil)

	if _, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, types.MaxInt128)); err != nil {
		t.Fatalf("track max: %v", err)
	}
	_, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, big.NewInt(1)))
	if !errors.Is(err, ErrTotalOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if got := total(t, f, collector); got.Cmp(types.MaxInt128) != 0 {
		t.Fatalf("total changed after overflow: %s", got)
	}
}

func TestAllowListRestrictsCallers(t *testing.T) {
	f := hosttest.New(t, map[string]host.Program{ProgramName: New()})
	allowed := [20]byte{0x0a}
	ctorArgs, err := host.EncodeArgs(ConstructorArgs{Allowed: [][20]byte{allowed}})
	if err != nil {
		t.Fatalf("encode ctor: %v", err)
	}
	collector := f.Deploy(ProgramName, [20]byte{0x03}, 0x01, ctorArgs)

	if _, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, big.NewInt(3)), [20]byte{0x0b}); !errors.Is(err, ErrCallerNotAllowed) {
		t.Fatalf("expected caller rejection, got %v", err)
	}
	if _, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, big.NewInt(3)), allowed); err != nil {
		t.Fatalf("allowed caller: %v", err)
	}
	if got := total(t, f, collector); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected total %s", got)
	}
}

func TestEmptyAllowListIsOpen(t *testing.T) {
	f := hosttest.New(t, map[string]host.Program{ProgramName: New()})
	ctorArgs, err := host.EncodeArgs(ConstructorArgs{})
	if err != nil {
		t.Fatalf("encode ctor: %v", err)
	}
	collector := f.Deploy(ProgramName, [20]byte{0x04}, 0x01, ctorArgs)
	if _, err := f.InvokeAs(collector, MethodTrackFee, trackArgs(t, big.NewInt(1)), [20]byte{0x0c}); err != nil {
		t.Fatalf("open accumulator rejected caller: %v", err)
	}
}
