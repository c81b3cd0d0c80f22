package rpc

import (
	"math/big"
	"testing"

	"microescrow/core/events"
	"microescrow/crypto"
	"microescrow/host/hosttest"
	"microescrow/indexer"
	"microescrow/native/escrow"
)

func TestEscrowPartiesRenderByKind(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	payer := hosttest.Address(env.payerKey)
	accountCollector := [20]byte{0xcc}
	args := hosttest.MustEncode(t)(escrow.EncodeInitialize(payer, env.fees, accountCollector, env.token, big.NewInt(300)))
	if _, rpcErr := env.send(t, env.escrow, escrow.MethodInitialize, args, env.payerKey); rpcErr != nil {
		t.Fatalf("initialize: %+v", rpcErr)
	}

	raw, rpcErr, _ := env.call(t, "escrow_get", map[string]string{"contract": crypto.FormatContract(env.escrow)}, nil)
	if rpcErr != nil {
		t.Fatalf("escrow_get: %+v", rpcErr)
	}
	var record EscrowResult
	decodeInto(t, raw, &record)
	want := EscrowResult{
		Contract:     crypto.FormatContract(env.escrow),
		Payer:        crypto.FormatAccount(payer),
		Payee:        crypto.FormatContract(env.fees),
		FeeCollector: crypto.FormatAccount(accountCollector),
		Asset:        crypto.FormatContract(env.token),
		Amount:       "300",
		State:        escrow.StatePending.String(),
	}
	if record != want {
		t.Fatalf("escrow_get returned %+v, want %+v", record, want)
	}

	raw, rpcErr, _ = env.call(t, "events_list", map[string]string{"type": events.TypeEscrowFundsLocked}, nil)
	if rpcErr != nil {
		t.Fatalf("events_list: %+v", rpcErr)
	}
	var page indexer.Page
	decodeInto(t, raw, &page)
	if len(page.Events) != 1 {
		t.Fatalf("expected one funds_locked event, got %d", len(page.Events))
	}
	attrs := page.Events[0].Attributes
	if attrs["payee"] != record.Payee || attrs["feeCollector"] != record.FeeCollector || attrs["payer"] != record.Payer {
		t.Fatalf("event attributes %+v disagree with escrow_get %+v", attrs, record)
	}
}
