package rpc

import (
	"net/http"
	"strings"
	"testing"

	"microescrow/native/asset"
	"microescrow/native/escrow"
)

func TestReceiptQueries(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	raw, rpcErr := env.send(t, env.escrow, escrow.MethodInitialize, env.initializeArgs(t, 500), env.payerKey)
	if rpcErr != nil {
		t.Fatalf("initialize: %+v", rpcErr)
	}
	var inv InvocationResult
	decodeInto(t, raw, &inv)

	raw, rpcErr, _ = env.call(t, "host_receiptByHeight", map[string]uint64{"height": inv.Height}, nil)
	if rpcErr != nil {
		t.Fatalf("host_receiptByHeight: %+v", rpcErr)
	}
	var byHeight ReceiptResult
	decodeInto(t, raw, &byHeight)
	if byHeight.InvocationID != inv.InvocationID || byHeight.Method != escrow.MethodInitialize {
		t.Fatalf("unexpected receipt at height %d: %+v", inv.Height, byHeight)
	}

	raw, rpcErr, _ = env.call(t, "host_latestReceipts", map[string]int{"limit": 2}, nil)
	if rpcErr != nil {
		t.Fatalf("host_latestReceipts: %+v", rpcErr)
	}
	var latest LatestReceiptsResult
	decodeInto(t, raw, &latest)
	if len(latest.Receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(latest.Receipts))
	}
	if latest.Receipts[0].Method != escrow.MethodInitialize || latest.Receipts[1].Method != asset.MethodMint {
		t.Fatalf("receipts not newest first: %s, %s", latest.Receipts[0].Method, latest.Receipts[1].Method)
	}

	if _, rpcErr, _ = env.call(t, "host_latestReceipts", nil, nil); rpcErr != nil {
		t.Fatalf("host_latestReceipts without params: %+v", rpcErr)
	}

	_, rpcErr, status := env.call(t, "host_receiptByHeight", map[string]uint64{"height": inv.Height + 100}, nil)
	if rpcErr == nil || rpcErr.Code != codeNotFound || status != http.StatusNotFound {
		t.Fatalf("expected not found, got %+v (status %d)", rpcErr, status)
	}
	if _, rpcErr, _ = env.call(t, "host_receiptByHeight", map[string]string{}, nil); rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected missing height rejection, got %+v", rpcErr)
	}
	if _, rpcErr, _ = env.call(t, "host_latestReceipts", map[string]int{"limit": maxReceiptPage + 1}, nil); rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected limit rejection, got %+v", rpcErr)
	}
}

func TestPauseAndResumePrograms(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	admin := env.adminHeaders(t)

	_, rpcErr, status := env.call(t, "host_pause", map[string]string{"program": escrow.ProgramName}, nil)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized || status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized pause, got %+v", rpcErr)
	}

	raw, rpcErr, _ := env.call(t, "host_pause", map[string]string{"program": " Escrow "}, admin)
	if rpcErr != nil {
		t.Fatalf("host_pause: %+v", rpcErr)
	}
	var paused PausedResult
	decodeInto(t, raw, &paused)
	if strings.Join(paused.Paused, ",") != escrow.ProgramName || !env.pauses.IsPaused(escrow.ProgramName) {
		t.Fatalf("unexpected paused set %v", paused.Paused)
	}

	raw, rpcErr, _ = env.call(t, "host_paused", nil, nil)
	if rpcErr != nil {
		t.Fatalf("host_paused: %+v", rpcErr)
	}
	decodeInto(t, raw, &paused)
	if strings.Join(paused.Paused, ",") != escrow.ProgramName {
		t.Fatalf("host_paused returned %v", paused.Paused)
	}

	_, rpcErr = env.send(t, env.escrow, escrow.MethodInitialize, env.initializeArgs(t, 500), env.payerKey)
	if rpcErr == nil || rpcErr.Code != codePaused {
		t.Fatalf("expected paused rejection, got %+v", rpcErr)
	}

	raw, rpcErr, _ = env.call(t, "host_resume", map[string]string{"program": escrow.ProgramName}, admin)
	if rpcErr != nil {
		t.Fatalf("host_resume: %+v", rpcErr)
	}
	decodeInto(t, raw, &paused)
	if len(paused.Paused) != 0 {
		t.Fatalf("expected nothing paused, got %v", paused.Paused)
	}
	if _, rpcErr = env.send(t, env.escrow, escrow.MethodInitialize, env.initializeArgs(t, 500), env.payerKey); rpcErr != nil {
		t.Fatalf("initialize after resume: %+v", rpcErr)
	}

	_, rpcErr, _ = env.call(t, "host_pause", map[string]string{"program": "unknown"}, admin)
	if rpcErr == nil || rpcErr.Code != codeNotFound {
		t.Fatalf("expected unknown program rejection, got %+v", rpcErr)
	}
	_, rpcErr, _ = env.call(t, "host_pause", map[string]string{"program": " "}, admin)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected empty program rejection, got %+v", rpcErr)
	}
	if env.pauses.IsPaused(asset.ProgramName) {
		t.Fatal("asset unexpectedly paused")
	}
}
