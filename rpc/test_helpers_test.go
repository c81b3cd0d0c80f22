package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"microescrow/core/events"
	"microescrow/core/types"
	"microescrow/crypto"
	"microescrow/host"
	"microescrow/host/hosttest"
	"microescrow/indexer"
	"microescrow/native/asset"
	nativecommon "microescrow/native/common"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
	"microescrow/receipts"
)

const testJWTSecret = "rpc-test-secret"

type testEnv struct {
	fixture  *hosttest.Fixture
	server   *Server
	pauses   *nativecommon.PauseSet
	http     *httptest.Server
	payerKey *crypto.PrivateKey
	payeeKey *crypto.PrivateKey
	token    [20]byte
	fees     [20]byte
	escrow   [20]byte
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	f := hosttest.New(t, map[string]host.Program{
		asset.ProgramName:          asset.New(),
		escrow.ProgramName:         escrow.New(),
		feeaccumulator.ProgramName: feeaccumulator.New(),
	})

	db, err := indexer.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	idx, err := indexer.New(db, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	store, err := receipts.Open(filepath.Join(t.TempDir(), "receipts.db"), nil)
	if err != nil {
		t.Fatalf("open receipts: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testJWTSecret
	}
	if cfg.RateLimitPerSec == 0 {
		cfg.RateLimitPerSec = 1000
		cfg.RateLimitBurst = 1000
	}
	srv, err := NewServer(f.Host, idx, store, nil, cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.Host.SetEmitter(events.NewMultiEmitter(f.Events, srv.Emitter()))
	f.Host.SetReceiptRecorder(store)
	pauses := nativecommon.NewPauseSet()
	f.Host.SetPauseView(pauses)
	srv.SetPauses(pauses)

	env := &testEnv{
		fixture:  f,
		server:   srv,
		pauses:   pauses,
		payerKey: hosttest.Key(t, 0x11),
		payeeKey: hosttest.Key(t, 0x12),
	}
	admin := [20]byte{0xad}
	env.token = f.Deploy(asset.ProgramName, admin, 0x01, hosttest.MustEncode(t)(asset.EncodeConstructor(admin, "USDC", 6)))
	env.fees = f.Deploy(feeaccumulator.ProgramName, admin, 0x02, nil)
	env.escrow = f.Deploy(escrow.ProgramName, hosttest.Address(env.payerKey), 0x03, nil)
	if _, err := f.InvokeAs(env.token, asset.MethodMint, hosttest.MustEncode(t)(asset.EncodeMint(hosttest.Address(env.payerKey), big.NewInt(1000))), admin); err != nil {
		t.Fatalf("mint: %v", err)
	}

	env.http = httptest.NewServer(srv.Handler())
	t.Cleanup(env.http.Close)
	return env
}

// call posts a JSON-RPC request and returns the raw result or error.
func (e *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) (json.RawMessage, *RPCError, int) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := e.http.Client().Do(httpReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Result, envelope.Error, resp.StatusCode
}

func (e *testEnv) invocation(t *testing.T, contract [20]byte, method string, args []byte, keys ...*crypto.PrivateKey) string {
	t.Helper()
	inv := host.Invocation{Contract: contract, Method: method, Args: args}
	for _, key := range keys {
		nonce, err := e.fixture.Host.Nonce(hosttest.Address(key))
		if err != nil {
			t.Fatalf("nonce: %v", err)
		}
		if err := host.SignInvocation(hosttest.ChainID, &inv, key, nonce); err != nil {
			t.Fatalf("sign: %v", err)
		}
	}
	encoded, err := rlp.EncodeToBytes(inv)
	if err != nil {
		t.Fatalf("encode invocation: %v", err)
	}
	return hexutil.Encode(encoded)
}

func (e *testEnv) send(t *testing.T, contract [20]byte, method string, args []byte, keys ...*crypto.PrivateKey) (json.RawMessage, *RPCError) {
	t.Helper()
	result, rpcErr, _ := e.call(t, "host_sendInvocation", map[string]string{
		"invocation": e.invocation(t, contract, method, args, keys...),
	}, nil)
	return result, rpcErr
}

func (e *testEnv) adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, err := NewAdminToken(testJWTSecret, "", time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeInto(t *testing.T, raw json.RawMessage, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func mustRLPHex(t *testing.T, v interface{}) string {
	t.Helper()
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return hexutil.Encode(encoded)
}

func sampleEnvelope() events.Envelope {
	return events.Envelope{
		Contract:     [20]byte{0x01},
		Height:       1,
		InvocationID: "inv",
		Payload:      &types.Event{Type: "asset.transfer", Attributes: map[string]string{}},
	}
}
