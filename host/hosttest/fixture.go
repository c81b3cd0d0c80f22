// Package hosttest provides an in-memory ledger for program tests.
package hosttest

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"microescrow/core/events"
	"microescrow/crypto"
	"microescrow/host"
	"microescrow/storage"
)

// ChainID is the chain id used by fixtures.
const ChainID = 187001

// Recorder captures published envelopes.
type Recorder struct {
	mu        sync.Mutex
	envelopes []events.Envelope
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env)
	r.mu.Unlock()
}

// Envelopes returns a copy of everything published so far.
func (r *Recorder) Envelopes() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// Types returns the published event types in order.
func (r *Recorder) Types() []string {
	envs := r.Envelopes()
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.EventType()
	}
	return out
}

// Reset drops recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}

// Fixture wires a Host over an in-memory database.
type Fixture struct {
	t      testing.TB
	Host   *host.Host
	DB     storage.Database
	Events *Recorder
}

// New returns a fixture with programs registered under their names.
func New(t testing.TB, programs map[string]host.Program) *Fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h, err := host.New(db, ChainID)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	for name, program := range programs {
		h.Register(name, program)
	}
	rec := &Recorder{}
	h.SetEmitter(rec)
	return &Fixture{t: t, Host: h, DB: db, Events: rec}
}

// Key returns a deterministic private key derived from seed.
func Key(t testing.TB, seed byte) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.PrivateKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("derive key %x: %v", seed, err)
	}
	return key
}

// Address returns the account address controlled by key.
func Address(key *crypto.PrivateKey) [20]byte {
	return key.PubKey().Address().Raw()
}

// Salt returns a salt filled with b.
func Salt(b byte) [32]byte {
	var salt [32]byte
	for i := range salt {
		salt[i] = b
	}
	return salt
}

// Deploy instantiates program on behalf of deployer and fails the test on error.
func (f *Fixture) Deploy(program string, deployer [20]byte, salt byte, args []byte) [20]byte {
	f.t.Helper()
	addr, err := f.Host.DeployAs(context.Background(), program, Salt(salt), deployer, args)
	if err != nil {
		f.t.Fatalf("deploy %s: %v", program, err)
	}
	return addr
}

// InvokeAs runs method with the given addresses treated as authorized.
func (f *Fixture) InvokeAs(contract [20]byte, method string, args []byte, authorized ...[20]byte) (*host.Receipt, error) {
	return f.Host.InvokeAs(context.Background(), contract, method, args, authorized...)
}

// InvokeSigned builds an invocation signed by keys at their current nonces.
func (f *Fixture) InvokeSigned(contract [20]byte, method string, args []byte, keys ...*crypto.PrivateKey) (*host.Receipt, error) {
	f.t.Helper()
	inv := host.Invocation{Contract: contract, Method: method, Args: args}
	for _, key := range keys {
		nonce, err := f.Host.Nonce(Address(key))
		if err != nil {
			f.t.Fatalf("nonce: %v", err)
		}
		if err := host.SignInvocation(ChainID, &inv, key, nonce); err != nil {
			f.t.Fatalf("sign: %v", err)
		}
	}
	return f.Host.Invoke(context.Background(), inv)
}

// Query runs a read-only call and fails the test on error.
func (f *Fixture) Query(contract [20]byte, method string, args []byte) []byte {
	f.t.Helper()
	out, err := f.Host.Query(context.Background(), contract, method, args)
	if err != nil {
		f.t.Fatalf("query %s: %v", method, err)
	}
	return out
}

// MustEncode fails the test when an argument encoder returns an error.
func MustEncode(t testing.TB) func(payload []byte, err error) []byte {
	return func(payload []byte, err error) []byte {
		t.Helper()
		if err != nil {
			t.Fatalf("encode args: %v", err)
		}
		return payload
	}
}
