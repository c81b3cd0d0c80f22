package host

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/rlp"

	"microescrow/core/events"
	"microescrow/core/state"
	"microescrow/crypto"
)

// Context is handed to a program for one call frame. It scopes storage to
// the executing instance and resolves authorization for that frame.
type Context struct {
	exec              *execution
	host              *Host
	contract          [20]byte
	program           string
	invoker           [20]byte
	invokerIsContract bool
	depth             int
}

// ContractAddress returns the address of the executing instance.
func (c *Context) ContractAddress() [20]byte {
	return c.contract
}

// Invoker returns the direct caller of this frame and whether it is a
// contract. For root frames it is the first authorizing account.
func (c *Context) Invoker() ([20]byte, bool) {
	return c.invoker, c.invokerIsContract
}

// RequireAuth succeeds when addr signed the root invocation or when addr is
// the contract that directly called this frame.
func (c *Context) RequireAuth(addr [20]byte) error {
	if _, ok := c.exec.signers[addr]; ok {
		return nil
	}
	if c.invokerIsContract && c.invoker == addr {
		return nil
	}
	return fmt.Errorf("%w: %s did not authorize %s", ErrAuthorizationFailed, c.displayAddress(addr), c.program)
}

// IsContract reports whether addr names a deployed instance.
func (c *Context) IsContract(addr [20]byte) bool {
	return c.host.isContract(addr)
}

// Storage returns the executing instance's private storage.
func (c *Context) Storage() Storage {
	return Storage{state: c.host.state, contract: c.contract, readOnly: c.exec.readOnly}
}

// Call invokes method on target with args RLP-encoded and decodes the
// result into out when out is non-nil. Errors abort the whole invocation.
func (c *Context) Call(target [20]byte, method string, args interface{}, out interface{}) error {
	var encoded []byte
	if args != nil {
		var err error
		encoded, err = rlp.EncodeToBytes(args)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	}
	result, err := c.host.call(c.exec, c, target, method, encoded)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(result) == 0 {
		return errors.New("host: call returned no result")
	}
	return rlp.DecodeBytes(result, out)
}

// Emit buffers evt until the root invocation commits.
func (c *Context) Emit(evt events.Structured) {
	if evt == nil || c.exec.readOnly {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	c.exec.events = append(c.exec.events, pendingEvent{contract: c.contract, payload: payload})
}

// Logger returns the host logger annotated with the executing contract.
func (c *Context) Logger() *slog.Logger {
	return c.host.logger.With(
		slog.String("contract", crypto.FormatContract(c.contract)),
		slog.String("program", c.program),
	)
}

func (c *Context) displayAddress(addr [20]byte) string {
	if c.host.isContract(addr) {
		return crypto.FormatContract(addr)
	}
	return crypto.FormatAccount(addr)
}

// Storage is the key-value namespace of one contract instance. Values are
// RLP-encoded.
type Storage struct {
	state    *state.Manager
	contract [20]byte
	readOnly bool
}

// Has reports whether key holds a value.
func (s Storage) Has(key string) (bool, error) {
	return s.state.KVHas(state.InstanceStorageKey(s.contract, []byte(key)))
}

// Get decodes the value under key into out and reports whether it existed.
func (s Storage) Get(key string, out interface{}) (bool, error) {
	return s.state.KVGet(state.InstanceStorageKey(s.contract, []byte(key)), out)
}

// Set stores value under key.
func (s Storage) Set(key string, value interface{}) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.state.KVPut(state.InstanceStorageKey(s.contract, []byte(key)), value)
}

// Remove deletes key.
func (s Storage) Remove(key string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.state.KVDelete(state.InstanceStorageKey(s.contract, []byte(key)))
}

// DecodeArgs decodes RLP-encoded call arguments into out.
func DecodeArgs(args []byte, out interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidArgs)
	}
	if err := rlp.DecodeBytes(args, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// EncodeArgs RLP-encodes an argument struct for an Invocation.
func EncodeArgs(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// EncodeResult RLP-encodes a method's return value.
func EncodeResult(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}
