package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"microescrow/core/events"
	"microescrow/core/state"
	"microescrow/core/types"
	"microescrow/crypto"
	nativecommon "microescrow/native/common"
	"microescrow/observability"
	"microescrow/observability/otel"
	"microescrow/storage"
	"microescrow/storage/trie"
)

// MaxCallDepth bounds nested contract calls including the root frame.
const MaxCallDepth = 8

var headKey = []byte("microescrow/head")

// Program is the executable logic behind a deployed contract. Many instances
// can share one program; each instance gets its own storage namespace.
type Program interface {
	Invoke(ctx *Context, method string, args []byte) ([]byte, error)
}

// Constructor is implemented by programs that initialise instance storage
// at deployment time.
type Constructor interface {
	Construct(ctx *Context, args []byte) error
}

// ReceiptRecorder persists receipts of committed invocations.
type ReceiptRecorder interface {
	Record(*Receipt) error
}

// ContractInfo is the registry record of a deployed instance.
type ContractInfo struct {
	Program  string
	Deployer [20]byte
	Salt     [32]byte
	Height   uint64
}

// Invocation is a signed request to call Method on Contract.
type Invocation struct {
	Contract [20]byte
	Method   string
	// Args is the RLP encoding of the method's argument struct.
	Args []byte
	Auth []Authorization
}

// Deployment is a signed request to instantiate Program at the address
// derived from the deployer and Salt.
type Deployment struct {
	Program  string
	Salt     [32]byte
	Args     []byte
	Deployer Authorization
}

// Receipt describes a committed invocation. Failed invocations that consumed
// nonces also produce a receipt with Error set.
type Receipt struct {
	InvocationID string
	Contract     [20]byte
	Method       string
	Height       uint64
	Root         common.Hash
	Result       []byte
	Error        string
	Events       []*types.Event
	Time         int64
}

type head struct {
	Root   common.Hash
	Height uint64
}

// Host executes contract programs against the ledger trie. Every root
// invocation is atomic: on error all writes are discarded and no event is
// published. Invocations are serialised.
type Host struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	chainID  uint64
	height   uint64
	programs map[string]Program
	emitter  events.Emitter
	receipts ReceiptRecorder
	pauses   nativecommon.PauseView
	logger   *slog.Logger
	tracer   trace.Tracer
	nowFn    func() int64
}

// New opens the ledger stored in db, resuming from the last committed head.
func New(db storage.Database, chainID uint64) (*Host, error) {
	if db == nil {
		return nil, errors.New("host: database required")
	}
	var h head
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("host: load head: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("host: decode head: %w", err)
		}
	}
	var root []byte
	if h.Height > 0 {
		root = h.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("host: open trie: %w", err)
	}
	return &Host{
		db:       db,
		state:    state.NewManager(tr),
		chainID:  chainID,
		height:   h.Height,
		programs: make(map[string]Program),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("microescrow/host"),
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// Register makes program deployable under name.
func (h *Host) Register(name string, program Program) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programs[name] = program
}

// Programs lists the registered program names in sorted order.
func (h *Host) Programs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.programs))
	for name := range h.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetEmitter configures where committed events are published. Passing nil
// resets to a no-op emitter.
func (h *Host) SetEmitter(emitter events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.emitter = emitter
}

// SetReceiptRecorder configures receipt persistence.
func (h *Host) SetReceiptRecorder(r ReceiptRecorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receipts = r
}

// SetPauseView configures which programs currently reject invocations.
func (h *Host) SetPauseView(p nativecommon.PauseView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pauses = p
}

// SetLogger overrides the logger used for host diagnostics.
func (h *Host) SetLogger(logger *slog.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
}

// SetNowFunc overrides the receipt clock. Primarily intended for tests.
func (h *Host) SetNowFunc(now func() int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	h.nowFn = now
}

// ChainID returns the chain id bound into authorization digests.
func (h *Host) ChainID() uint64 { return h.chainID }

// Height returns the number of committed invocations.
func (h *Host) Height() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

// Root returns the committed state root.
func (h *Host) Root() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Trie().Root()
}

// Nonce returns the next authorization nonce expected from addr.
func (h *Host) Nonce(addr [20]byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nonce(addr)
}

// Contract returns the registry record of addr.
func (h *Host) Contract(addr [20]byte) (*ContractInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.contractInfo(addr)
}

func (h *Host) contractInfo(addr [20]byte) (*ContractInfo, error) {
	info := new(ContractInfo)
	ok, err := h.state.KVGet(state.ContractKey(addr), info)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, crypto.FormatContract(addr))
	}
	return info, nil
}

func (h *Host) isContract(addr [20]byte) bool {
	ok, err := h.state.KVHas(state.ContractKey(addr))
	return err == nil && ok
}

// Invoke verifies inv's authorizations and runs it as one atomic state
// transition. Signatures must match the expected nonces; once they verify
// the nonces are consumed even when the call itself fails.
func (h *Host) Invoke(ctx context.Context, inv Invocation) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execute(ctx, request{
		contract: inv.Contract,
		method:   inv.Method,
		args:     inv.Args,
		auth:     inv.Auth,
		run: func(exec *execution) ([]byte, error) {
			return h.call(exec, nil, inv.Contract, inv.Method, inv.Args)
		},
	})
}

// InvokeAs runs a call with authorization granted to the listed addresses
// without signatures. It backs genesis seeding and operator tooling.
func (h *Host) InvokeAs(ctx context.Context, contract [20]byte, method string, args []byte, authorized ...[20]byte) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execute(ctx, request{
		contract: contract,
		method:   method,
		args:     args,
		grant:    authorized,
		run: func(exec *execution) ([]byte, error) {
			return h.call(exec, nil, contract, method, args)
		},
	})
}

// Query runs a call against committed state and discards every write. No
// events are published and no authorization is available.
func (h *Host) Query(ctx context.Context, contract [20]byte, method string, args []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ctx, span := h.tracer.Start(ctx, "host.query", trace.WithAttributes(
		attribute.String("contract", crypto.FormatContract(contract)),
		attribute.String("method", method),
	))
	defer span.End()

	exec := newExecution(ctx, nil)
	exec.readOnly = true
	result, err := h.call(exec, nil, contract, method, args)
	if rbErr := h.rollback(); rbErr != nil && err == nil {
		err = rbErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// Deploy verifies the deployer's signature and instantiates d.Program at
// the derived contract address, running its constructor when present.
func (h *Host) Deploy(ctx context.Context, d Deployment) ([20]byte, *Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := ContractAddress(d.Deployer.Address, d.Salt, d.Program)
	receipt, err := h.execute(ctx, request{
		contract: addr,
		method:   ConstructorMethod,
		args:     d.Args,
		auth:     []Authorization{d.Deployer},
		run: func(exec *execution) ([]byte, error) {
			return nil, h.instantiate(exec, addr, d.Program, d.Deployer.Address, d.Salt, d.Args)
		},
	})
	return addr, receipt, err
}

// DeployAs instantiates program on behalf of deployer without a signature.
func (h *Host) DeployAs(ctx context.Context, program string, salt [32]byte, deployer [20]byte, args []byte) ([20]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := ContractAddress(deployer, salt, program)
	_, err := h.execute(ctx, request{
		contract: addr,
		method:   ConstructorMethod,
		args:     args,
		grant:    [][20]byte{deployer},
		run: func(exec *execution) ([]byte, error) {
			return nil, h.instantiate(exec, addr, program, deployer, salt, args)
		},
	})
	return addr, err
}

func (h *Host) instantiate(exec *execution, addr [20]byte, program string, deployer [20]byte, salt [32]byte, args []byte) error {
	impl, ok := h.programs[program]
	if !ok {
		return fmt.Errorf("%w: %q", ErrProgramNotFound, program)
	}
	if h.isContract(addr) {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, crypto.FormatContract(addr))
	}
	info := ContractInfo{Program: program, Deployer: deployer, Salt: salt, Height: h.height + 1}
	if err := h.state.KVPut(state.ContractKey(addr), info); err != nil {
		return err
	}
	ctor, ok := impl.(Constructor)
	if !ok {
		return nil
	}
	frame := &Context{
		exec:     exec,
		host:     h,
		contract: addr,
		program:  program,
		invoker:  deployer,
		depth:    1,
	}
	return ctor.Construct(frame, args)
}

type request struct {
	contract [20]byte
	method   string
	args     []byte
	auth     []Authorization
	grant    [][20]byte
	run      func(*execution) ([]byte, error)
}

func (h *Host) execute(ctx context.Context, req request) (*Receipt, error) {
	start := time.Now()
	programName := "unknown"
	if info, err := h.contractInfo(req.contract); err == nil {
		programName = info.Program
	} else if req.method == ConstructorMethod {
		programName = "deploy"
	}

	ctx, span := h.tracer.Start(ctx, "host.invoke", trace.WithAttributes(
		attribute.String("contract", crypto.FormatContract(req.contract)),
		attribute.String("program", programName),
		attribute.String("method", req.method),
	))
	defer span.End()

	receipt, err := h.executeLocked(ctx, req)
	observability.Host().ObserveInvocation(programName, req.method, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Debug("invocation failed",
			slog.String("contract", crypto.FormatContract(req.contract)),
			slog.String("method", req.method),
			slog.String("error", err.Error()))
	}
	if receipt != nil {
		span.SetAttributes(attribute.Int64("height", int64(receipt.Height)))
	}
	return receipt, err
}

func (h *Host) executeLocked(ctx context.Context, req request) (*Receipt, error) {
	signers, err := h.verifyAuth(req.contract, req.method, req.args, req.auth)
	if err != nil {
		return nil, err
	}
	for _, addr := range req.grant {
		signers[addr] = struct{}{}
	}
	exec := newExecution(ctx, signers)
	if len(req.auth) > 0 {
		exec.origin = req.auth[0].Address
	} else if len(req.grant) > 0 {
		exec.origin = req.grant[0]
	}

	if err := h.bumpNonces(req.auth); err != nil {
		return nil, h.abort(err)
	}
	result, callErr := req.run(exec)
	if callErr != nil {
		if err := h.rollback(); err != nil {
			return nil, err
		}
		if len(req.auth) == 0 {
			return nil, callErr
		}
		// Verified signatures stay spent so a failed call cannot be replayed.
		if err := h.bumpNonces(req.auth); err != nil {
			return nil, h.abort(err)
		}
		receipt, err := h.commit(exec, req, nil, callErr)
		if err != nil {
			return nil, err
		}
		return receipt, callErr
	}
	return h.commit(exec, req, result, nil)
}

func (h *Host) commit(exec *execution, req request, result []byte, callErr error) (*Receipt, error) {
	tr := h.state.Trie()
	height := h.height + 1
	root, err := tr.Commit(tr.Root(), height)
	if err != nil {
		return nil, h.abort(fmt.Errorf("host: commit: %w", err))
	}
	encoded, err := rlp.EncodeToBytes(head{Root: root, Height: height})
	if err != nil {
		return nil, err
	}
	if err := h.db.Put(headKey, encoded); err != nil {
		return nil, fmt.Errorf("host: persist head: %w", err)
	}
	h.height = height
	observability.Host().SetHeight(height)

	receipt := &Receipt{
		InvocationID: exec.id,
		Contract:     req.contract,
		Method:       req.method,
		Height:       height,
		Root:         root,
		Result:       result,
		Time:         h.nowFn(),
	}
	if callErr != nil {
		receipt.Error = callErr.Error()
	} else {
		h.publish(exec, receipt)
	}
	if h.receipts != nil {
		if err := h.receipts.Record(receipt); err != nil {
			h.logger.Warn("record receipt failed",
				slog.String("invocation", receipt.InvocationID),
				slog.String("error", err.Error()))
		}
	}
	h.logger.Debug("invocation committed",
		slog.String("contract", crypto.FormatContract(req.contract)),
		slog.String("method", req.method),
		slog.Uint64("height", height))
	return receipt, nil
}

func (h *Host) publish(exec *execution, receipt *Receipt) {
	for i, pending := range exec.events {
		receipt.Events = append(receipt.Events, pending.payload.Clone())
		observability.Host().RecordEvent(pending.payload.Type)
		h.emitter.Emit(events.Envelope{
			Contract:     pending.contract,
			Height:       receipt.Height,
			InvocationID: receipt.InvocationID,
			Index:        i,
			Payload:      pending.payload.Clone(),
		})
	}
}

func (h *Host) rollback() error {
	tr := h.state.Trie()
	if err := tr.Reset(tr.Root()); err != nil {
		return fmt.Errorf("host: rollback: %w", err)
	}
	return nil
}

func (h *Host) abort(err error) error {
	if rbErr := h.rollback(); rbErr != nil {
		return errors.Join(err, rbErr)
	}
	return err
}

// call runs method on target. parent is nil for the root frame.
func (h *Host) call(exec *execution, parent *Context, target [20]byte, method string, args []byte) ([]byte, error) {
	frame := &Context{exec: exec, host: h, contract: target, depth: 1, invoker: exec.origin}
	if parent != nil {
		frame.depth = parent.depth + 1
		frame.invoker = parent.contract
		frame.invokerIsContract = true
	}
	if frame.depth > MaxCallDepth {
		return nil, ErrCallDepthExceeded
	}
	if err := exec.ctx.Err(); err != nil {
		return nil, fmt.Errorf("host: invocation abandoned: %w", err)
	}
	info, err := h.contractInfo(target)
	if err != nil {
		return nil, err
	}
	program, ok := h.programs[info.Program]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProgramNotFound, info.Program)
	}
	if err := nativecommon.Guard(h.pauses, info.Program); err != nil {
		return nil, fmt.Errorf("%s: %w", info.Program, err)
	}
	frame.program = info.Program
	return program.Invoke(frame, method, args)
}

type pendingEvent struct {
	contract [20]byte
	payload  *types.Event
}

// execution is the state shared by every frame of one root invocation.
type execution struct {
	ctx      context.Context
	id       string
	origin   [20]byte
	signers  map[[20]byte]struct{}
	events   []pendingEvent
	readOnly bool
}

func newExecution(ctx context.Context, signers map[[20]byte]struct{}) *execution {
	if ctx == nil {
		ctx = context.Background()
	}
	if signers == nil {
		signers = map[[20]byte]struct{}{}
	}
	return &execution{ctx: ctx, id: uuid.NewString(), signers: signers}
}
