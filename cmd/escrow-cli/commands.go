package main

import (
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"microescrow/client"
	"microescrow/crypto"
	"microescrow/native/asset"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
	"microescrow/rpc"
)

func (c *cli) generateKey(args []string) error {
	fs := c.newFlagSet("generate-key")
	out := fs.String("out", "wallet.keystore", "keystore output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := c.pass.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Saved %s to %s\n", key.PubKey().Address().String(), *out)
	return nil
}

func (c *cli) address(args []string) error {
	fs := c.newFlagSet("address")
	keyPath := fs.String("key", "", "keystore path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, key.PubKey().Address().String())
	return nil
}

func (c *cli) deploy(args []string) error {
	fs := c.newFlagSet("deploy")
	keyPath := fs.String("key", "", "deployer keystore path")
	program := fs.String("program", escrow.ProgramName, "program to instantiate (escrow, asset, fee-accumulator)")
	saltFlag := fs.String("salt", "", "deployment salt: 0x-prefixed 32 bytes or a label hashed with keccak256")
	symbol := fs.String("symbol", "", "asset symbol")
	decimals := fs.Uint("decimals", 0, "asset decimals")
	admin := fs.String("admin", "", "asset admin address (defaults to the deployer)")
	allowed := fs.String("allowed", "", "comma separated callers permitted to track fees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*saltFlag) == "" {
		return errors.New("-salt is required")
	}
	salt, err := parseSalt(*saltFlag)
	if err != nil {
		return err
	}
	switch *program {
	case escrow.ProgramName, asset.ProgramName, feeaccumulator.ProgramName:
	default:
		return fmt.Errorf("unknown program %q", *program)
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return err
	}

	var ctorArgs []byte
	switch *program {
	case escrow.ProgramName:
	case asset.ProgramName:
		if *decimals > 255 {
			return fmt.Errorf("-decimals %d out of range", *decimals)
		}
		adminAddr := key.PubKey().Address().Raw()
		if strings.TrimSpace(*admin) != "" {
			if adminAddr, err = requireAddress("admin", *admin); err != nil {
				return err
			}
		}
		if ctorArgs, err = asset.EncodeConstructor(adminAddr, strings.TrimSpace(*symbol), uint8(*decimals)); err != nil {
			return err
		}
	case feeaccumulator.ProgramName:
		var callers [][20]byte
		for _, raw := range strings.Split(*allowed, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			addr, err := requireAddress("allowed", raw)
			if err != nil {
				return err
			}
			callers = append(callers, addr)
		}
		if ctorArgs, err = feeaccumulator.EncodeConstructor(callers...); err != nil {
			return err
		}
	}

	ctx, cancel := c.context()
	defer cancel()
	res, err := c.client().Deploy(ctx, key, *program, salt, ctorArgs)
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c *cli) mint(args []string) error {
	fs := c.newFlagSet("mint")
	keyPath := fs.String("key", "", "asset admin keystore path")
	assetFlag := fs.String("asset", "", "asset contract address")
	to := fs.String("to", "", "recipient address")
	amountFlag := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	assetAddr, err := requireAddress("asset", *assetFlag)
	if err != nil {
		return err
	}
	toAddr, err := requireAddress("to", *to)
	if err != nil {
		return err
	}
	amount, err := parseAmount(*amountFlag)
	if err != nil {
		return err
	}
	payload, err := asset.EncodeMint(toAddr, amount)
	if err != nil {
		return err
	}
	return c.invoke(*keyPath, assetAddr, asset.MethodMint, payload)
}

func (c *cli) initialize(args []string) error {
	fs := c.newFlagSet("initialize")
	keyPath := fs.String("key", "", "payer keystore path")
	escrowFlag := fs.String("escrow", "", "escrow contract address")
	payee := fs.String("payee", "", "payee address")
	collector := fs.String("fee-collector", "", "fee accumulator contract address")
	assetFlag := fs.String("asset", "", "asset contract address")
	amountFlag := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	escrowAddr, err := requireAddress("escrow", *escrowFlag)
	if err != nil {
		return err
	}
	payeeAddr, err := requireAddress("payee", *payee)
	if err != nil {
		return err
	}
	collectorAddr, err := requireAddress("fee-collector", *collector)
	if err != nil {
		return err
	}
	assetAddr, err := requireAddress("asset", *assetFlag)
	if err != nil {
		return err
	}
	amount, err := parseAmount(*amountFlag)
	if err != nil {
		return err
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return err
	}
	payload, err := escrow.EncodeInitialize(key.PubKey().Address().Raw(), payeeAddr, collectorAddr, assetAddr, amount)
	if err != nil {
		return err
	}
	return c.invokeWith(key, escrowAddr, escrow.MethodInitialize, payload)
}

func (c *cli) submit(args []string) error {
	fs := c.newFlagSet("submit")
	keyPath := fs.String("key", "", "payee keystore path")
	escrowFlag := fs.String("escrow", "", "escrow contract address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	escrowAddr, err := requireAddress("escrow", *escrowFlag)
	if err != nil {
		return err
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return err
	}
	payload, err := escrow.EncodeSubmitWorkLink(key.PubKey().Address().Raw())
	if err != nil {
		return err
	}
	return c.invokeWith(key, escrowAddr, escrow.MethodSubmitWorkLink, payload)
}

func (c *cli) release(args []string) error {
	fs := c.newFlagSet("release")
	keyPath := fs.String("key", "", "payer keystore path")
	escrowFlag := fs.String("escrow", "", "escrow contract address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	escrowAddr, err := requireAddress("escrow", *escrowFlag)
	if err != nil {
		return err
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return err
	}
	payload, err := escrow.EncodeReleaseFunds(key.PubKey().Address().Raw())
	if err != nil {
		return err
	}
	return c.invokeWith(key, escrowAddr, escrow.MethodReleaseFunds, payload)
}

func (c *cli) invoke(keyPath string, contract [20]byte, method string, payload []byte) error {
	key, err := c.loadKey(keyPath)
	if err != nil {
		return err
	}
	return c.invokeWith(key, contract, method, payload)
}

func (c *cli) invokeWith(key *crypto.PrivateKey, contract [20]byte, method string, payload []byte) error {
	ctx, cancel := c.context()
	defer cancel()
	res, err := c.client().Invoke(ctx, contract, method, payload, key)
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c *cli) state(args []string) error {
	fs := c.newFlagSet("state")
	escrowFlag := fs.String("escrow", "", "escrow contract address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	escrowAddr, err := requireAddress("escrow", *escrowFlag)
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	state, err := c.client().EscrowState(ctx, escrowAddr)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, state)
	return nil
}

func (c *cli) get(args []string) error {
	fs := c.newFlagSet("get")
	escrowFlag := fs.String("escrow", "", "escrow contract address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	escrowAddr, err := requireAddress("escrow", *escrowFlag)
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	res, err := c.client().Escrow(ctx, escrowAddr)
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c *cli) balance(args []string) error {
	fs := c.newFlagSet("balance")
	assetFlag := fs.String("asset", "", "asset contract address")
	owner := fs.String("owner", "", "holder address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	assetAddr, err := requireAddress("asset", *assetFlag)
	if err != nil {
		return err
	}
	if _, err := requireAddress("owner", *owner); err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	bal, err := c.client().Balance(ctx, assetAddr, strings.TrimSpace(*owner))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, bal)
	return nil
}

func (c *cli) feesTotal(args []string) error {
	fs := c.newFlagSet("fees-total")
	collector := fs.String("collector", "", "fee accumulator contract address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := requireAddress("collector", *collector)
	if err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	total, err := c.client().FeesTotal(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, total)
	return nil
}

func (c *cli) events(args []string) error {
	fs := c.newFlagSet("events")
	var q client.EventsQuery
	fs.StringVar(&q.Contract, "contract", "", "filter by contract address")
	fs.StringVar(&q.Type, "type", "", "filter by event type")
	fs.Uint64Var(&q.Cursor, "cursor", 0, "return events after this cursor")
	fs.IntVar(&q.Limit, "limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	page, err := c.client().Events(ctx, q)
	if err != nil {
		return err
	}
	return c.printJSON(page)
}

func (c *cli) receipts(args []string) error {
	fs := c.newFlagSet("receipts")
	height := fs.Uint64("height", 0, "print the receipt committed at this height")
	limit := fs.Int("limit", 0, "number of latest receipts to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	byHeight := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "height" {
			byHeight = true
		}
	})
	ctx, cancel := c.context()
	defer cancel()
	if byHeight {
		rec, err := c.client().ReceiptAtHeight(ctx, *height)
		if err != nil {
			return err
		}
		return c.printJSON(rec)
	}
	recs, err := c.client().LatestReceipts(ctx, *limit)
	if err != nil {
		return err
	}
	return c.printJSON(recs)
}

func (c *cli) paused(args []string) error {
	fs := c.newFlagSet("paused")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := c.context()
	defer cancel()
	programs, err := c.client().Paused(ctx)
	if err != nil {
		return err
	}
	for _, p := range programs {
		fmt.Fprintln(c.stdout, p)
	}
	return nil
}

func (c *cli) pause(args []string) error {
	return c.setPaused("pause", args, true)
}

func (c *cli) resume(args []string) error {
	return c.setPaused("resume", args, false)
}

func (c *cli) setPaused(name string, args []string, paused bool) error {
	fs := c.newFlagSet(name)
	program := fs.String("program", "", "program name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*program) == "" {
		return errors.New("-program is required")
	}
	ctx, cancel := c.context()
	defer cancel()
	programs, err := c.client().SetPaused(ctx, *program, paused)
	if err != nil {
		return err
	}
	return c.printJSON(programs)
}

func (c *cli) watch(args []string) error {
	fs := c.newFlagSet("watch")
	contract := fs.String("contract", "", "filter by contract address")
	cursor := fs.Uint64("cursor", 0, "replay indexed events after this cursor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.base, os.Interrupt)
	defer stop()
	err := c.client().Watch(ctx, strings.TrimSpace(*contract), *cursor, func(msg rpc.EventMessage) error {
		return c.printJSON(msg)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// parseSalt accepts a 0x-prefixed 32-byte value or hashes any other label.
func parseSalt(raw string) ([32]byte, error) {
	var salt [32]byte
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") {
		b, err := hexutil.Decode(raw)
		if err != nil {
			return salt, fmt.Errorf("-salt: %w", err)
		}
		if len(b) != len(salt) {
			return salt, fmt.Errorf("-salt: want %d bytes, got %d", len(salt), len(b))
		}
		copy(salt[:], b)
		return salt, nil
	}
	copy(salt[:], ethcrypto.Keccak256([]byte(raw)))
	return salt, nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("-amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("-amount: invalid integer %q", raw)
	}
	return amount, nil
}
