package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"microescrow/client"
	"microescrow/cmd/internal/passphrase"
	"microescrow/crypto"
	"microescrow/rpc"
)

const (
	rpcURLEnv     = "ESCROW_RPC_URL"
	rpcTokenEnv   = "ESCROW_RPC_TOKEN"
	keystorePass  = "ESCROW_KEYSTORE_PASS"
	defaultRPCURL = "http://127.0.0.1:8545"
)

// cli carries global options shared by every subcommand.
type cli struct {
	base     context.Context
	endpoint string
	token    string
	timeout  time.Duration
	pass     *passphrase.Source
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	return runContext(context.Background(), args, stdout, stderr)
}

func runContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{
		base:     ctx,
		endpoint: envOr(rpcURLEnv, defaultRPCURL),
		token:    strings.TrimSpace(os.Getenv(rpcTokenEnv)),
		timeout:  30 * time.Second,
		pass:     passphrase.NewSource(keystorePass, "keystore"),
		stdout:   stdout,
		stderr:   stderr,
	}
	global := flag.NewFlagSet("escrow-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.StringVar(&c.endpoint, "rpc", c.endpoint, "escrowd JSON-RPC endpoint")
	global.StringVar(&c.token, "token", c.token, "admin bearer token for privileged methods")
	global.DurationVar(&c.timeout, "timeout", c.timeout, "per-request timeout")
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	commands := map[string]func([]string) error{
		"generate-key": c.generateKey,
		"address":      c.address,
		"deploy":       c.deploy,
		"mint":         c.mint,
		"initialize":   c.initialize,
		"submit":       c.submit,
		"release":      c.release,
		"state":        c.state,
		"get":          c.get,
		"balance":      c.balance,
		"fees-total":   c.feesTotal,
		"events":       c.events,
		"watch":        c.watch,
		"receipts":     c.receipts,
		"paused":       c.paused,
		"pause":        c.pause,
		"resume":       c.resume,
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err := cmd(rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) {
			fmt.Fprintf(stderr, "Error: %s (code %d)\n", rpcErr.Message, rpcErr.Code)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Commands:
  generate-key  -out <keystore>                 create a new account keystore
  address       -key <keystore>                 print the account address
  deploy        -key <keystore> -program <name> deploy a contract (admin token required)
  mint          -key <keystore> -asset <addr> -to <addr> -amount <n>
  initialize    -key <keystore> -escrow <addr> -payee <addr> -fee-collector <addr> -asset <addr> -amount <n>
  submit        -key <keystore> -escrow <addr>  mark work submitted (payee)
  release       -key <keystore> -escrow <addr>  release funds (payer)
  state         -escrow <addr>                  print the escrow state
  get           -escrow <addr>                  print the escrow record
  balance       -asset <addr> -owner <addr>     print an asset balance
  fees-total    -collector <addr>               print accumulated fees
  events        [-contract <addr>] [-type <t>] [-cursor <n>] [-limit <n>]
  watch         [-contract <addr>] [-cursor <n>] stream live events
  receipts      [-height <n>] [-limit <n>]      print receipts by height or newest first
  paused                                        list paused programs
  pause         -program <name>                 halt a program (admin token required)
  resume        -program <name>                 resume a program (admin token required)`)
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) client() *client.Client {
	opts := []client.Option{}
	if c.token != "" {
		opts = append(opts, client.WithBearerToken(c.token))
	}
	return client.New(c.endpoint, opts...)
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.base, c.timeout)
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("-key is required")
	}
	pass, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireAddress(flagName, raw string) ([20]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return [20]byte{}, fmt.Errorf("-%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("-%s: %w", flagName, err)
	}
	return addr, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
