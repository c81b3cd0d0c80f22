// Package client is a JSON-RPC client for escrowd.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"nhooyr.io/websocket"

	"microescrow/crypto"
	"microescrow/host"
	"microescrow/indexer"
	"microescrow/native/escrow"
	"microescrow/receipts"
	"microescrow/rpc"
)

// Client talks to a single escrowd endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	token    string
	nextID   atomic.Int64
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithBearerToken attaches an admin token to every request.
func WithBearerToken(token string) Option {
	return func(cl *Client) { cl.token = strings.TrimSpace(token) }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one JSON-RPC request. Server errors are returned as
// *rpc.RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResult, error) {
	var out rpc.StatusResult
	if err := c.Call(ctx, "host_status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Nonce(ctx context.Context, addr [20]byte) (uint64, error) {
	var out rpc.NonceResult
	if err := c.Call(ctx, "host_nonce", map[string]string{"address": crypto.FormatAccount(addr)}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// SendInvocation submits an already signed invocation.
func (c *Client) SendInvocation(ctx context.Context, inv host.Invocation) (*rpc.InvocationResult, error) {
	encoded, err := rlp.EncodeToBytes(inv)
	if err != nil {
		return nil, err
	}
	var out rpc.InvocationResult
	if err := c.Call(ctx, "host_sendInvocation", map[string]string{"invocation": hexutil.Encode(encoded)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invoke signs method on contract with every key at its current nonce and
// submits it.
func (c *Client) Invoke(ctx context.Context, contract [20]byte, method string, args []byte, keys ...*crypto.PrivateKey) (*rpc.InvocationResult, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one signing key required")
	}
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	inv := host.Invocation{Contract: contract, Method: method, Args: args}
	for _, key := range keys {
		nonce, err := c.Nonce(ctx, key.PubKey().Address().Raw())
		if err != nil {
			return nil, err
		}
		if err := host.SignInvocation(status.ChainID, &inv, key, nonce); err != nil {
			return nil, err
		}
	}
	return c.SendInvocation(ctx, inv)
}

// Deploy signs and submits a deployment of program. The call requires an
// admin bearer token.
func (c *Client) Deploy(ctx context.Context, key *crypto.PrivateKey, program string, salt [32]byte, args []byte) (*rpc.DeployResult, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.Nonce(ctx, key.PubKey().Address().Raw())
	if err != nil {
		return nil, err
	}
	d := host.Deployment{Program: program, Salt: salt, Args: args}
	if err := host.SignDeployment(status.ChainID, &d, key, nonce); err != nil {
		return nil, err
	}
	encoded, err := rlp.EncodeToBytes(d)
	if err != nil {
		return nil, err
	}
	var out rpc.DeployResult
	if err := c.Call(ctx, "host_deploy", map[string]string{"deployment": hexutil.Encode(encoded)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Receipt(ctx context.Context, invocationID string) (*receipts.Record, error) {
	var out receipts.Record
	if err := c.Call(ctx, "host_getReceipt", map[string]string{"invocationId": invocationID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReceiptAtHeight returns the receipt committed at height.
func (c *Client) ReceiptAtHeight(ctx context.Context, height uint64) (*receipts.Record, error) {
	var out receipts.Record
	if err := c.Call(ctx, "host_receiptByHeight", map[string]uint64{"height": height}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LatestReceipts returns up to limit receipts, newest first. A zero limit
// uses the server default.
func (c *Client) LatestReceipts(ctx context.Context, limit int) ([]*receipts.Record, error) {
	var out rpc.LatestReceiptsResult
	if err := c.Call(ctx, "host_latestReceipts", map[string]int{"limit": limit}, &out); err != nil {
		return nil, err
	}
	return out.Receipts, nil
}

// Paused lists the programs the node currently rejects invocations for.
func (c *Client) Paused(ctx context.Context) ([]string, error) {
	var out rpc.PausedResult
	if err := c.Call(ctx, "host_paused", nil, &out); err != nil {
		return nil, err
	}
	return out.Paused, nil
}

// SetPaused pauses or resumes program. It requires an admin token and
// returns the resulting paused set.
func (c *Client) SetPaused(ctx context.Context, program string, paused bool) ([]string, error) {
	method := "host_resume"
	if paused {
		method = "host_pause"
	}
	var out rpc.PausedResult
	if err := c.Call(ctx, method, map[string]string{"program": program}, &out); err != nil {
		return nil, err
	}
	return out.Paused, nil
}

// EscrowState returns the lifecycle state of the escrow at contract.
func (c *Client) EscrowState(ctx context.Context, contract [20]byte) (escrow.State, error) {
	var out rpc.EscrowStateResult
	if err := c.Call(ctx, "escrow_getState", map[string]string{"contract": crypto.FormatContract(contract)}, &out); err != nil {
		return 0, err
	}
	return escrow.ParseState(out.State)
}

func (c *Client) Escrow(ctx context.Context, contract [20]byte) (*rpc.EscrowResult, error) {
	var out rpc.EscrowResult
	if err := c.Call(ctx, "escrow_get", map[string]string{"contract": crypto.FormatContract(contract)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns owner's balance of the asset at contract as a base-10
// string. owner may be an account or contract address string.
func (c *Client) Balance(ctx context.Context, contract [20]byte, owner string) (string, error) {
	var out rpc.BalanceResult
	params := map[string]string{"contract": crypto.FormatContract(contract), "owner": owner}
	if err := c.Call(ctx, "asset_balance", params, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *Client) FeesTotal(ctx context.Context, contract [20]byte) (string, error) {
	var out rpc.FeesTotalResult
	if err := c.Call(ctx, "fees_total", map[string]string{"contract": crypto.FormatContract(contract)}, &out); err != nil {
		return "", err
	}
	return out.Total, nil
}

// EventsQuery mirrors the events_list parameters.
type EventsQuery struct {
	Contract string `json:"contract,omitempty"`
	Type     string `json:"type,omitempty"`
	Cursor   uint64 `json:"cursor,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (c *Client) Events(ctx context.Context, q EventsQuery) (*indexer.Page, error) {
	var out indexer.Page
	if err := c.Call(ctx, "events_list", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch streams live events to fn until ctx ends or fn returns an error.
// contract filters by instance; cursor replays indexed events after it.
func (c *Client) Watch(ctx context.Context, contract string, cursor uint64, fn func(rpc.EventMessage) error) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	q := u.Query()
	if contract != "" {
		q.Set("contract", contract)
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatUint(cursor, 10))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		var msg rpc.EventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
