package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"microescrow/core/events"
	"microescrow/crypto"
	"microescrow/host/hosttest"
	"microescrow/indexer"
	"microescrow/native/asset"
)

func (e *testEnv) lastCursor(t *testing.T) uint64 {
	t.Helper()
	var cursor uint64
	for {
		page, err := e.server.indexer.List(context.Background(), indexer.Filter{Cursor: cursor, Limit: indexer.MaxLimit})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		cursor = page.NextCursor
		if len(page.Events) < indexer.MaxLimit {
			return cursor
		}
	}
}

func (e *testEnv) mint(t *testing.T, amount int64) {
	t.Helper()
	admin := [20]byte{0xad}
	args := hosttest.MustEncode(t)(asset.EncodeMint(hosttest.Address(e.payeeKey), big.NewInt(amount)))
	if _, err := e.fixture.InvokeAs(e.token, asset.MethodMint, args, admin); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestEventStreamReplaysEntireBacklog(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	start := env.lastCursor(t)

	const backlog = indexer.MaxLimit + 120
	for i := 0; i < backlog; i++ {
		env.mint(t, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	token := crypto.FormatContract(env.token)
	url := fmt.Sprintf("ws%s/ws/events?contract=%s&cursor=%d", strings.TrimPrefix(env.http.URL, "http"), token, start)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	last := start
	for i := 0; i < backlog; i++ {
		msg := readMessage(ctx, t, conn)
		if msg.Type != events.TypeAssetMint || msg.Contract != token {
			t.Fatalf("replayed message %d unexpected: %+v", i, msg)
		}
		if msg.Cursor <= last {
			t.Fatalf("replayed cursor %d not after %d", msg.Cursor, last)
		}
		last = msg.Cursor
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Hub().Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.mint(t, 7)
	live := readMessage(ctx, t, conn)
	if live.Attributes["amount"] != "7" {
		t.Fatalf("expected live mint after replay, got %+v", live)
	}
	if live.Cursor <= last {
		t.Fatalf("live cursor %d not after replayed %d", live.Cursor, last)
	}
}

func TestHubIndexedMessagesCarryCursor(t *testing.T) {
	hub := NewHub()
	sub, cancel := hub.subscribe("")
	defer cancel()
	hub.Indexed(indexer.EventRecord{ID: 42, Contract: "escc1x", Type: events.TypeFeeTracked})
	select {
	case msg := <-sub.ch:
		if msg.Cursor != 42 || msg.Type != events.TypeFeeTracked {
			t.Fatalf("unexpected message %+v", msg)
		}
	default:
		t.Fatalf("expected indexed record to be published")
	}
}
