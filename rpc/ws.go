package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"microescrow/core/events"
	"microescrow/crypto"
	"microescrow/indexer"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// EventMessage is the JSON form of a published event on the live stream.
type EventMessage struct {
	Cursor       uint64            `json:"cursor,omitempty"`
	Contract     string            `json:"contract"`
	Height       uint64            `json:"height"`
	InvocationID string            `json:"invocationId"`
	Index        int               `json:"index"`
	Type         string            `json:"type"`
	Attributes   map[string]string `json:"attributes"`
}

func messageFromEnvelope(env events.Envelope) EventMessage {
	msg := EventMessage{
		Contract:     crypto.FormatContract(env.Contract),
		Height:       env.Height,
		InvocationID: env.InvocationID,
		Index:        env.Index,
	}
	if env.Payload != nil {
		msg.Type = env.Payload.Type
		msg.Attributes = env.Payload.Clone().Attributes
	}
	return msg
}

func messageFromRecord(rec indexer.EventRecord) EventMessage {
	return EventMessage{
		Cursor:       rec.ID,
		Contract:     rec.Contract,
		Height:       rec.Height,
		InvocationID: rec.InvocationID,
		Index:        rec.Position,
		Type:         rec.Type,
		Attributes:   rec.Attributes,
	}
}

type subscriber struct {
	contract string
	ch       chan EventMessage
	dropped  chan struct{}
}

// Hub fans committed events out to websocket subscribers. Subscribers that
// fall behind are disconnected instead of blocking the host.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter. It is used when no event index is
// configured; messages then carry no cursor.
func (h *Hub) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	h.publish(messageFromEnvelope(env))
}

// Indexed publishes a record after the index assigned its cursor.
func (h *Hub) Indexed(rec indexer.EventRecord) {
	h.publish(messageFromRecord(rec))
}

func (h *Hub) publish(msg EventMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.contract != "" && sub.contract != msg.Contract {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			delete(h.subs, sub)
			close(sub.dropped)
		}
	}
}

func (h *Hub) subscribe(contract string) (*subscriber, func()) {
	sub := &subscriber{
		contract: contract,
		ch:       make(chan EventMessage, subscriberBuffer),
		dropped:  make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.dropped)
		}
		h.mu.Unlock()
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	contract := strings.TrimSpace(r.URL.Query().Get("contract"))
	if contract != "" {
		if _, err := crypto.ParseAddress(contract); err != nil {
			http.Error(w, "invalid contract filter", http.StatusBadRequest)
			return
		}
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, contract, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, contract string, cursor uint64) error {
	sub, cancel := s.hub.subscribe(contract)
	defer cancel()

	var replayed uint64
	if cursor > 0 && s.indexer != nil {
		last, err := s.replay(ctx, conn, contract, cursor)
		if err != nil {
			return err
		}
		replayed = last
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.dropped:
			return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		case msg := <-sub.ch:
			if msg.Cursor != 0 && msg.Cursor <= replayed {
				continue
			}
			if err := writeEvent(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

// replay writes every indexed event after cursor and returns the cursor of
// the last one written.
func (s *Server) replay(ctx context.Context, conn *websocket.Conn, contract string, cursor uint64) (uint64, error) {
	for {
		page, err := s.indexer.List(ctx, indexer.Filter{Contract: contract, Cursor: cursor, Limit: indexer.MaxLimit})
		if err != nil {
			return cursor, err
		}
		for _, rec := range page.Events {
			if err := writeEvent(ctx, conn, messageFromRecord(rec)); err != nil {
				return cursor, err
			}
		}
		cursor = page.NextCursor
		if len(page.Events) < indexer.MaxLimit {
			return cursor, nil
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, msg EventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
