package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"microescrow/core/events"
	"microescrow/host"
	"microescrow/indexer"
	nativecommon "microescrow/native/common"
	"microescrow/observability"
	"microescrow/observability/logging"
	"microescrow/receipts"
)

const maxRequestBytes = 1 << 20 // 1 MiB

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	JWTSecret         string
	JWTIssuer         string
	RateLimitPerSec   float64
	RateLimitBurst    int
	TrustedProxies    []string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type methodHandler func(r *http.Request, req *RPCRequest) (interface{}, *MethodError)

type Server struct {
	host     *host.Host
	indexer  *indexer.Indexer
	receipts *receipts.Store
	pauses   *nativecommon.PauseSet
	hub      *Hub
	auth     *Authenticator
	limiter  *rateLimiter
	logger   *slog.Logger
	cfg      ServerConfig

	methods map[string]methodHandler
	admin   map[string]bool
}

// NewServer wires the JSON-RPC surface over h. idx and store may be nil,
// which disables event listing and receipt lookups respectively.
func NewServer(h *host.Host, idx *indexer.Indexer, store *receipts.Store, hub *Hub, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("rpc: host required")
	}
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		host:     h,
		indexer:  idx,
		receipts: store,
		hub:      hub,
		auth:     NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer),
		limiter:  newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst, cfg.TrustedProxies),
		logger:   logger.With(slog.String("component", "rpc")),
		cfg:      cfg,
	}
	s.methods = map[string]methodHandler{
		"host_status":          s.handleStatus,
		"host_sendInvocation":  s.handleSendInvocation,
		"host_deploy":          s.handleDeploy,
		"host_nonce":           s.handleNonce,
		"host_getReceipt":      s.handleGetReceipt,
		"host_receiptByHeight": s.handleReceiptByHeight,
		"host_latestReceipts":  s.handleLatestReceipts,
		"host_paused":          s.handlePaused,
		"host_pause":           s.handlePause,
		"host_resume":          s.handleResume,
		"escrow_getState":      s.handleEscrowGetState,
		"escrow_get":           s.handleEscrowGet,
		"asset_balance":        s.handleAssetBalance,
		"fees_total":           s.handleFeesTotal,
		"events_list":          s.handleEventsList,
	}
	s.admin = map[string]bool{
		"host_deploy": true,
		"host_pause":  true,
		"host_resume": true,
	}
	if idx != nil {
		idx.OnStored(hub.Indexed)
	}
	return s, nil
}

// SetPauses exposes p to the pause admin methods. Without it they report
// the control as unavailable.
func (s *Server) SetPauses(p *nativecommon.PauseSet) {
	s.pauses = p
}

// Hub returns the live event fanout.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Emitter returns the sink to attach to the host. With an index configured,
// events reach the hub only after they are stored, so live messages carry
// the same cursor a replay would.
func (s *Server) Emitter() events.Emitter {
	if s.indexer != nil {
		return s.indexer
	}
	return s.hub
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.With(s.limiter.middleware).Post("/", s.handle)
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return otelhttp.NewHandler(r, "microescrow.rpc")
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: orDefault(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       orDefault(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      orDefault(s.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       orDefault(s.cfg.IdleTimeout, 60*time.Second),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		observability.RPC().Observe(req.Method, codeMethodNotFound, time.Since(start))
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if s.admin[req.Method] {
		if authErr := s.auth.requireAdmin(r); authErr != nil {
			s.logger.Warn("rejected admin call",
				slog.String("method", req.Method),
				slog.String("reason", authErr.Message),
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			observability.RPC().Observe(req.Method, authErr.Code, time.Since(start))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	result, methodErr := handler(r, req)
	if methodErr != nil {
		observability.RPC().Observe(req.Method, methodErr.Code, time.Since(start))
		if methodErr.Code == codeServerError {
			s.logger.Error("rpc method failed",
				slog.String("method", req.Method),
				slog.String("error", methodErr.Message))
		}
		writeError(w, methodErr.HTTPStatus, req.ID, methodErr.Code, methodErr.Message, methodErr.Data)
		return
	}
	observability.RPC().Observe(req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}

// decodeParams unmarshals the first positional parameter into out.
func decodeParams(req *RPCRequest, out interface{}) *MethodError {
	if len(req.Params) == 0 {
		return invalidParams("parameter object required", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
