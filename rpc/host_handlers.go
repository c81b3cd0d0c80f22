package rpc

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"

	"microescrow/crypto"
	"microescrow/host"
)

type sendInvocationParams struct {
	// Invocation is the 0x-prefixed RLP encoding of a signed host.Invocation.
	Invocation string `json:"invocation"`
}

type deployParams struct {
	// Deployment is the 0x-prefixed RLP encoding of a signed host.Deployment.
	Deployment string `json:"deployment"`
}

type addressParams struct {
	Address string `json:"address"`
}

type receiptParams struct {
	InvocationID string `json:"invocationId"`
}

type heightParams struct {
	Height *uint64 `json:"height"`
}

type limitParams struct {
	Limit int `json:"limit"`
}

type programParams struct {
	Program string `json:"program"`
}

// maxReceiptPage bounds host_latestReceipts.
const maxReceiptPage = 100

func (s *Server) handleStatus(_ *http.Request, _ *RPCRequest) (interface{}, *MethodError) {
	return StatusResult{
		ChainID: s.host.ChainID(),
		Height:  s.host.Height(),
		Root:    s.host.Root().Hex(),
	}, nil
}

func (s *Server) handleSendInvocation(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params sendInvocationParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(strings.TrimSpace(params.Invocation))
	if err != nil {
		return nil, invalidParams("invocation must be 0x-prefixed hex", err.Error())
	}
	var inv host.Invocation
	if err := rlp.DecodeBytes(raw, &inv); err != nil {
		return nil, invalidParams("invalid invocation encoding", err.Error())
	}
	receipt, err := s.host.Invoke(r.Context(), inv)
	if err != nil {
		var data interface{}
		if receipt != nil {
			data = invocationResult(receipt)
		}
		return nil, domainError(err, data)
	}
	return invocationResult(receipt), nil
}

func (s *Server) handleDeploy(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params deployParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	raw, err := hexutil.Decode(strings.TrimSpace(params.Deployment))
	if err != nil {
		return nil, invalidParams("deployment must be 0x-prefixed hex", err.Error())
	}
	var d host.Deployment
	if err := rlp.DecodeBytes(raw, &d); err != nil {
		return nil, invalidParams("invalid deployment encoding", err.Error())
	}
	addr, receipt, err := s.host.Deploy(r.Context(), d)
	if err != nil {
		var data interface{}
		if receipt != nil {
			data = invocationResult(receipt)
		}
		return nil, domainError(err, data)
	}
	return DeployResult{
		Contract:     crypto.FormatContract(addr),
		InvocationID: receipt.InvocationID,
		Height:       receipt.Height,
		Root:         receipt.Root.Hex(),
	}, nil
}

func (s *Server) handleNonce(_ *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := crypto.ParseAddress(strings.TrimSpace(params.Address))
	if err != nil {
		return nil, invalidParams("invalid address", err.Error())
	}
	nonce, err := s.host.Nonce(addr)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return NonceResult{Address: strings.TrimSpace(params.Address), Nonce: nonce}, nil
}

func (s *Server) handleGetReceipt(_ *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	if s.receipts == nil {
		return nil, receiptsDisabled()
	}
	var params receiptParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(params.InvocationID)
	if id == "" {
		return nil, invalidParams("invocationId required", nil)
	}
	rec, err := s.receipts.Get(id)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return rec, nil
}

func (s *Server) handleReceiptByHeight(_ *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	if s.receipts == nil {
		return nil, receiptsDisabled()
	}
	var params heightParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if params.Height == nil {
		return nil, invalidParams("height required", nil)
	}
	rec, err := s.receipts.ByHeight(*params.Height)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return rec, nil
}

func (s *Server) handleLatestReceipts(_ *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	if s.receipts == nil {
		return nil, receiptsDisabled()
	}
	var params limitParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
	}
	if params.Limit < 0 || params.Limit > maxReceiptPage {
		return nil, invalidParams("limit out of range", params.Limit)
	}
	recs, err := s.receipts.Latest(params.Limit)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return LatestReceiptsResult{Receipts: recs}, nil
}

func (s *Server) handlePaused(_ *http.Request, _ *RPCRequest) (interface{}, *MethodError) {
	paused := s.pauses.Paused()
	if paused == nil {
		paused = []string{}
	}
	return PausedResult{Paused: paused}, nil
}

func (s *Server) handlePause(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	return s.setPaused(r, req, true)
}

func (s *Server) handleResume(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	return s.setPaused(r, req, false)
}

func (s *Server) setPaused(r *http.Request, req *RPCRequest, paused bool) (interface{}, *MethodError) {
	if s.pauses == nil {
		return nil, &MethodError{HTTPStatus: http.StatusServiceUnavailable, Code: codeUnavailable, Message: "pause control disabled"}
	}
	var params programParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	program := strings.ToLower(strings.TrimSpace(params.Program))
	if program == "" {
		return nil, invalidParams("program required", nil)
	}
	if !slices.Contains(s.host.Programs(), program) {
		return nil, domainError(host.ErrProgramNotFound, program)
	}
	s.pauses.Set(program, paused)
	s.logger.Info("program pause toggled",
		slog.String("program", program),
		slog.Bool("paused", paused),
		slog.String("remote", r.RemoteAddr))
	return PausedResult{Paused: s.pauses.Paused()}, nil
}

func receiptsDisabled() *MethodError {
	return &MethodError{HTTPStatus: http.StatusServiceUnavailable, Code: codeUnavailable, Message: "receipt store disabled"}
}

func invocationResult(receipt *host.Receipt) InvocationResult {
	res := InvocationResult{
		InvocationID: receipt.InvocationID,
		Contract:     crypto.FormatContract(receipt.Contract),
		Height:       receipt.Height,
		Root:         receipt.Root.Hex(),
	}
	if len(receipt.Result) > 0 {
		res.Result = hexutil.Encode(receipt.Result)
	}
	return res
}
