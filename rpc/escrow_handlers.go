package rpc

import (
	"net/http"
	"strings"

	"microescrow/crypto"
	"microescrow/indexer"
	"microescrow/native/asset"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
)

type contractParams struct {
	Contract string `json:"contract"`
}

type balanceParams struct {
	Contract string `json:"contract"`
	Owner    string `json:"owner"`
}

type eventsListParams struct {
	Contract string `json:"contract,omitempty"`
	Type     string `json:"type,omitempty"`
	Cursor   uint64 `json:"cursor,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func parseContract(raw string) ([20]byte, *MethodError) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, invalidParams("invalid contract address", err.Error())
	}
	return addr, nil
}

// query runs a read-only call after checking the instance runs program.
func (s *Server) query(r *http.Request, contract [20]byte, program, method string, args []byte) ([]byte, *MethodError) {
	info, err := s.host.Contract(contract)
	if err != nil {
		return nil, domainError(err, nil)
	}
	if info.Program != program {
		return nil, invalidParams("contract is not a "+program+" instance", info.Program)
	}
	out, err := s.host.Query(r.Context(), contract, method, args)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return out, nil
}

func (s *Server) handleEscrowGetState(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params contractParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contract, perr := parseContract(params.Contract)
	if perr != nil {
		return nil, perr
	}
	out, merr := s.query(r, contract, escrow.ProgramName, escrow.MethodGetState, nil)
	if merr != nil {
		return nil, merr
	}
	state, err := escrow.DecodeState(out)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return EscrowStateResult{Contract: crypto.FormatContract(contract), State: state.String()}, nil
}

func (s *Server) handleEscrowGet(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params contractParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contract, perr := parseContract(params.Contract)
	if perr != nil {
		return nil, perr
	}
	out, merr := s.query(r, contract, escrow.ProgramName, escrow.MethodGetEscrow, nil)
	if merr != nil {
		return nil, merr
	}
	esc, err := escrow.DecodeEscrow(out)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return EscrowResult{
		Contract:     crypto.FormatContract(contract),
		Payer:        s.displayAddress(esc.Payer),
		Payee:        s.displayAddress(esc.Payee),
		FeeCollector: s.displayAddress(esc.FeeCollector),
		Asset:        s.displayAddress(esc.Asset),
		Amount:       esc.AmountValue().String(),
		State:        esc.State.String(),
	}, nil
}

func (s *Server) handleAssetBalance(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contract, perr := parseContract(params.Contract)
	if perr != nil {
		return nil, perr
	}
	owner, err := crypto.ParseAddress(strings.TrimSpace(params.Owner))
	if err != nil {
		return nil, invalidParams("invalid owner address", err.Error())
	}
	args, err := asset.EncodeBalance(owner)
	if err != nil {
		return nil, domainError(err, nil)
	}
	out, merr := s.query(r, contract, asset.ProgramName, asset.MethodBalance, args)
	if merr != nil {
		return nil, merr
	}
	balance, err := asset.DecodeAmount(out)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return BalanceResult{
		Contract: crypto.FormatContract(contract),
		Owner:    s.displayAddress(owner),
		Balance:  balance.String(),
	}, nil
}

func (s *Server) handleFeesTotal(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	var params contractParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	contract, perr := parseContract(params.Contract)
	if perr != nil {
		return nil, perr
	}
	out, merr := s.query(r, contract, feeaccumulator.ProgramName, feeaccumulator.MethodTotal, nil)
	if merr != nil {
		return nil, merr
	}
	total, err := feeaccumulator.DecodeTotal(out)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return FeesTotalResult{Contract: crypto.FormatContract(contract), Total: total.String()}, nil
}

func (s *Server) handleEventsList(r *http.Request, req *RPCRequest) (interface{}, *MethodError) {
	if s.indexer == nil {
		return nil, domainError(errIndexerDisabled, nil)
	}
	var params eventsListParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
	}
	filter := indexer.Filter{Type: params.Type, Cursor: params.Cursor, Limit: params.Limit}
	if strings.TrimSpace(params.Contract) != "" {
		contract, perr := parseContract(params.Contract)
		if perr != nil {
			return nil, perr
		}
		filter.Contract = crypto.FormatContract(contract)
	}
	page, err := s.indexer.List(r.Context(), filter)
	if err != nil {
		return nil, domainError(err, nil)
	}
	return page, nil
}

func (s *Server) displayAddress(addr [20]byte) string {
	if _, err := s.host.Contract(addr); err == nil {
		return crypto.FormatContract(addr)
	}
	return crypto.FormatAccount(addr)
}

