package rpc

import (
	"errors"
	"net/http"

	"microescrow/host"
	"microescrow/native/asset"
	nativecommon "microescrow/native/common"
	"microescrow/native/escrow"
	"microescrow/native/feeaccumulator"
	"microescrow/receipts"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeStateConflict  = -32010
	codeFundsError     = -32011
	codeRateLimited    = -32020
	codePaused         = -32030
	codeUnavailable    = -32050
)

var errIndexerDisabled = errors.New("event index disabled")

type errorClass struct {
	status int
	code   int
	errs   []error
}

// errorClasses is checked in order; the first class containing a matching
// sentinel wins.
var errorClasses = []errorClass{
	{status: http.StatusUnauthorized, code: codeUnauthorized, errs: []error{
		host.ErrAuthorizationFailed,
		escrow.ErrUnauthorizedFreelancer,
		escrow.ErrUnauthorizedClient,
		feeaccumulator.ErrCallerNotAllowed,
	}},
	{status: http.StatusNotFound, code: codeNotFound, errs: []error{
		host.ErrContractNotFound,
		host.ErrProgramNotFound,
		escrow.ErrNotInitialized,
		receipts.ErrNotFound,
	}},
	{status: http.StatusConflict, code: codeStateConflict, errs: []error{
		escrow.ErrAlreadyInitialized,
		escrow.ErrInvalidStateTransition,
		escrow.ErrFundsNotReleasable,
		host.ErrAlreadyDeployed,
	}},
	{status: http.StatusUnprocessableEntity, code: codeFundsError, errs: []error{
		asset.ErrInsufficientBalance,
		asset.ErrNegativeAmount,
		asset.ErrBalanceOverflow,
		feeaccumulator.ErrTotalOverflow,
	}},
	{status: http.StatusServiceUnavailable, code: codePaused, errs: []error{
		nativecommon.ErrModulePaused,
	}},
	{status: http.StatusBadRequest, code: codeInvalidParams, errs: []error{
		host.ErrInvalidArgs,
		host.ErrMethodNotFound,
		host.ErrCallDepthExceeded,
	}},
}

// classify maps a domain error onto an HTTP status and JSON-RPC code.
func classify(err error) (int, int) {
	for _, class := range errorClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status, class.code
			}
		}
	}
	if errors.Is(err, errIndexerDisabled) {
		return http.StatusServiceUnavailable, codeUnavailable
	}
	return http.StatusInternalServerError, codeServerError
}

// MethodError carries the HTTP status alongside the JSON-RPC error.
type MethodError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *MethodError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(message string, data interface{}) *MethodError {
	return &MethodError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

func domainError(err error, data interface{}) *MethodError {
	status, code := classify(err)
	return &MethodError{HTTPStatus: status, Code: code, Message: err.Error(), Data: data}
}
