package host

import "errors"

var (
	// ErrAuthorizationFailed is returned when a required address did not
	// authorize the invocation or a supplied signature does not verify.
	ErrAuthorizationFailed = errors.New("host: authorization failed")
	// ErrNonceMismatch accompanies ErrAuthorizationFailed when a signature
	// carries a stale or future nonce.
	ErrNonceMismatch = errors.New("host: unexpected authorization nonce")
	// ErrContractNotFound is returned when invoking an address with no deployment.
	ErrContractNotFound = errors.New("host: contract not found")
	// ErrProgramNotFound is returned when a deployment names an unregistered program.
	ErrProgramNotFound = errors.New("host: program not registered")
	// ErrMethodNotFound is returned by programs for unknown method names.
	ErrMethodNotFound = errors.New("host: method not found")
	// ErrAlreadyDeployed is returned when the derived contract address is taken.
	ErrAlreadyDeployed = errors.New("host: contract already deployed")
	// ErrCallDepthExceeded bounds contract-to-contract recursion.
	ErrCallDepthExceeded = errors.New("host: call depth exceeded")
	// ErrInvalidArgs is returned when call arguments fail to decode.
	ErrInvalidArgs = errors.New("host: invalid arguments")
	// ErrReadOnly is returned when a query attempts to write state.
	ErrReadOnly = errors.New("host: write attempted in read-only query")
)
