package escrow

import (
	"fmt"
	"math/big"

	"microescrow/core/types"
)

// State is the lifecycle position of an escrow. It only ever advances
// Pending -> Submitted -> Released.
type State uint8

const (
	StatePending State = iota
	StateSubmitted
	StateReleased
)

// Valid reports whether the state value is within the supported range.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateSubmitted, StateReleased:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateSubmitted:
		return "Submitted"
	case StateReleased:
		return "Released"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ParseState maps the textual form back to a State.
func ParseState(raw string) (State, error) {
	for _, s := range []State{StatePending, StateSubmitted, StateReleased} {
		if s.String() == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown state %q", raw)
}

// Escrow is the single record kept by an escrow instance. Every field but
// State is written once by initialize.
type Escrow struct {
	Payer        [20]byte
	Payee        [20]byte
	FeeCollector [20]byte
	Asset        [20]byte
	Amount       [types.Int128Size]byte
	State        State
}

// AmountValue decodes the escrowed amount.
func (e *Escrow) AmountValue() *big.Int {
	return types.DecodeInt128(e.Amount)
}
