package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Set of errors returned while connecting to the ledger.
var (
	ErrNetworkUnreachable  = errors.New("ledger network unreachable")
	ErrContractNotDeployed = errors.New("contract not deployed")
	ErrNoAccounts          = errors.New("ledger has no signing accounts")
)

// Kind classifies a failed ledger call.
type Kind int

// Set of ledger error kinds.
const (
	KindTransport Kind = iota + 1
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// Error is returned by calls made against a connected session.
type Error struct {
	Kind   Kind
	Method string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %s: %s", e.Method, e.Kind, e.Err)
}

// Unwrap provides support for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRejected reports whether the ledger processed the call and refused it.
func IsRejected(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindRejected
}

// IsTransport reports whether the call failed to reach the ledger.
func IsTransport(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindTransport
}

// classify maps an error returned by the rpc client to a ledger error. An
// error carrying a JSON-RPC error code came back from the node itself, so
// the call reached the ledger and was refused there.
func classify(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &Error{Kind: KindRejected, Method: method, Err: err}
	}

	return &Error{Kind: KindTransport, Method: method, Err: err}
}
