package chain

import (
	"errors"
	"fmt"
)

// ErrMalformedHeader indicates a DA header carried no pre-runtime consensus
// digest, or the digest payload could not be decoded. Fatal for the poll.
var ErrMalformedHeader = errors.New("malformed header: missing or undecodable pre-runtime digest")

// ErrUninitializedState indicates correlation state was read before the
// bootstrap ran. This is an ordering bug in the caller, not a runtime
// condition to recover from.
var ErrUninitializedState = errors.New("correlation state accessed before bootstrap")

// RPCError wraps an upstream RPC failure with the method that produced it.
// These are propagated to the caller; the facade logs and returns them.
type RPCError struct {
	Method string
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}
