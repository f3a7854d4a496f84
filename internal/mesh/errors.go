package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrClosed            = errors.New("supervisor closed")
	ErrInvalidTransition = errors.New("invalid link state transition")
	ErrLinkClosed        = errors.New("link closed")
	ErrConnFailed        = errors.New("peer connection failed")
)

// LinkError is a failure confined to one peer link. It tears that link down
// and leaves the rest of the mesh alone.
type LinkError struct {
	Op   string
	Peer string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.Peer, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func linkError(op, peer string, err error) *LinkError {
	return &LinkError{Op: op, Peer: peer, Err: err}
}
