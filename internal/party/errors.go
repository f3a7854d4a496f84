package party

import (
	"errors"
	"fmt"

	"github.com/ChilliRoger/den-day/internal/protocol"
)

var (
	ErrMediaUnavailable = errors.New("camera or microphone unavailable")
	ErrSignaling        = errors.New("signaling server error")
	ErrDisconnected     = errors.New("disconnected from signaling server")
	ErrNotStarted       = errors.New("session not started")
	ErrEmptyMessage     = errors.New("empty chat message")
	ErrNotHost          = errors.New("only the host can start cake cutting")
)

// SessionError records which step of a session failed. Code carries the
// server's error code when the server rejected the request.
type SessionError struct {
	Op   string
	Code protocol.ErrorCode
	Err  error
}

func (e *SessionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

// serverError turns a server error reply into a SessionError wrapping
// ErrSignaling.
func serverError(op string, p *protocol.ErrorPayload) *SessionError {
	if p == nil {
		return &SessionError{Op: op, Err: ErrSignaling}
	}
	return &SessionError{Op: op, Code: p.Code, Err: fmt.Errorf("%w: %s", ErrSignaling, p.Message)}
}
