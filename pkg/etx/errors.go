package etx

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrAuthentication        = errors.New("etx: authentication failed")
	ErrProtocol              = errors.New("etx: protocol error")
	ErrCorrelationMismatch   = errors.New("etx: correlation token mismatch")
	ErrConnectionClosed      = errors.New("etx: connection closed")
	ErrContextNotEstablished = errors.New("etx: organization context not established")
	ErrSessionClosed         = errors.New("etx: session closed")
	ErrRemoteOperation       = errors.New("etx: remote operation failed")
)

// ProtocolError is returned when a reply cannot be interpreted. Raw holds the
// payload as received.
type ProtocolError struct {
	Command string
	Raw     []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := "etx: protocol error"
	if e.Command != "" {
		msg += " (" + e.Command + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// RemoteError reports a well-formed reply whose status signals failure.
type RemoteError struct {
	Command    string
	StatusCode int
	Status     string
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Status != "":
		return fmt.Sprintf("etx: %s failed: statusCode=%d status=%s", e.Command, e.StatusCode, e.Status)
	case e.StatusCode != 0:
		return fmt.Sprintf("etx: %s failed: statusCode=%d", e.Command, e.StatusCode)
	case e.Status != "":
		return fmt.Sprintf("etx: %s failed: status=%s", e.Command, e.Status)
	default:
		return fmt.Sprintf("etx: %s failed: no status in reply", e.Command)
	}
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteOperation }
