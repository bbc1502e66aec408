package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Result classifies the outcome of a request. The set is fixed: new transport
// fault subtypes must be mapped into it explicitly (see FromError), since the
// router's retry-versus-surface decision is keyed off specific members.
type Result int

const (
	Ok Result = iota
	NotFound
	PermissionDenied
	ConnectionRefused
	ConnectionReset
	ConnectionAborted
	NotConnected
	AddrInUse
	AddrNotAvailable
	BrokenPipe
	AlreadyExists
	WouldBlock
	InvalidInput
	InvalidData
	TimedOut
	WriteZero
	Interrupted
	Other
	UnexpectedEOF
)

var resultNames = map[Result]string{
	Ok:                "ok",
	NotFound:          "not-found",
	PermissionDenied:  "permission-denied",
	ConnectionRefused: "connection-refused",
	ConnectionReset:   "connection-reset",
	ConnectionAborted: "connection-aborted",
	NotConnected:      "not-connected",
	AddrInUse:         "address-in-use",
	AddrNotAvailable:  "address-not-available",
	BrokenPipe:        "broken-pipe",
	AlreadyExists:     "already-exists",
	WouldBlock:        "would-block",
	InvalidInput:      "invalid-input",
	InvalidData:       "invalid-data",
	TimedOut:          "timed-out",
	WriteZero:         "write-zero",
	Interrupted:       "interrupted",
	Other:             "other",
	UnexpectedEOF:     "unexpected-end-of-data",
}

var resultValues = func() map[string]Result {
	m := make(map[string]Result, len(resultNames))
	for result, name := range resultNames {
		m[name] = result
	}
	return m
}()

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// MarshalJSON encodes the result as its string name.
func (r Result) MarshalJSON() ([]byte, error) {
	name, ok := resultNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown result %d", int(r))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a result from its string name.
func (r *Result) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	result, ok := resultValues[name]
	if !ok {
		return fmt.Errorf("unknown result %q", name)
	}
	*r = result
	return nil
}

// IsTransportFault reports whether the result indicates a connection-level
// failure that justifies failing over to another provider. Everything else,
// TimedOut included, is an authoritative outcome and must not be retried.
func (r Result) IsTransportFault() bool {
	switch r {
	case ConnectionRefused, ConnectionReset, ConnectionAborted, NotConnected, BrokenPipe:
		return true
	}
	return false
}

// FromError maps a Go error to the closest Result. Unknown errors map to
// Other, never to a transport fault, so an unclassified failure is surfaced
// rather than silently retried.
func FromError(err error) Result {
	if err == nil {
		return Ok
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Result
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, context.Canceled):
		return Interrupted
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ConnectionReset
	case errors.Is(err, syscall.ECONNABORTED):
		return ConnectionAborted
	case errors.Is(err, syscall.ENOTCONN):
		return NotConnected
	case errors.Is(err, syscall.EADDRINUSE):
		return AddrInUse
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return AddrNotAvailable
	case errors.Is(err, syscall.EPIPE):
		return BrokenPipe
	case errors.Is(err, syscall.EINTR):
		return Interrupted
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return UnexpectedEOF
	case errors.Is(err, io.ErrShortWrite):
		return WriteZero
	case errors.Is(err, os.ErrNotExist):
		return NotFound
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied
	case errors.Is(err, os.ErrExist):
		return AlreadyExists
	case errors.Is(err, os.ErrInvalid):
		return InvalidInput
	case errors.Is(err, net.ErrClosed):
		return NotConnected
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}
	return Other
}

// Error is the typed error carried by every non-Ok outcome in the system.
type Error struct {
	Result  Result
	Message string
}

// Errorf builds an Error with a formatted message.
func Errorf(result Result, format string, args ...any) *Error {
	return &Error{Result: result, Message: fmt.Sprintf(format, args...)}
}

// WrapError converts an arbitrary error into an Error, preserving an existing
// Error's result code.
func WrapError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Result: FromError(err), Message: err.Error()}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Result.String()
	}
	return fmt.Sprintf("%s: %s", e.Result, e.Message)
}
