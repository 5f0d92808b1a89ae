package console

import (
	"errors"

	"github.com/pgsm/console-bridge/internal/protocol"
)

var (
	// ErrSessionUnavailable means no shell could be created for the server.
	ErrSessionUnavailable = errors.New("console session unavailable")
	// ErrInvalidDimensions means a non-positive column or row count.
	ErrInvalidDimensions = errors.New("invalid terminal dimensions")
	// ErrServerMismatch means the event names a server other than the joined one.
	ErrServerMismatch = errors.New("server_id does not match the joined console")
	// ErrNotJoined means input, resize or leave arrived before a successful join.
	ErrNotJoined = errors.New("not joined to a console")
	// ErrSessionClosed means the session's shell has terminated.
	ErrSessionClosed = errors.New("console session closed")
	// ErrSlowViewer means a viewer's output buffer overflowed and it was dropped.
	ErrSlowViewer = errors.New("viewer could not keep up with console output")
	// ErrInputTooLarge means a single input payload exceeded MaxInputSize.
	ErrInputTooLarge = errors.New("console input too large")
	// ErrNoSession is returned by administrative operations on an unknown server.
	ErrNoSession = errors.New("no live console session")
)

// ErrorCode maps an error to its console_error wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionUnavailable):
		return protocol.CodeSessionUnavailable
	case errors.Is(err, ErrInvalidDimensions):
		return protocol.CodeInvalidDimensions
	case errors.Is(err, ErrServerMismatch):
		return protocol.CodeServerMismatch
	case errors.Is(err, ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, ErrSessionClosed):
		return protocol.CodeSessionClosed
	case errors.Is(err, ErrSlowViewer):
		return protocol.CodeSlowConsumer
	case errors.Is(err, ErrInputTooLarge):
		return protocol.CodeInputTooLarge
	case errors.Is(err, protocol.ErrBadRequest):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}
