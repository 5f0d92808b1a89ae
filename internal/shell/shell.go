// Package shell defines the remote shell handle a console session drives,
// and provides the SSH implementation used for game servers.
//
// A Handle is one live shell process bound to a managed server. Read yields
// the bytes the shell produces; an error from Read (io.EOF included) means
// the process is gone. Write sends raw keystrokes. Resize changes the PTY
// dimensions. Close terminates the process.
package shell

import (
	"context"
	"errors"
	"io"
)

// ErrServerNotRunning is returned by an Opener when the managed server is
// known but not in the running state.
var ErrServerNotRunning = errors.New("server is not running")

// Size is a terminal size in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Cols > 0 && s.Rows > 0
}

// Handle is a live remote shell process.
type Handle interface {
	io.Reader
	io.Writer
	Resize(cols, rows uint16) error
	Close() error
}

// Opener creates shell handles for managed servers.
type Opener interface {
	Open(ctx context.Context, serverID string, size Size) (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, serverID string, size Size) (Handle, error)

func (f OpenerFunc) Open(ctx context.Context, serverID string, size Size) (Handle, error) {
	return f(ctx, serverID, size)
}
