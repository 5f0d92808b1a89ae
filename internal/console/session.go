package console

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pgsm/console-bridge/internal/shell"
)

// SessionState represents the lifecycle state of a console session.
type SessionState string

const (
	// StateActive means the shell is alive and accepts viewers, input and resizes.
	StateActive SessionState = "active"
	// StateClosing means the shell ended or a stop was requested; viewers are
	// being notified and the handle released.
	StateClosing SessionState = "closing"
	// StateClosed means the handle is released. The session is removed from
	// its registry.
	StateClosed SessionState = "closed"
)

const (
	// DefaultViewerBuffer is the number of output chunks queued per viewer
	// before it is considered too slow and dropped.
	DefaultViewerBuffer = 256

	readBufferSize = 32 * 1024
)

// Session multiplexes one remote shell across any number of viewers. All
// viewers see the same output and share one input stream.
//
// Input and resize calls are serialized by ioMu, so bytes from concurrent
// callers reach the shell one call at a time in the order the calls
// acquired the session. The viewer set, dimensions and state are guarded by
// mu, which is never held across handle I/O; the output pump therefore keeps
// draining the shell even while a write is blocked.
type Session struct {
	ServerID  string
	CreatedAt time.Time

	handle       shell.Handle
	viewerBuffer int
	onClosed     func(*Session)

	ioMu sync.Mutex

	mu          sync.Mutex
	state       SessionState
	viewers     map[string]*Viewer
	size        shell.Size
	closeReason string
	done        chan struct{}
}

func newSession(serverID string, h shell.Handle, size shell.Size, viewerBuffer int, onClosed func(*Session)) *Session {
	return &Session{
		ServerID:     serverID,
		CreatedAt:    time.Now(),
		handle:       h,
		viewerBuffer: viewerBuffer,
		onClosed:     onClosed,
		state:        StateActive,
		viewers:      make(map[string]*Viewer),
		size:         size,
		done:         make(chan struct{}),
	}
}

// start launches the output pump. It must be called once.
func (s *Session) start() {
	go s.pump()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the dimensions last applied to the shell.
func (s *Session) Size() shell.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// ViewerCount returns the number of attached viewers.
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// HasViewer reports whether connID is attached.
func (s *Session) HasViewer(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.viewers[connID]
	return ok
}

// CloseReason describes why the session closed. Empty while active.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Attach registers connID as a viewer and returns its output attachment.
// Output starts from now; nothing produced earlier is replayed. When connID
// is the first viewer and size is valid and differs from the current
// dimensions, the shell is resized to it. Attaching an already attached
// connID replaces its previous attachment.
func (s *Session) Attach(connID string, size shell.Size) (*Viewer, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if old, ok := s.viewers[connID]; ok {
		old.finish(nil)
	}
	v := newViewer(connID, s.viewerBuffer)
	s.viewers[connID] = v
	count := len(s.viewers)
	needResize := count == 1 && size.Valid() && size != s.size
	s.mu.Unlock()

	log.Printf("[console] viewer %s attached to server %s (%d viewers)", connID, s.ServerID, count)

	if needResize {
		if err := s.applyResize(size); err != nil {
			log.Printf("[console] initial resize of server %s to %dx%d failed: %v", s.ServerID, size.Cols, size.Rows, err)
		}
	}
	return v, nil
}

// Detach removes connID from the viewers. Detaching an absent viewer is a
// no-op. The shell keeps running when the last viewer leaves.
func (s *Session) Detach(connID string) bool {
	s.mu.Lock()
	v, ok := s.viewers[connID]
	if ok {
		delete(s.viewers, connID)
	}
	remaining := len(s.viewers)
	s.mu.Unlock()

	if !ok {
		return false
	}
	v.finish(nil)
	if remaining == 0 {
		log.Printf("[console] viewer %s detached from server %s; shell keeps running headless", connID, s.ServerID)
	} else {
		log.Printf("[console] viewer %s detached from server %s (%d viewers)", connID, s.ServerID, remaining)
	}
	return true
}

// Input writes data to the shell verbatim.
func (s *Session) Input(data []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if _, err := s.handle.Write(data); err != nil {
		return fmt.Errorf("write console input: %w", err)
	}
	return nil
}

// Resize applies new dimensions to the shell. The last call to succeed
// determines the session's dimensions. Zero dimensions are rejected without
// touching the shell.
func (s *Session) Resize(cols, rows uint16) error {
	size := shell.Size{Cols: cols, Rows: rows}
	if !size.Valid() {
		return ErrInvalidDimensions
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if err := s.applyResize(size); err != nil {
		return fmt.Errorf("resize console: %w", err)
	}
	return nil
}

// applyResize must be called with ioMu held.
func (s *Session) applyResize(size shell.Size) error {
	if err := s.handle.Resize(size.Cols, size.Rows); err != nil {
		return err
	}
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
	return nil
}

// Stop closes the session on administrative request. Viewers are notified
// the same way as when the shell exits.
func (s *Session) Stop(reason string) {
	s.shutdown(reason)
}

// pump reads the shell's output for the lifetime of the session and fans it
// out to every viewer.
func (s *Session) pump() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(chunk)
		}
		if err != nil {
			reason := "shell exited"
			if !errors.Is(err, io.EOF) {
				reason = fmt.Sprintf("shell output failed: %v", err)
			}
			s.shutdown(reason)
			return
		}
	}
}

func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	viewers := make([]*Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	s.mu.Unlock()

	for _, v := range viewers {
		if !v.offer(chunk) {
			s.evict(v)
		}
	}
}

// evict drops a viewer whose buffer overflowed.
func (s *Session) evict(v *Viewer) {
	s.mu.Lock()
	if cur, ok := s.viewers[v.ConnID]; ok && cur == v {
		delete(s.viewers, v.ConnID)
	}
	s.mu.Unlock()

	v.finish(ErrSlowViewer)
	log.Printf("[console] viewer %s dropped from server %s: output buffer full", v.ConnID, s.ServerID)
}

// shutdown moves the session through Closing to Closed: every viewer is
// finished with ErrSessionClosed, the handle is closed and the registry
// callback runs. Only the first call has any effect.
func (s *Session) shutdown(reason string) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.closeReason = reason
	viewers := s.viewers
	s.viewers = make(map[string]*Viewer)
	s.mu.Unlock()

	log.Printf("[console] session for server %s closing: %s (%d viewers notified)", s.ServerID, reason, len(viewers))

	for _, v := range viewers {
		v.finish(ErrSessionClosed)
	}
	if err := s.handle.Close(); err != nil {
		log.Printf("[console] close shell for server %s: %v", s.ServerID, err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)

	if s.onClosed != nil {
		s.onClosed(s)
	}
}
