package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pgsm/console-bridge/internal/protocol"
	"github.com/pgsm/console-bridge/internal/shell"
)

// fakeHandle is an in-memory shell. Output is pushed with emit and ended
// with end; writes and resizes are recorded.
type fakeHandle struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu        sync.Mutex
	input     bytes.Buffer
	writes    [][]byte
	resizes   []shell.Size
	resizeErr error
	writeErr  error
	closed    bool

	writing    atomic.Int32
	overlapped atomic.Bool
	writeDelay time.Duration
}

func newFakeHandle() *fakeHandle {
	r, w := io.Pipe()
	return &fakeHandle{outR: r, outW: w}
}

func (h *fakeHandle) Read(p []byte) (int, error) { return h.outR.Read(p) }

func (h *fakeHandle) Write(p []byte) (int, error) {
	if h.writing.Add(1) > 1 {
		h.overlapped.Store(true)
	}
	defer h.writing.Add(-1)
	if h.writeDelay > 0 {
		time.Sleep(h.writeDelay)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return 0, h.writeErr
	}
	h.input.Write(p)
	h.writes = append(h.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (h *fakeHandle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resizeErr != nil {
		return h.resizeErr
	}
	h.resizes = append(h.resizes, shell.Size{Cols: cols, Rows: rows})
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.outW.Close()
	return nil
}

// emit blocks until the session pump has read data.
func (h *fakeHandle) emit(t *testing.T, data string) {
	t.Helper()
	if _, err := h.outW.Write([]byte(data)); err != nil {
		t.Fatalf("emit %q: %v", data, err)
	}
}

// end terminates the output stream as a shell exit would.
func (h *fakeHandle) end() {
	h.outW.Close()
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) inputString() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.input.String()
}

func (h *fakeHandle) resizeLog() []shell.Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shell.Size(nil), h.resizes...)
}

// fakeOpener hands out fakeHandles and records every Open call.
type fakeOpener struct {
	opens atomic.Int32
	delay time.Duration

	mu      sync.Mutex
	handles map[string][]*fakeHandle
	sizes   []shell.Size
	failing map[string]error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		handles: make(map[string][]*fakeHandle),
		failing: make(map[string]error),
	}
}

func (o *fakeOpener) Open(ctx context.Context, serverID string, size shell.Size) (shell.Handle, error) {
	o.opens.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.failing[serverID]; ok {
		return nil, err
	}
	h := newFakeHandle()
	o.handles[serverID] = append(o.handles[serverID], h)
	o.sizes = append(o.sizes, size)
	return h, nil
}

func (o *fakeOpener) fail(serverID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failing[serverID] = err
}

// handle returns the most recent handle opened for serverID.
func (o *fakeOpener) handle(t *testing.T, serverID string) *fakeHandle {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	hs := o.handles[serverID]
	if len(hs) == 0 {
		t.Fatalf("no handle opened for %s", serverID)
	}
	return hs[len(hs)-1]
}

func newTestRegistry(opener shell.Opener) *Registry {
	return NewRegistry(RegistryConfig{Opener: opener, DefaultSize: shell.Size{Cols: 80, Rows: 24}, ViewerBuffer: 16})
}

// recorder is an Emitter that keeps every frame.
type recorder struct {
	mu     sync.Mutex
	frames []protocol.Outbound
	err    error
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) Emit(_ context.Context, msg protocol.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, msg)
	return nil
}

func (r *recorder) snapshot() []protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Outbound(nil), r.frames...)
}

// output concatenates the data of every console_output frame.
func (r *recorder) output() string {
	var buf bytes.Buffer
	for _, f := range r.snapshot() {
		if f.Event == protocol.EventConsoleOutput {
			buf.WriteString(f.Data.(protocol.ConsoleOutput).Data)
		}
	}
	return buf.String()
}

func (r *recorder) find(event string) (protocol.Outbound, bool) {
	for _, f := range r.snapshot() {
		if f.Event == event {
			return f, true
		}
	}
	return protocol.Outbound{}, false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// readChunks collects viewer output until want bytes arrived.
func readChunks(t *testing.T, v *Viewer, want int) string {
	t.Helper()
	var buf bytes.Buffer
	timeout := time.After(2 * time.Second)
	for buf.Len() < want {
		select {
		case chunk := <-v.Output():
			buf.Write(chunk)
		case <-timeout:
			t.Fatalf("viewer %s: got %q, want %d bytes", v.ConnID, buf.String(), want)
		}
	}
	return buf.String()
}

var errBoom = errors.New("boom")
