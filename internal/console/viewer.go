package console

import "sync"

// Viewer is one connection's attachment to a Session. Output chunks are
// queued in a bounded buffer owned by the viewer; the session never waits
// for a viewer to drain it.
type Viewer struct {
	ConnID string

	out  chan []byte
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newViewer(connID string, buffer int) *Viewer {
	if buffer <= 0 {
		buffer = DefaultViewerBuffer
	}
	return &Viewer{
		ConnID: connID,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Output yields output chunks in production order. It is never closed;
// select on Done to learn when the attachment ends, then drain Output.
func (v *Viewer) Output() <-chan []byte {
	return v.out
}

// Done is closed when the viewer is detached, evicted or the session closes.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Err reports why the attachment ended: nil after a detach,
// ErrSessionClosed or ErrSlowViewer otherwise.
func (v *Viewer) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// offer queues chunk without blocking. It returns false when the buffer is
// full. Offers to a finished viewer are dropped.
func (v *Viewer) offer(chunk []byte) bool {
	select {
	case <-v.done:
		return true
	default:
	}
	select {
	case v.out <- chunk:
		return true
	default:
		return false
	}
}

func (v *Viewer) finish(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	select {
	case <-v.done:
		return
	default:
	}
	v.err = err
	close(v.done)
}
