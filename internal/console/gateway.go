package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pgsm/console-bridge/internal/logging"
	"github.com/pgsm/console-bridge/internal/protocol"
	"github.com/pgsm/console-bridge/internal/shell"
)

const (
	// MaxInputSize is the largest console_input payload accepted in one event.
	MaxInputSize = 64 * 1024
	// MaxCols and MaxRows cap requested terminal dimensions.
	MaxCols = 500
	MaxRows = 500
)

// Emitter delivers server → viewer frames on one connection. It must be safe
// for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, msg protocol.Outbound) error
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// ConnID identifies the viewer connection in its sessions.
	ConnID string
	// OnSlowConsumer is called when the connection was dropped from its
	// session for not keeping up with output. The transport should close
	// the connection.
	OnSlowConsumer func()
}

type binding struct {
	session   *Session
	viewer    *Viewer
	relayDone chan struct{}
}

// Gateway adapts one viewer connection to console sessions. It is Unbound
// until a join succeeds and Bound to exactly one Session afterwards.
type Gateway struct {
	registry *Registry
	emitter  Emitter
	connID   string
	onSlow   func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	binding *binding
	closed  bool
}

func NewGateway(registry *Registry, emitter Emitter, opts GatewayOptions) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		registry: registry,
		emitter:  emitter,
		connID:   opts.ConnID,
		onSlow:   opts.OnSlowConsumer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ServerID returns the id of the bound server, or "" while Unbound.
func (g *Gateway) ServerID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.binding == nil {
		return ""
	}
	return g.binding.session.ServerID
}

// Handle dispatches one decoded inbound event.
func (g *Gateway) Handle(ctx context.Context, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case *protocol.JoinConsole:
		return g.Join(ctx, m.ServerID, m.Cols, m.Rows)
	case *protocol.ConsoleInput:
		return g.Input(m.ServerID, m.Command)
	case *protocol.ConsoleResize:
		return g.Resize(m.ServerID, m.Cols, m.Rows)
	case *protocol.LeaveConsole:
		return g.Leave(m.ServerID)
	default:
		return fmt.Errorf("%w: unsupported event %s", protocol.ErrBadRequest, msg.EventName())
	}
}

// Join binds the connection to serverID's Session, creating it if needed.
// cols and rows are optional; when either is given it must be positive.
// Joining while bound leaves the current Session first.
func (g *Gateway) Join(ctx context.Context, serverID string, cols, rows *int) error {
	size, err := joinSize(cols, rows)
	if err != nil {
		return err
	}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return context.Canceled
	}

	g.unbind()

	for attempt := 0; attempt < 2; attempt++ {
		s, err := g.registry.GetOrCreate(ctx, serverID, size)
		if err != nil {
			return err
		}
		v, err := s.Attach(g.connID, size)
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			return err
		}
		return g.bind(s, v)
	}
	return fmt.Errorf("%w: session for server %s closed during join", ErrSessionUnavailable, serverID)
}

func (g *Gateway) bind(s *Session, v *Viewer) error {
	b := &binding{session: s, viewer: v, relayDone: make(chan struct{})}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		s.Detach(g.connID)
		return context.Canceled
	}
	g.binding = b
	g.mu.Unlock()

	size := s.Size()
	if err := g.emitter.Emit(g.ctx, protocol.Joined(s.ServerID, size.Cols, size.Rows, s.ViewerCount())); err != nil {
		log.Printf("[gateway] conn %s: emit console_joined: %v", g.connID, err)
	}
	go g.relay(b)
	return nil
}

// Leave unbinds the connection from serverID's Session.
func (g *Gateway) Leave(serverID string) error {
	if _, err := g.bound(serverID); err != nil {
		return err
	}
	g.unbind()
	return nil
}

// Input forwards keystrokes to the bound Session.
func (g *Gateway) Input(serverID, command string) error {
	if len(command) > MaxInputSize {
		return ErrInputTooLarge
	}
	s, err := g.bound(serverID)
	if err != nil {
		return err
	}
	return s.Input([]byte(command))
}

// Resize changes the bound Session's dimensions. Values above MaxCols or
// MaxRows are clamped.
func (g *Gateway) Resize(serverID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrInvalidDimensions
	}
	s, err := g.bound(serverID)
	if err != nil {
		return err
	}
	return s.Resize(uint16(min(cols, MaxCols)), uint16(min(rows, MaxRows)))
}

// Close performs the implicit leave on connection termination. The gateway
// accepts no further joins.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.unbind()
}

// ReportError sends err to the viewer as console_error. Session
// unavailability and closure are also rendered as a notice in the terminal.
func (g *Gateway) ReportError(ctx context.Context, serverID string, err error) {
	code := ErrorCode(err)
	log.Printf("[gateway] conn %s: server %s: %s: %v", g.connID, logging.Sanitize(serverID), code, err)

	if emitErr := g.emitter.Emit(ctx, protocol.Error(serverID, code, err.Error())); emitErr != nil {
		return
	}
	switch code {
	case protocol.CodeSessionUnavailable:
		_ = g.emitter.Emit(ctx, protocol.Notice("Console unavailable: "+err.Error()))
	case protocol.CodeSessionClosed:
		_ = g.emitter.Emit(ctx, protocol.Notice("Console session ended."))
	}
}

// bound returns the bound Session after checking serverID against it.
func (g *Gateway) bound(serverID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.binding == nil {
		return nil, ErrNotJoined
	}
	if g.binding.session.ServerID != serverID {
		return nil, ErrServerMismatch
	}
	return g.binding.session, nil
}

// unbind detaches from the current Session, if any, and waits for its relay
// to finish so no output for the old Session is emitted afterwards.
func (g *Gateway) unbind() {
	g.mu.Lock()
	b := g.binding
	g.binding = nil
	g.mu.Unlock()

	if b == nil {
		return
	}
	b.session.Detach(g.connID)
	<-b.relayDone
}

// clear drops b if it is still the current binding. Called by the relay,
// which must never wait on itself through unbind.
func (g *Gateway) clear(b *binding) {
	g.mu.Lock()
	if g.binding == b {
		g.binding = nil
	}
	g.mu.Unlock()
}

// relay forwards the viewer's output as console_output until the
// attachment ends.
func (g *Gateway) relay(b *binding) {
	defer close(b.relayDone)

	serverID := b.session.ServerID
	v := b.viewer
	enc := &protocol.OutputEncoder{}

	emit := func(data string) bool {
		if data == "" {
			return true
		}
		if err := g.emitter.Emit(g.ctx, protocol.Output(data)); err != nil {
			log.Printf("[gateway] conn %s: emit output for server %s: %v", g.connID, serverID, err)
			return false
		}
		return true
	}

	for {
		select {
		case chunk := <-v.Output():
			if !emit(enc.Encode(chunk)) {
				return
			}
		case <-v.Done():
			for drained := false; !drained; {
				select {
				case chunk := <-v.Output():
					if !emit(enc.Encode(chunk)) {
						return
					}
				default:
					drained = true
				}
			}
			if !emit(enc.Flush()) {
				return
			}
			g.finishRelay(b)
			return
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gateway) finishRelay(b *binding) {
	serverID := b.session.ServerID
	switch err := b.viewer.Err(); {
	case errors.Is(err, ErrSessionClosed):
		// The binding is kept so later input and resize report SessionClosed.
		_ = g.emitter.Emit(g.ctx, protocol.Closed(serverID, b.session.CloseReason()))
		_ = g.emitter.Emit(g.ctx, protocol.Notice("Console session ended."))
	case errors.Is(err, ErrSlowViewer):
		g.clear(b)
		_ = g.emitter.Emit(g.ctx, protocol.Error(serverID, protocol.CodeSlowConsumer, err.Error()))
		if g.onSlow != nil {
			g.onSlow()
		}
	}
}

func joinSize(cols, rows *int) (shell.Size, error) {
	var size shell.Size
	if cols != nil {
		if *cols <= 0 {
			return size, ErrInvalidDimensions
		}
		size.Cols = uint16(min(*cols, MaxCols))
	}
	if rows != nil {
		if *rows <= 0 {
			return size, ErrInvalidDimensions
		}
		size.Rows = uint16(min(*rows, MaxRows))
	}
	return size, nil
}
