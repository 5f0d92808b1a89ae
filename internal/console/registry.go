package console

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pgsm/console-bridge/internal/shell"
)

// maxCreateAttempts bounds how often GetOrCreate retries when a freshly
// created session dies before it can be handed out.
const maxCreateAttempts = 3

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Opener       shell.Opener
	DefaultSize  shell.Size
	ViewerBuffer int
}

// SessionInfo is a point-in-time description of a registered session.
type SessionInfo struct {
	ServerID  string       `json:"server_id"`
	State     SessionState `json:"state"`
	Viewers   int          `json:"viewers"`
	Cols      uint16       `json:"cols"`
	Rows      uint16       `json:"rows"`
	CreatedAt time.Time    `json:"created_at"`
}

// Registry maps managed server ids to their live Session. It guarantees that
// at most one shell handle exists per server id: concurrent creators for the
// same id share a single Open call.
type Registry struct {
	opener       shell.Opener
	defaultSize  shell.Size
	viewerBuffer int

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]int // creates in flight per server id
	group    singleflight.Group
}

func NewRegistry(cfg RegistryConfig) *Registry {
	size := cfg.DefaultSize
	if !size.Valid() {
		size = shell.DefaultSize
	}
	buffer := cfg.ViewerBuffer
	if buffer <= 0 {
		buffer = DefaultViewerBuffer
	}
	return &Registry{
		opener:       cfg.Opener,
		defaultSize:  size,
		viewerBuffer: buffer,
		sessions:     make(map[string]*Session),
		opening:      make(map[string]int),
	}
}

// GetOrCreate returns the active Session for serverID, opening a shell if
// none exists. A Session that is closing is waited out and replaced. size is
// the initial PTY size for a new shell; an invalid size selects the
// registry default. When the shell cannot be opened nothing is registered
// and the error wraps ErrSessionUnavailable.
func (r *Registry) GetOrCreate(ctx context.Context, serverID string, size shell.Size) (*Session, error) {
	if !size.Valid() {
		size = r.defaultSize
	}

	for attempt := 0; attempt < maxCreateAttempts; {
		if s := r.Get(serverID); s != nil {
			switch s.State() {
			case StateActive:
				return s, nil
			case StateClosing:
				select {
				case <-s.Done():
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			case StateClosed:
				r.Remove(serverID, s)
				continue
			}
		}

		v, err, _ := r.group.Do(serverID, func() (any, error) {
			return r.create(ctx, serverID, size)
		})
		if err != nil {
			return nil, err
		}
		s := v.(*Session)
		if s.State() == StateActive {
			return s, nil
		}
		attempt++
	}
	return nil, fmt.Errorf("%w: shell for server %s exited immediately", ErrSessionUnavailable, serverID)
}

// create runs inside the singleflight group for serverID.
func (r *Registry) create(ctx context.Context, serverID string, size shell.Size) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[serverID]; ok && s.State() != StateClosed {
		r.mu.Unlock()
		return s, nil
	}
	r.opening[serverID]++
	r.mu.Unlock()

	h, err := r.opener.Open(ctx, serverID, size)
	if err != nil {
		r.doneOpening(serverID)
		log.Printf("[registry] open shell for server %s failed: %v", serverID, err)
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	s := newSession(serverID, h, size, r.viewerBuffer, func(s *Session) {
		r.Remove(s.ServerID, s)
	})

	// Registration and the end of the open happen under one lock so InUse
	// never observes a gap between them.
	r.mu.Lock()
	r.sessions[serverID] = s
	r.endOpenLocked(serverID)
	r.mu.Unlock()

	s.start()
	log.Printf("[registry] session created for server %s at %dx%d", serverID, size.Cols, size.Rows)
	return s, nil
}

func (r *Registry) doneOpening(serverID string) {
	r.mu.Lock()
	r.endOpenLocked(serverID)
	r.mu.Unlock()
}

func (r *Registry) endOpenLocked(serverID string) {
	if r.opening[serverID] <= 1 {
		delete(r.opening, serverID)
		return
	}
	r.opening[serverID]--
}

// Get returns the registered Session for serverID, or nil.
func (r *Registry) Get(serverID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[serverID]
}

// Remove deletes the entry for serverID only if it still refers to s. A
// stale caller can therefore never evict a newer Session.
func (r *Registry) Remove(serverID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[serverID]; ok && cur == s {
		delete(r.sessions, serverID)
		return true
	}
	return false
}

// HasLive reports whether serverID has a Session that is not yet closed.
func (r *Registry) HasLive(serverID string) bool {
	s := r.Get(serverID)
	return s != nil && s.State() != StateClosed
}

// InUse reports whether serverID has a live Session or a shell currently
// being opened for it. Connections of servers in use must not be reaped.
func (r *Registry) InUse(serverID string) bool {
	r.mu.Lock()
	opening := r.opening[serverID] > 0
	s := r.sessions[serverID]
	r.mu.Unlock()
	return opening || (s != nil && s.State() != StateClosed)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of all registered sessions ordered by server id.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		infos = append(infos, SessionInfo{
			ServerID:  s.ServerID,
			State:     s.state,
			Viewers:   len(s.viewers),
			Cols:      s.size.Cols,
			Rows:      s.size.Rows,
			CreatedAt: s.CreatedAt,
		})
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ServerID < infos[j].ServerID })
	return infos
}

// Stop closes the Session for serverID on administrative request.
func (r *Registry) Stop(serverID string) error {
	s := r.Get(serverID)
	if s == nil || s.State() == StateClosed {
		return ErrNoSession
	}
	s.Stop("stopped by administrator")
	return nil
}

// StopAll closes every registered Session. Used at shutdown.
func (r *Registry) StopAll(reason string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop(reason)
	}
	if len(sessions) > 0 {
		log.Printf("[registry] stopped %d sessions: %s", len(sessions), reason)
	}
}

// Sweep removes entries whose Session already reached StateClosed and
// returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.State() == StateClosed {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
