// Package sshproxy manages SSH access to game servers.
//
// SSHManager owns the service key pair and keeps one multiplexed SSH
// connection per managed server, keyed by the server ID. Console shells are
// opened as channels on these connections, so any number of shells for the
// same server share one TCP connection.
package sshproxy

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// keepaliveInterval is how often we send keepalive requests.
	keepaliveInterval = 30 * time.Second

	// defaultConnectTimeout applies when the manager is created with zero.
	defaultConnectTimeout = 15 * time.Second
)

// Target is the SSH endpoint of a managed server.
type Target struct {
	Host string
	Port int
	User string
}

func (t Target) addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// SSHManager manages SSH connections to game servers.
type SSHManager struct {
	signer         ssh.Signer
	connectTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*managedConn
}

// managedConn wraps an SSH client with its cancel function for stopping keepalive.
type managedConn struct {
	client      *ssh.Client
	cancel      context.CancelFunc
	connectedAt time.Time
}

// NewSSHManager creates a new SSHManager authenticating with signer.
func NewSSHManager(signer ssh.Signer, connectTimeout time.Duration) *SSHManager {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &SSHManager{
		signer:         signer,
		connectTimeout: connectTimeout,
		conns:          make(map[string]*managedConn),
	}
}

// Connect establishes an SSH connection to target and stores it under
// serverID, replacing any existing connection.
func (m *SSHManager) Connect(ctx context.Context, serverID string, target Target) (*ssh.Client, error) {
	user := target.User
	if user == "" {
		user = "root"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(m.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         m.connectTimeout,
	}

	addr := target.addr()
	dialer := net.Dialer{Timeout: m.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	keepCtx, keepCancel := context.WithCancel(context.Background())
	mc := &managedConn{client: client, cancel: keepCancel, connectedAt: time.Now()}

	m.mu.Lock()
	if existing, ok := m.conns[serverID]; ok {
		existing.cancel()
		existing.client.Close()
	}
	m.conns[serverID] = mc
	m.mu.Unlock()

	go m.keepalive(keepCtx, serverID, client)

	log.Printf("[ssh] connected to server %s (%s)", serverID, addr)
	return client, nil
}

// GetConnection returns the stored connection for serverID, if any.
func (m *SSHManager) GetConnection(serverID string) (*ssh.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.conns[serverID]
	if !ok {
		return nil, false
	}
	return mc.client, true
}

// IsConnected checks that a stored connection exists and answers a keepalive.
func (m *SSHManager) IsConnected(serverID string) bool {
	client, ok := m.GetConnection(serverID)
	if !ok {
		return false
	}
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// EnsureConnected returns a healthy connection to the server, dialing a new
// one when none exists or the stored one no longer responds.
func (m *SSHManager) EnsureConnected(ctx context.Context, serverID string, target Target) (*ssh.Client, error) {
	if m.IsConnected(serverID) {
		if client, ok := m.GetConnection(serverID); ok {
			return client, nil
		}
	}

	client, err := m.Connect(ctx, serverID, target)
	if err != nil {
		return nil, fmt.Errorf("ssh connect to server %s: %w", serverID, err)
	}
	return client, nil
}

// Close closes the connection for serverID and removes it from the map.
func (m *SSHManager) Close(serverID string) error {
	m.mu.Lock()
	mc, ok := m.conns[serverID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.conns, serverID)
	m.mu.Unlock()

	mc.cancel()
	if err := mc.client.Close(); err != nil {
		return fmt.Errorf("close ssh connection for server %s: %w", serverID, err)
	}
	log.Printf("[ssh] disconnected from server %s", serverID)
	return nil
}

// CloseAll closes all SSH connections. Used during shutdown.
func (m *SSHManager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*managedConn)
	m.mu.Unlock()

	var firstErr error
	for id, mc := range conns {
		mc.cancel()
		if err := mc.client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close ssh connection for server %s: %w", id, err)
		}
	}
	log.Printf("[ssh] all connections closed (%d total)", len(conns))
	return firstErr
}

// Connected returns the IDs of servers with a stored connection.
func (m *SSHManager) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// PruneIdle closes every connection whose server ID is not accepted by
// inUse. It returns the number of connections closed.
func (m *SSHManager) PruneIdle(inUse func(serverID string) bool) int {
	pruned := 0
	for _, id := range m.Connected() {
		if inUse(id) {
			continue
		}
		if err := m.Close(id); err != nil {
			log.Printf("[ssh] prune %s: %v", id, err)
		}
		pruned++
	}
	return pruned
}

// keepalive sends periodic keepalive requests to detect dead connections.
// If the connection is dead, it is removed from the map.
func (m *SSHManager) keepalive(ctx context.Context, serverID string, client *ssh.Client) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[ssh] keepalive failed for server %s: %v, removing connection", serverID, err)
				m.mu.Lock()
				if mc, ok := m.conns[serverID]; ok && mc.client == client {
					delete(m.conns, serverID)
				}
				m.mu.Unlock()
				client.Close()
				return
			}
		}
	}
}
