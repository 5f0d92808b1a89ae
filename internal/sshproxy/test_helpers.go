package sshproxy

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

// TestServerOptions configures an in-process SSH server for tests.
type TestServerOptions struct {
	// AuthorizedKey is the only client key accepted. Nil accepts any key.
	AuthorizedKey ssh.PublicKey
	// OnShell runs when a shell is started on a session channel. The channel
	// is closed when it returns. Nil echoes stdin back prefixed with "echo:".
	OnShell func(ch ssh.Channel)
	// IgnoreGlobalRequests leaves global requests such as keepalives
	// unanswered, like a peer that stopped responding.
	IgnoreGlobalRequests bool
}

// TestServer is an in-process SSH server supporting PTY, shell and
// window-change requests. It records the requests it serves.
type TestServer struct {
	Addr string

	listener net.Listener
	config   *ssh.ServerConfig
	onShell  func(ch ssh.Channel)
	done     chan struct{}

	ignoreGlobal bool

	mu     sync.Mutex
	events []string
	shells int
	conns  []*ssh.ServerConn
}

// StartTestServer starts listening on a random loopback port.
func StartTestServer(opts TestServerOptions) (*TestServer, error) {
	_, hostKeyPEM, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	hostSigner, err := ParsePrivateKey(hostKeyPEM)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if opts.AuthorizedKey == nil || ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(opts.AuthorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &TestServer{
		Addr:     listener.Addr().String(),
		listener: listener,
		config:   cfg,
		onShell:  opts.OnShell,
		done:     make(chan struct{}),

		ignoreGlobal: opts.IgnoreGlobalRequests,
	}
	if s.onShell == nil {
		s.onShell = echoShell
	}

	go s.serve()
	return s, nil
}

// Target returns the SSH endpoint of the server.
func (s *TestServer) Target() Target {
	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	return Target{Host: host, Port: port, User: "root"}
}

// Events returns the recorded requests, e.g. "pty-req 80x24",
// "window-change 120x40" or "shell".
func (s *TestServer) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// ShellCount returns how many shells have been started.
func (s *TestServer) ShellCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shells
}

// DropConnections closes every accepted connection without stopping the
// listener.
func (s *TestServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Close stops the listener and closes all connections.
func (s *TestServer) Close() {
	s.listener.Close()
	<-s.done
	s.DropConnections()
}

func (s *TestServer) record(event string) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *TestServer) serve() {
	defer close(s.done)
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(netConn)
	}
}

func (s *TestServer) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		netConn.Close()
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, sshConn)
	s.mu.Unlock()
	defer sshConn.Close()

	if s.ignoreGlobal {
		go func() {
			for range reqs {
			}
		}()
	} else {
		go ssh.DiscardRequests(reqs)
	}

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

type ptyRequest struct {
	Term   string
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
	Modes  string
}

type windowChange struct {
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
}

func (s *TestServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		ok := true
		startShell := false
		switch req.Type {
		case "pty-req":
			var p ptyRequest
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				s.record(fmt.Sprintf("pty-req %dx%d", p.Cols, p.Rows))
			}
		case "window-change":
			var w windowChange
			if err := ssh.Unmarshal(req.Payload, &w); err == nil {
				s.record(fmt.Sprintf("window-change %dx%d", w.Cols, w.Rows))
			}
		case "shell", "exec":
			s.mu.Lock()
			s.shells++
			s.mu.Unlock()
			s.record(req.Type)
			startShell = true
		default:
			ok = false
		}
		if req.WantReply {
			req.Reply(ok, nil)
		}
		if startShell {
			go func() {
				s.onShell(ch)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				ch.Close()
			}()
		}
	}
}

func echoShell(ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			ch.Write(append([]byte("echo:"), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}
