package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/pgsm/console-bridge/internal/database"
	"github.com/pgsm/console-bridge/internal/sshproxy"
	"golang.org/x/crypto/ssh"
)

// DefaultSize is the PTY size used when no viewer has reported one yet.
var DefaultSize = Size{Cols: 220, Rows: 50}

// SSHShell is an interactive login shell on a PTY over an SSH channel.
type SSHShell struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
}

// StartShell opens a session on client, requests a PTY of the given size,
// starts the login shell and, when attachCommand is non-empty, types it
// followed by a newline.
func StartShell(client *ssh.Client, size Size, attachCommand string) (*SSHShell, error) {
	if !size.Valid() {
		size = DefaultSize
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(size.Rows), int(size.Cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	if attachCommand != "" {
		if _, err := io.WriteString(stdin, attachCommand+"\n"); err != nil {
			session.Close()
			return nil, fmt.Errorf("send attach command: %w", err)
		}
	}

	return &SSHShell{stdin: stdin, stdout: stdout, session: session}, nil
}

func (s *SSHShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *SSHShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize changes the terminal dimensions of the PTY.
func (s *SSHShell) Resize(cols, rows uint16) error {
	return s.session.WindowChange(int(rows), int(cols))
}

// Close terminates the SSH session. Closing an already closed session
// returns nil.
func (s *SSHShell) Close() error {
	s.stdin.Close()
	if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// SSHOpener opens console shells on game servers over SSH. The server must
// be recorded as running; its address comes from the database.
type SSHOpener struct {
	SSH           *sshproxy.SSHManager
	AttachCommand string
	// Lookup resolves a server ID. Nil uses database.GetServer.
	Lookup func(serverID string) (*database.GameServer, error)
}

func (o *SSHOpener) Open(ctx context.Context, serverID string, size Size) (Handle, error) {
	if !size.Valid() {
		size = DefaultSize
	}
	lookup := o.Lookup
	if lookup == nil {
		lookup = database.GetServer
	}

	srv, err := lookup(serverID)
	if err != nil {
		return nil, fmt.Errorf("look up server %s: %w", serverID, err)
	}
	if srv.Status != database.StatusRunning {
		return nil, fmt.Errorf("server %s is %s: %w", serverID, srv.Status, ErrServerNotRunning)
	}

	client, err := o.SSH.EnsureConnected(ctx, serverID, sshproxy.Target{
		Host: srv.IPAddress,
		Port: srv.SSHPort,
		User: srv.SSHUser,
	})
	if err != nil {
		return nil, err
	}

	sh, err := StartShell(client, size, o.AttachCommand)
	if err != nil {
		return nil, fmt.Errorf("start console shell on server %s: %w", serverID, err)
	}
	log.Printf("[shell] opened console shell on server %s (%dx%d)", serverID, size.Cols, size.Rows)
	return sh, nil
}
