package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"cinebox/internal/config"
)

// sshSession is the subset of *ssh.Session the transport drives.
type sshSession interface {
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Close() error
}

// sshConn is an established, authenticated connection to the worker.
type sshConn interface {
	NewSession() (sshSession, error)
	Close() error
}

// sshDialer abstracts connection setup for testability.
type sshDialer interface {
	Dial(ctx context.Context) (sshConn, error)
}

// netDialer authenticates with a key file when configured, falling back to
// a password.
type netDialer struct {
	addr     string
	user     string
	password string
	keyPath  string
}

func (d *netDialer) Dial(ctx context.Context) (sshConn, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            d.user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}
	client, err := ssh.Dial("tcp", d.addr, clientCfg)
	if err != nil {
		return nil, err
	}
	return clientConn{client}, nil
}

func (d *netDialer) authMethods() ([]ssh.AuthMethod, error) {
	if d.keyPath != "" {
		key, err := os.ReadFile(d.keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if d.password != "" {
		return []ssh.AuthMethod{ssh.Password(d.password)}, nil
	}
	return nil, errors.New("no ssh credentials configured")
}

// clientConn adapts *ssh.Client to sshConn. *ssh.Session already satisfies
// sshSession.
type clientConn struct {
	client *ssh.Client
}

func (c clientConn) NewSession() (sshSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c clientConn) Close() error {
	return c.client.Close()
}

// SSHTransport opens an authenticated session on the encoding worker and
// invokes the ingest command directly. Both output streams carry progress
// text; ffmpeg writes its time reports to stderr by convention.
type SSHTransport struct {
	dialer   sshDialer
	command  string
	destRoot string
	timeout  time.Duration
}

// NewSSHTransport builds the command-execution transport from config.
func NewSSHTransport(cfg *config.Config) *SSHTransport {
	return &SSHTransport{
		dialer: &netDialer{
			addr:     cfg.SSHAddr,
			user:     cfg.SSHUser,
			password: cfg.SSHPassword,
			keyPath:  cfg.SSHKeyPath,
		},
		command:  cfg.IngestCommand,
		destRoot: cfg.EncodeRoot,
		timeout:  cfg.EncodeTimeout,
	}
}

// Run executes the ingest command remotely and streams its output through
// onLine until the process exits.
func (t *SSHTransport) Run(ctx context.Context, req Request, onLine LineFunc) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, err := t.dialer.Dial(ctx)
	if err != nil {
		return connectError(err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return connectError(err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return connectError(err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return connectError(err)
	}

	cmd := fmt.Sprintf("%s %s %s %s",
		t.command, shellQuote(req.SourcePath), shellQuote(req.MovieID), shellQuote(t.destRoot))
	if err := session.Start(cmd); err != nil {
		return connectError(err)
	}

	// The ssh package does not take a context; break the connection when
	// the deadline passes so Wait returns.
	stopWatchdog := make(chan struct{})
	defer close(stopWatchdog)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatchdog:
		}
	}()

	// Merge both streams into one channel with a single consumer, so
	// onLine sees lines in arrival order and is never called concurrently.
	lines := make(chan string, 64)
	var scanErrOnce sync.Once
	var scanErr error
	var wg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				scanErrOnce.Do(func() { scanErr = err })
			}
		}(r)
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		onLine(line)
	}

	waitErr := session.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return timeoutError(fmt.Errorf("gave up after %s", t.timeout))
		}
		return &Error{Kind: KindStream, Msg: "cancelled", Err: ctxErr}
	}
	if waitErr != nil {
		var exitErr interface{ ExitStatus() int }
		if errors.As(waitErr, &exitErr) {
			return &Error{Kind: KindExit, Code: exitErr.ExitStatus(), Msg: waitErr.Error(), Err: waitErr}
		}
		return &Error{Kind: KindStream, Msg: waitErr.Error(), Err: waitErr}
	}
	if scanErr != nil {
		// The process exited cleanly but a stream broke mid-read, so part
		// of the output never arrived.
		return &Error{Kind: KindStream, Msg: "output stream broke: " + scanErr.Error(), Err: scanErr}
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
