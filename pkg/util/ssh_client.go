// Package util provides the transports a device session runs over (an SSH
// shell with a PTY, or a local process on a PTY) and the RabbitMQ client
// used to ship collected outputs.
//
// Example usage in goroutines:
//
//	config := &models.SSHConfig{
//		Host:     "10.0.0.1",
//		Username: "admin",
//		Password: models.Secret(os.Getenv("SW_PASSWORD")),
//	}
//
//	client := util.NewSSHClient(config)
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.CreatePTY(); err != nil {
//		log.Fatal(err)
//	}
//	stream, err := client.StartShell()
//	if err != nil {
//		log.Fatal(err)
//	}
//	e := expect.New(stream) // closing e closes the client
package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pershinghar/go-device-session/pkg/models"
)

// SSHClient represents an SSH client connection with PTY support
type SSHClient struct {
	config  *models.SSHConfig
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	mu       sync.Mutex
	isClosed bool
	shell    bool
}

// NewSSHClient creates a new SSH client instance
func NewSSHClient(config *models.SSHConfig) *SSHClient {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 22
	}

	// Set default timeout if not specified
	if config.Timeout == 0 {
		config.Timeout = 30
	}

	// Set default PTY config if not specified
	if config.PTYConfig == nil {
		config.PTYConfig = models.DefaultPTYConfig()
	}

	return &SSHClient{config: config}
}

// Connect establishes an SSH connection to the remote host
func (c *SSHClient) Connect(ctx context.Context) error {
	if c.closed() {
		return fmt.Errorf("client is closed")
	}

	sshConfig, err := c.prepareSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare SSH config: %w", err)
	}

	address := net.JoinHostPort(c.config.Host, fmt.Sprint(c.config.Port))
	dialer := net.Dialer{
		Timeout: time.Duration(c.config.Timeout) * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	// The handshake has no context of its own.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	log.Printf("[%s] SSH - connected to %s as %s", c.config.Host, address, c.config.Username)
	return nil
}

// prepareSSHConfig prepares the SSH client configuration
func (c *SSHClient) prepareSSHConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.config.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.config.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	config := &ssh.ClientConfig{
		User:            c.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         time.Duration(c.config.Timeout) * time.Second,
	}

	// Try key-based authentication first
	if c.config.PrivateKeyPath != "" || len(c.config.PrivateKey) > 0 {
		var signer ssh.Signer

		if c.config.PrivateKeyPath != "" {
			key, err := loadPrivateKeyFromFile(c.config.PrivateKeyPath, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from file: %w", err)
			}
			signer = key
		} else {
			key, err := loadPrivateKeyFromBytes(c.config.PrivateKey, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from bytes: %w", err)
			}
			signer = key
		}
		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}

	// Devices often only offer keyboard-interactive; answer every question
	// with the password.
	if c.config.Password.IsSet() {
		password := c.config.Password.Reveal()
		config.Auth = append(config.Auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided (need password or private key)")
	}

	return config, nil
}

// CreatePTY creates a session with a pseudo-terminal
func (c *SSHClient) CreatePTY() error {
	if c.client == nil {
		return fmt.Errorf("not connected: call Connect() first")
	}

	if c.session != nil {
		return fmt.Errorf("PTY session already exists")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	var echo uint32
	if c.config.PTYConfig.Echo {
		echo = 1
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          echo,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}

	err = session.RequestPty(
		c.config.PTYConfig.Term,
		c.config.PTYConfig.Rows,
		c.config.PTYConfig.Columns,
		modes,
	)
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to request PTY: %w", err)
	}

	c.stdin, err = session.StdinPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	c.session = session
	return nil
}

// StartShell starts the interactive shell and returns it as one stream:
// stdout and stderr are merged on the read side, writes go to stdin.
// Closing the stream closes the whole client.
func (c *SSHClient) StartShell() (io.ReadWriteCloser, error) {
	if c.session == nil {
		return nil, fmt.Errorf("PTY not created: call CreatePTY() first")
	}
	if c.shell {
		return nil, fmt.Errorf("shell already started")
	}

	pr, pw := io.Pipe()
	c.session.Stdout = pw
	c.session.Stderr = pw

	log.Printf("[%s] SSH - starting interactive shell", c.config.Host)
	if err := c.session.Shell(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}
	c.shell = true

	go func() {
		err := c.session.Wait()
		var exitErr *ssh.ExitMissingError
		if err != nil && !errors.As(err, &exitErr) {
			log.Printf("[%s] SSH - shell ended: %v", c.config.Host, err)
		}
		// Readers see io.EOF once the remaining output is drained.
		pw.Close()
	}()

	return &shellStream{client: c, r: pr}, nil
}

// Close closes the SSH connection and cleans up resources
func (c *SSHClient) Close() error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	c.mu.Unlock()

	var errs []error

	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}

	if c.session != nil {
		if err := c.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	return nil
}

// IsConnected returns true if the client is connected
func (c *SSHClient) IsConnected() bool {
	return c.client != nil && !c.closed()
}

func (c *SSHClient) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

type shellStream struct {
	client *SSHClient
	r      *io.PipeReader
}

func (s *shellStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *shellStream) Write(p []byte) (int, error) {
	return s.client.stdin.Write(p)
}

func (s *shellStream) Close() error {
	err := s.client.Close()
	s.r.Close()
	return err
}

// Helper functions for loading private keys

func loadPrivateKeyFromFile(path string, passphrase models.Secret) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPrivateKeyFromBytes(key, passphrase)
}

func loadPrivateKeyFromBytes(key []byte, passphrase models.Secret) (ssh.Signer, error) {
	if passphrase.IsSet() {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase.Reveal()))
	}
	return ssh.ParsePrivateKey(key)
}
