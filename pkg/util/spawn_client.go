package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/pershinghar/go-device-session/pkg/models"
)

// killGrace is how long Close waits after SIGHUP before killing the child.
const killGrace = 2 * time.Second

// SpawnClient runs a local command (telnet, ssh, a serial console client)
// on a pseudo-terminal.
type SpawnClient struct {
	config *models.SpawnConfig
	name   string

	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	isClosed bool
	exited   chan struct{}
	waitErr  error
}

// NewSpawnClient creates a client for config; name tags log lines.
func NewSpawnClient(config *models.SpawnConfig, name string) *SpawnClient {
	if config.PTYConfig == nil {
		config.PTYConfig = models.DefaultPTYConfig()
	}
	return &SpawnClient{
		config: config,
		name:   name,
		exited: make(chan struct{}),
	}
}

// Start launches the command and returns its terminal. Reads return io.EOF
// once the command has exited; closing the stream ends the command.
func (c *SpawnClient) Start(ctx context.Context) (io.ReadWriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil, fmt.Errorf("client is closed")
	}
	if c.cmd != nil {
		return nil, fmt.Errorf("command already started")
	}
	if len(c.config.Command) == 0 {
		return nil, fmt.Errorf("no command to spawn")
	}

	cmd := exec.CommandContext(ctx, c.config.Command[0], c.config.Command[1:]...)
	cmd.Env = append(os.Environ(), "TERM="+c.config.PTYConfig.Term)
	cmd.Env = append(cmd.Env, c.config.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(c.config.PTYConfig.Rows),
		Cols: uint16(c.config.PTYConfig.Columns),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", c.config.Command[0], err)
	}
	c.cmd = cmd
	c.ptmx = ptmx
	log.Printf("[%s] Spawn - started %q (pid %d)", c.name, c.config.Command, cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(c.exited)
		if err != nil {
			log.Printf("[%s] Spawn - command ended: %v", c.name, err)
		}
	}()

	return &spawnStream{client: c}, nil
}

// Resize changes the terminal size of the running command.
func (c *SpawnClient) Resize(rows, cols int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ptmx == nil {
		return fmt.Errorf("not started")
	}
	return pty.Setsize(c.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close hangs up the terminal and waits for the command to exit, killing it
// when it does not go away on its own.
func (c *SpawnClient) Close() error {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return nil
	}
	c.isClosed = true
	cmd, ptmx := c.cmd, c.ptmx
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}

	var errs []error
	_ = cmd.Process.Signal(syscall.SIGHUP)
	select {
	case <-c.exited:
	case <-time.After(killGrace):
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
		<-c.exited
	}
	if err := ptmx.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// Wait waits for the command to exit and returns its exit error, or the
// context's error when ctx ends first.
func (c *SpawnClient) Wait(ctx context.Context) error {
	c.mu.Lock()
	started := c.cmd != nil
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("not started")
	}

	select {
	case <-c.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

type spawnStream struct {
	client *SpawnClient
}

func (s *spawnStream) Read(p []byte) (int, error) {
	n, err := s.client.ptmx.Read(p)
	// Linux reports a hung-up terminal as EIO.
	if errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (s *spawnStream) Write(p []byte) (int, error) {
	return s.client.ptmx.Write(p)
}

func (s *spawnStream) Close() error {
	return s.client.Close()
}
