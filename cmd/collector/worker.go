package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
	"github.com/pershinghar/go-device-session/pkg/session"
	"github.com/pershinghar/go-device-session/pkg/util"
)

// clearCacheCommand in a command list starts a new cache generation instead
// of being sent to the device.
const clearCacheCommand = "!clear"

// exitWait bounds how long a hung-up spawn client gets to report its exit
// status.
const exitWait = 2 * time.Second

// publisher is the part of util.RabbitMQClient the workers use.
type publisher interface {
	Publish(ctx context.Context, data *models.RawData) error
}

// collection is what every host worker of one run shares.
type collection struct {
	id       string
	session  models.SessionConfig
	commands []string
	debug    bool

	store     *replay.Store
	publisher publisher

	outMu sync.Mutex
	out   io.Writer
}

// hostWorker logs in to one host and runs its commands. Command timeouts and
// replay misses are logged and skipped; anything else ends the host.
func (c *collection) hostWorker(ctx context.Context, wg *sync.WaitGroup, host models.HostConfig, errs chan<- error) {
	defer wg.Done()

	name := host.DisplayName()
	if err := c.collect(ctx, host); err != nil {
		log.Printf("[%s] hostWorker - FAIL - %v", name, err)
		errs <- fmt.Errorf("%s: %w", name, err)
		return
	}
	log.Printf("[%s] hostWorker - done", name)
}

func (c *collection) collect(ctx context.Context, host models.HostConfig) error {
	name := host.DisplayName()
	cfg := c.sessionConfig(host)

	// A replay run never touches the devices.
	var ch session.Channel
	var spawned *util.SpawnClient
	if !c.store.Replaying() {
		e, sc, err := c.openChannel(ctx, &host)
		if err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { _ = e.Close() })
		defer stop()
		ch, spawned = e, sc
	}

	s, err := session.New(cfg, ch, session.WithStore(c.store, name))
	if err != nil {
		return withExitStatus(ctx, spawned, err)
	}
	defer s.Close()

	commands := append(append([]string{}, c.commands...), host.Commands...)
	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if command == clearCacheCommand {
			s.ClearCache()
			continue
		}

		log.Printf("[%s] hostWorker - Running command: %s", name, command)
		out, err := s.Command(command)
		var payload *string
		switch {
		case err == nil:
			payload = &out
		case errors.Is(err, session.ErrCommandTimeout):
			log.Printf("[%s] hostWorker - %q timed out", name, command)
		case errors.Is(err, session.ErrReplayMiss):
			log.Printf("[%s] hostWorker - %q has no recorded output, skipped", name, command)
			continue
		default:
			return withExitStatus(ctx, spawned, fmt.Errorf("command %q: %w", command, err))
		}

		c.print(name, command, payload)
		if err := c.publish(ctx, name, s.Generation(), command, payload); err != nil {
			return err
		}
	}
	return nil
}

// sessionConfig derives the per-host session options. SSH authenticates at
// the protocol level, so there is no in-band login; spawned clients (telnet,
// console servers) log in through the session.
func (c *collection) sessionConfig(host models.HostConfig) models.SessionConfig {
	cfg := c.session
	cfg.Name = host.DisplayName()

	switch host.Transport {
	case models.TransportSpawn:
		if host.Username != "" {
			cfg.Username = host.Username
		}
		if host.Password.IsSet() {
			cfg.Password = host.Password
		}
	default:
		cfg.Username = ""
		cfg.Password = ""
		cfg.InteractivePassword = false
	}
	return cfg
}

// openChannel connects to host. The spawn client is returned too, nil for
// SSH, so that a hang-up can be explained by the exit status.
func (c *collection) openChannel(ctx context.Context, host *models.HostConfig) (*expect.Expecter, *util.SpawnClient, error) {
	name := host.DisplayName()

	var stream io.ReadWriteCloser
	var spawned *util.SpawnClient
	switch host.Transport {
	case models.TransportSpawn:
		spawned = util.NewSpawnClient(host.SpawnConfig(), name)
		s, err := spawned.Start(ctx)
		if err != nil {
			return nil, nil, err
		}
		stream = s

	default:
		client := util.NewSSHClient(&host.SSHConfig)
		if err := client.Connect(ctx); err != nil {
			return nil, nil, err
		}
		if err := client.CreatePTY(); err != nil {
			client.Close()
			return nil, nil, err
		}
		s, err := client.StartShell()
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		stream = s
	}

	opts := []expect.Option{expect.WithRestartTimeout(true)}
	if c.debug {
		opts = append(opts, expect.WithDebugLog(log.Default(), name))
	}
	return expect.New(stream, opts...), spawned, nil
}

// withExitStatus adds the exit status of a spawned client that hung up.
func withExitStatus(ctx context.Context, spawned *util.SpawnClient, err error) error {
	if spawned == nil || !errors.Is(err, expect.ErrEOF) {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, exitWait)
	defer cancel()

	status := spawned.Wait(waitCtx)
	switch {
	case waitCtx.Err() != nil:
		return err
	case status == nil:
		return fmt.Errorf("%w (client exited)", err)
	default:
		return fmt.Errorf("%w (client %v)", err, status)
	}
}

func (c *collection) print(name, command string, output *string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if output == nil {
		fmt.Fprintf(c.out, "### %s: %s (timed out)\n", name, command)
		return
	}
	fmt.Fprintf(c.out, "### %s: %s\n%s\n", name, command, *output)
}

func (c *collection) publish(ctx context.Context, name string, generation int, command string, output *string) error {
	if c.publisher == nil {
		return nil
	}
	data := util.NewRawData(c.id, name, generation, command, output)
	if err := c.publisher.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish %q: %w", command, err)
	}
	return nil
}
