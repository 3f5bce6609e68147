package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
	"github.com/pershinghar/go-device-session/pkg/util"
)

type options struct {
	hostsPath    string
	commands     []string
	replayPath   string
	recordPath   string
	rabbitMQPath string

	prompt        string
	failedPattern string
	timeout       time.Duration
	delay         time.Duration
	eolNormalize  bool
	askPassword   bool
	debug         bool
	runTimeout    time.Duration
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Log in to network devices and collect command outputs",
		Long: `Collector opens an interactive session to every host of the inventory,
runs the commands and prints their outputs. Outputs can be recorded to a
replay file, played back from one without touching the devices, and
published to RabbitMQ.

Session defaults come from DEVSESSION_* environment variables and are
overridden by flags. A command "` + clearCacheCommand + `" starts a new cache generation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &opts)
		},
	}
	cmd.SilenceUsage = true

	f := cmd.Flags()
	f.StringVar(&opts.hostsPath, "hosts", filepath.Join("config", "hosts.json"), "JSON host inventory")
	f.StringArrayVarP(&opts.commands, "command", "c", nil, "command to run on every host (repeatable)")
	f.StringVar(&opts.replayPath, "replay", "", "answer commands from this replay file instead of the devices")
	f.StringVar(&opts.recordPath, "record", "", "record outputs to this file")
	f.StringVar(&opts.rabbitMQPath, "rabbitmq", "", "RabbitMQ JSON config; outputs are published when set")
	f.StringVar(&opts.prompt, "prompt", "", `initial prompt regex, "none" disables prompt detection`)
	f.StringVar(&opts.failedPattern, "failed", "", "regex that aborts the login when it matches")
	f.DurationVar(&opts.timeout, "timeout", 0, "stall timeout")
	f.DurationVar(&opts.delay, "delay", 0, "quiescence delay after a prompt match")
	f.BoolVar(&opts.eolNormalize, "eol", false, "convert CRLF and CR to LF in outputs")
	f.BoolVar(&opts.askPassword, "ask-password", false, "ask for the in-band password on the terminal when none is set")
	f.BoolVar(&opts.debug, "debug", false, "log all device traffic")
	f.DurationVar(&opts.runTimeout, "run-timeout", 10*time.Minute, "overall time limit of the collection")

	return cmd
}

// sessionDefaults layers the flags that were set over the environment.
func sessionDefaults(cmd *cobra.Command, opts *options) (models.SessionConfig, error) {
	cfg, err := models.LoadSessionDefaults()
	if err != nil {
		return models.SessionConfig{}, err
	}

	f := cmd.Flags()
	if f.Changed("prompt") {
		cfg.PromptPattern = opts.prompt
	}
	if f.Changed("failed") {
		cfg.FailedPattern = opts.failedPattern
	}
	if f.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if f.Changed("delay") {
		cfg.Delay = opts.delay
	}
	if f.Changed("eol") {
		cfg.EOLNormalize = opts.eolNormalize
	}
	if f.Changed("ask-password") {
		cfg.InteractivePassword = opts.askPassword
	}
	return *cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	log.Println("[main] Starting Collector Service...")

	sessionConfig, err := sessionDefaults(cmd, opts)
	if err != nil {
		return err
	}
	if sessionConfig.PromptDetectionDisabled() && opts.replayPath == "" {
		return fmt.Errorf("prompt detection is disabled: commands can only be answered with --replay")
	}
	hosts, err := loadHosts(opts.hostsPath)
	if err != nil {
		return fmt.Errorf("error loading hosts: %w", err)
	}

	c := &collection{
		id:       uuid.NewString(),
		session:  sessionConfig,
		commands: opts.commands,
		debug:    opts.debug,
		store:    replay.NewStore(replay.Options{ReplayPath: opts.replayPath, RecordPath: opts.recordPath}),
		out:      cmd.OutOrStdout(),
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.runTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.rabbitMQPath != "" {
		rabbitMQConfig, err := loadRabbitMQConfig(opts.rabbitMQPath)
		if err != nil {
			return fmt.Errorf("error loading RabbitMQ config: %w", err)
		}
		client := util.NewRabbitMQClient(rabbitMQConfig, "collector-"+c.id)
		defer client.Close()
		if err := client.Connect(ctx); err != nil {
			return err
		}
		c.publisher = client
	}

	log.Printf("[main] Collection %s: %d hosts", c.id, len(hosts))

	var wg sync.WaitGroup
	errs := make(chan error, len(hosts))
	for _, host := range hosts {
		wg.Add(1)
		go c.hostWorker(ctx, &wg, host, errs)
	}
	log.Println("[main] Waiting for all host workers to complete...")
	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}

	// Whatever was collected is kept, even when some hosts failed.
	if err := c.store.Save(); err != nil {
		return err
	}
	if c.store.Recording() {
		log.Printf("[main] Recorded %d outputs to %s", c.store.Len(), opts.recordPath)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d hosts failed: %w", len(failed), len(hosts), errors.Join(failed...))
	}
	log.Println("[main] All host workers completed")
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("[main] %v", err)
	}
}
