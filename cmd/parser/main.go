package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
	"github.com/pershinghar/go-device-session/pkg/util"
)

func loadRabbitMQConfig(configPath string) (*models.RabbitMQConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	log.Printf("[parser] Found RabbitMQ config file: %s", configPath)

	rabbitMQConfig := models.DefaultRabbitMQConfig()
	if err := json.Unmarshal(data, rabbitMQConfig); err != nil {
		return nil, fmt.Errorf("error parsing JSON: %w", err)
	}
	return rabbitMQConfig, nil
}

func newRootCommand() *cobra.Command {
	var (
		configPath  string
		archivePath string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "parser",
		Short: "Consume collected command outputs from RabbitMQ",
		Long: `Parser consumes the outputs published by the collector. With --archive
the outputs are written on shutdown to a file that the collector can
replay with --replay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rabbitMQConfig, err := loadRabbitMQConfig(configPath)
			if err != nil {
				return fmt.Errorf("error loading RabbitMQ config: %w", err)
			}
			a := &archiver{
				store:   replay.NewStore(replay.Options{RecordPath: archivePath}),
				verbose: verbose,
			}
			return run(cmd, rabbitMQConfig, a)
		},
	}
	cmd.SilenceUsage = true

	f := cmd.Flags()
	f.StringVar(&configPath, "rabbitmq", filepath.Join("config", "rabbitmq.json"), "RabbitMQ JSON config")
	f.StringVar(&archivePath, "archive", "", "write received outputs to this replay file on shutdown")
	f.BoolVar(&verbose, "verbose", false, "log every payload line")
	return cmd
}

func run(cmd *cobra.Command, rabbitMQConfig *models.RabbitMQConfig, a *archiver) error {
	log.Println("[parser] Starting Parser Service...")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := util.NewRabbitMQClient(rabbitMQConfig, "parser")
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	log.Println("[parser] Connected to RabbitMQ")

	queueName, err := client.CreateQueue(ctx)
	if err != nil {
		return err
	}

	done, err := client.Consume(ctx, queueName, a.processRawData)
	if err != nil {
		return err
	}
	log.Println("[parser] Parser service running. Press Ctrl+C to stop...")

	<-done
	if ctx.Err() != nil {
		log.Println("[parser] Received interrupt signal, shutting down...")
	}

	if err := a.store.Save(); err != nil {
		return err
	}
	if a.store.Recording() {
		log.Printf("[parser] Archived %d outputs from %d devices", a.store.Len(), len(a.store.Namespaces()))
	}
	log.Printf("[parser] Parser service stopped after %d messages", a.received.Load())
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("[parser] %v", err)
	}
}
