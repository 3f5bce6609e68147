package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/pershinghar/go-device-session/pkg/models"
)

func loadHosts(configPath string) ([]models.HostConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	log.Printf("[main] Found hosts file: %s", configPath)

	var hosts []models.HostConfig
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("error parsing JSON %s: %w", configPath, err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts in %s", configPath)
	}

	seen := make(map[string]bool, len(hosts))
	for i := range hosts {
		if err := hosts[i].Validate(); err != nil {
			return nil, err
		}
		// The name is the replay namespace, so it has to be unique.
		name := hosts[i].DisplayName()
		if seen[name] {
			return nil, fmt.Errorf("duplicate host name %q", name)
		}
		seen[name] = true
	}
	return hosts, nil
}

func loadRabbitMQConfig(configPath string) (*models.RabbitMQConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	log.Printf("[main] Found RabbitMQ config file: %s", configPath)

	rabbitMQConfig := models.DefaultRabbitMQConfig()
	if err := json.Unmarshal(data, rabbitMQConfig); err != nil {
		return nil, fmt.Errorf("error parsing JSON %s: %w", configPath, err)
	}
	return rabbitMQConfig, nil
}
