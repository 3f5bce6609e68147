package models

import "fmt"

// Transport names accepted in a host inventory.
const (
	TransportSSH   = "ssh"
	TransportSpawn = "spawn"
)

// HostConfig is one entry of the collector's host inventory. The embedded
// SSHConfig keeps the flat {"Host": ..., "Port": ...} JSON layout.
type HostConfig struct {
	SSHConfig

	// Name identifies the device in logs, published messages and the
	// record/replay namespace. Defaults to Host.
	Name string

	// Transport is "ssh" (default) or "spawn"
	Transport string

	// SpawnCommand is the argv used by the spawn transport
	SpawnCommand []string

	// Commands run on this host after the collector-wide ones
	Commands []string
}

// DisplayName returns Name, falling back to Host.
func (h *HostConfig) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Host
}

// Validate checks that the transport is known and has what it needs.
func (h *HostConfig) Validate() error {
	switch h.Transport {
	case "", TransportSSH:
		if h.Host == "" {
			return fmt.Errorf("host %q: ssh transport needs Host", h.DisplayName())
		}
	case TransportSpawn:
		if len(h.SpawnCommand) == 0 {
			return fmt.Errorf("host %q: spawn transport needs SpawnCommand", h.DisplayName())
		}
	default:
		return fmt.Errorf("host %q: unknown transport %q", h.DisplayName(), h.Transport)
	}
	return nil
}

// SpawnConfig builds the spawn transport configuration for this host.
func (h *HostConfig) SpawnConfig() *SpawnConfig {
	return &SpawnConfig{
		Command:   h.SpawnCommand,
		PTYConfig: h.PTYConfig,
	}
}
