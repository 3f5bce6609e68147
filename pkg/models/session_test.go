package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadSessionDefaults(t *testing.T) {
	t.Setenv("DEVSESSION_USERNAME", "netops")
	t.Setenv("DEVSESSION_PASSWORD", "hunter2")
	t.Setenv("DEVSESSION_TIMEOUT", "45s")
	t.Setenv("DEVSESSION_PROMPT_PATTERN", "none")
	t.Setenv("DEVSESSION_EOL_NORMALIZE", "true")

	cfg, err := LoadSessionDefaults()
	require.NoError(t, err)
	require.Equal(t, "netops", cfg.Username)
	require.Equal(t, "hunter2", cfg.Password.Reveal())
	require.Equal(t, 45*time.Second, cfg.Timeout)
	require.True(t, cfg.EOLNormalize)
	require.True(t, cfg.PromptDetectionDisabled())

	// Untouched options keep their defaults.
	def := DefaultSessionConfig()
	require.Equal(t, def.UsernamePattern, cfg.UsernamePattern)
	require.Equal(t, def.Delay, cfg.Delay)
	require.Equal(t, " ", cfg.PagingKey)
}

func TestLoadSessionDefaults_BadValue(t *testing.T) {
	t.Setenv("DEVSESSION_DELAY", "soon")

	_, err := LoadSessionDefaults()
	require.ErrorContains(t, err, "failed to load session defaults")
}

func TestHostConfig_Validate(t *testing.T) {
	for name, tc := range map[string]struct {
		host    HostConfig
		wantErr string
	}{
		"ssh default":   {host: HostConfig{SSHConfig: SSHConfig{Host: "10.0.0.1"}}},
		"ssh no host":   {host: HostConfig{Name: "r1"}, wantErr: "needs Host"},
		"spawn":         {host: HostConfig{Name: "lab", Transport: TransportSpawn, SpawnCommand: []string{"telnet", "lab"}}},
		"spawn no argv": {host: HostConfig{Name: "lab", Transport: TransportSpawn}, wantErr: "needs SpawnCommand"},
		"unknown":       {host: HostConfig{Name: "r1", Transport: "serial"}, wantErr: `unknown transport "serial"`},
	} {
		t.Run(name, func(t *testing.T) {
			err := tc.host.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestHostConfig_DisplayName(t *testing.T) {
	h := HostConfig{SSHConfig: SSHConfig{Host: "10.0.0.1"}}
	require.Equal(t, "10.0.0.1", h.DisplayName())
	h.Name = "core-sw1"
	require.Equal(t, "core-sw1", h.DisplayName())
}
