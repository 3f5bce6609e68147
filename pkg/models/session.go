package models

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// PromptDisabled as PromptPattern skips prompt detection. Such a session is
// only usable for raw send/expect interaction.
const PromptDisabled = "none"

// EnvPrefix is the environment prefix read by LoadSessionDefaults,
// e.g. DEVSESSION_TIMEOUT=45s.
const EnvPrefix = "DEVSESSION"

// SessionConfig holds the options of one interactive session.
type SessionConfig struct {
	// Name tags log lines; usually the device name
	Name string `envconfig:"-"`

	// Credentials sent in-band during login. An empty Username skips the
	// username stage; an empty Password skips the password stage unless
	// InteractivePassword is set.
	Username string
	Password Secret

	// Regular expressions driving the login state machine
	UsernamePattern string `split_words:"true"`
	PasswordPattern string `split_words:"true"`

	// FailedPattern, when set, aborts the login as soon as it matches
	FailedPattern string `split_words:"true"`

	// PromptPattern is the initial prompt matcher. Empty means the generic
	// heuristic; PromptDisabled skips detection altogether.
	PromptPattern string `split_words:"true"`

	// Pagination handling; an empty PagingPattern disables it
	PagingPattern string `split_words:"true"`
	PagingKey     string `split_words:"true"`

	// Delay is the quiescence wait used after a provisional prompt match
	Delay time.Duration

	// Timeout is the default stall timeout
	Timeout time.Duration

	// EOLNormalize turns CRLF and bare CR into LF in command output
	EOLNormalize bool `split_words:"true"`

	// InteractivePassword asks on the terminal when no password is set
	InteractivePassword bool `split_words:"true"`
}

// DefaultSessionConfig returns the default session options.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		UsernamePattern: `(?i)(?:user(?:name)?|login)\s*:\s*\z`,
		PasswordPattern: `(?i)pass(?:word|code)?\s*:\s*\z`,
		PagingPattern:   `-+ ?\(?[Mm]ore(?: \d+%)?\)? ?-+`,
		PagingKey:       " ",
		Delay:           100 * time.Millisecond,
		Timeout:         30 * time.Second,
	}
}

// LoadSessionDefaults returns DefaultSessionConfig overridden by any
// DEVSESSION_* environment variables.
func LoadSessionDefaults() (*SessionConfig, error) {
	cfg := DefaultSessionConfig()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load session defaults: %w", err)
	}
	return cfg, nil
}

// PromptDetectionDisabled reports whether PromptPattern is the "none" sentinel.
func (c *SessionConfig) PromptDetectionDisabled() bool {
	return c.PromptPattern == PromptDisabled
}
