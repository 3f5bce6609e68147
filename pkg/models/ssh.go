package models

// SSHConfig holds configuration for SSH connections
type SSHConfig struct {
	// Host address (IP or hostname)
	Host string

	// Port number (default: 22)
	Port int

	// Username for protocol-level authentication
	Username string

	// Password-based authentication
	Password Secret

	// Key-based authentication (path to private key file)
	PrivateKeyPath string

	// Private key content (alternative to PrivateKeyPath)
	PrivateKey []byte

	// Passphrase for encrypted private key (if applicable)
	KeyPassphrase Secret

	// KnownHostsPath is an OpenSSH known_hosts file used to verify the
	// server key. Empty disables host key checking.
	KnownHostsPath string

	// Timeout in seconds for connection establishment
	Timeout int

	// PTY terminal configuration
	PTYConfig *PTYConfig
}

// PTYConfig holds configuration for pseudo-terminal
type PTYConfig struct {
	// Terminal type (e.g., "xterm", "xterm-256color")
	Term string

	// Number of columns (width)
	Columns int

	// Number of rows (height)
	Rows int

	// Echo controls whether the remote side echoes input back.
	// Command echo is stripped from outputs either way.
	Echo bool
}

// DefaultPTYConfig returns a default PTY configuration. Devices that page by
// terminal height stop at --More-- once per window, so the window is tall;
// devices that ignore the height still page and are handled by the pager.
func DefaultPTYConfig() *PTYConfig {
	return &PTYConfig{
		Term:    "dumb",
		Columns: 200,
		Rows:    500,
	}
}
