package models

// SpawnConfig describes a local child process driven through a PTY, e.g.
// "telnet 10.0.0.1" or "ssh -l admin router1". Authentication then happens
// in-band and is handled by the session login.
type SpawnConfig struct {
	// Command is the argv of the process to start
	Command []string

	// Env holds extra KEY=VALUE entries appended to the parent environment
	Env []string

	// PTY terminal configuration
	PTYConfig *PTYConfig
}
