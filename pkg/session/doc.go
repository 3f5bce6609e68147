// Package session automates an interactive command-line login on a network
// device or server and runs commands against the detected shell prompt.
//
// New drives the login: it answers the username and password prompts,
// aborts early when FailedPattern matches, and then detects the prompt by
// provoking it until two consecutive captures are identical. Command sends a
// line and collects its output up to the next prompt, pressing the paging key
// whenever a "--More--" marker shows up. A prompt is only accepted as the end
// of the output once the device has stayed silent for the quiescence Delay,
// so prompt-like text inside the output does not cut it short.
//
// Outputs are cached per generation: running the same command twice returns
// the first output until ClearCache starts a new generation. With a
// replay.Store a session records its outputs to a file, or answers commands
// from one without a live channel.
//
//	cfg := models.DefaultSessionConfig()
//	cfg.Name = "core-sw1"
//	cfg.Username = "admin"
//	cfg.Password = models.Secret(os.Getenv("SW_PASSWORD"))
//
//	s, err := session.New(*cfg, expect.New(stream))
//	if err != nil {
//		log.Fatalf("login failed: %v", err)
//	}
//	defer s.Close()
//
//	out, err := s.Command("show version")
//	if errors.Is(err, session.ErrCommandTimeout) {
//		// the session is still usable
//	}
//
// A Session is single-goroutine: run one goroutine per device.
package session
