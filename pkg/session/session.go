package session

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"time"

	"golang.org/x/term"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/replay"
)

// DefaultNamespace is the replay namespace used when WithStore is given an
// empty one.
const DefaultNamespace = "session"

// State is the lifecycle state of a Session.
type State int

const (
	StateConstructing State = iota
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PasswordReader asks a human for the password. The prompt is the device's
// password prompt.
type PasswordReader func(prompt string) (models.Secret, error)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; log.Default() is used otherwise.
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithStore enables record and/or replay through store, under namespace.
func WithStore(store *replay.Store, namespace string) Option {
	return func(s *Session) {
		if namespace == "" {
			namespace = DefaultNamespace
		}
		s.store = store
		s.namespace = namespace
	}
}

// WithPasswordReader replaces the terminal password prompt.
func WithPasswordReader(r PasswordReader) Option {
	return func(s *Session) {
		s.readPassword = r
	}
}

// Session is one authenticated interactive connection. A Session is not
// safe for concurrent use; run one goroutine per Session.
type Session struct {
	cfg      models.SessionConfig
	name     string
	ch       Channel
	patterns *patterns
	prompt   *regexp.Regexp

	cache     *commandCache
	store     *replay.Store
	namespace string

	logger       *log.Logger
	readPassword PasswordReader
	sleep        func(time.Duration)

	state State
}

// New takes ownership of ch, logs in and detects the prompt. On failure the
// channel is closed and the error, usually a *LoginError, is returned.
//
// ch may be nil when store is replaying: the session then answers commands
// from the replay file only.
func New(cfg models.SessionConfig, ch Channel, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:          cfg,
		name:         cfg.Name,
		cache:        newCommandCache(),
		namespace:    DefaultNamespace,
		logger:       log.Default(),
		readPassword: terminalPassword,
		sleep:        time.Sleep,
		state:        StateConstructing,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name == "" {
		s.name = "session"
	}

	p, err := compilePatterns(&s.cfg)
	if err != nil {
		if ch != nil {
			_ = ch.Close()
		}
		return nil, err
	}
	s.patterns = p
	s.prompt = p.prompt

	if ch == nil {
		if s.replaying() {
			s.logger.Printf("[%s] Session - replay only, no live channel", s.name)
			s.state = StateReady
			return s, nil
		}
		return nil, ErrNoChannel
	}

	s.ch = ch
	s.ch.SetRestartTimeout(true)
	s.state = StateAuthenticating
	if err := s.login(); err != nil {
		s.logger.Printf("[%s] Session - login failed: %v", s.name, err)
		_ = s.ch.Close()
		s.state = StateClosed
		return nil, err
	}
	s.state = StateReady
	s.logger.Printf("[%s] Session - ready", s.name)
	return s, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Name returns the log tag of the session.
func (s *Session) Name() string {
	return s.name
}

// Prompt returns the prompt pattern in use, nil when detection is disabled.
func (s *Session) Prompt() *regexp.Regexp {
	return s.prompt
}

// Send writes raw text to the channel.
func (s *Session) Send(text string) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.ch == nil {
		return ErrNoChannel
	}
	return s.ch.Send(text)
}

// Expect waits for one of patterns on the channel, in list order, using the
// session timeout when timeout is zero.
func (s *Session) Expect(timeout time.Duration, patterns ...*regexp.Regexp) (expect.Result, error) {
	if s.state == StateClosed {
		return expect.Result{Index: -1}, ErrSessionClosed
	}
	if s.ch == nil {
		return expect.Result{Index: -1}, ErrNoChannel
	}
	if timeout == 0 {
		timeout = s.cfg.Timeout
	}
	return s.ch.Expect(timeout, patterns)
}

// Close releases the channel. It is safe to call more than once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.ch == nil {
		return nil
	}
	if err := s.ch.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	s.logger.Printf("[%s] Session - closed", s.name)
	return nil
}

func (s *Session) replaying() bool {
	return s.store != nil && s.store.Replaying()
}

func (s *Session) recording() bool {
	return s.store != nil && s.store.Recording()
}

func terminalPassword(prompt string) (models.Secret, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return models.Secret(pw), nil
}
