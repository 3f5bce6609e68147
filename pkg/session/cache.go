package session

import (
	"fmt"
	"time"
)

// commandCache holds the outputs of the current generation. A nil entry
// records a command that timed out.
type commandCache struct {
	generation int
	entries    map[string]*string
}

func newCommandCache() *commandCache {
	return &commandCache{entries: make(map[string]*string)}
}

func (c *commandCache) lookup(command string) (*string, bool) {
	out, ok := c.entries[command]
	return out, ok
}

func (c *commandCache) store(command string, output *string) {
	c.entries[command] = output
}

func (c *commandCache) clear() {
	c.entries = make(map[string]*string)
	c.generation++
}

type commandOptions struct {
	timeout    time.Duration
	interrupts []Interrupt
}

// CommandOption tunes a single Command call.
type CommandOption func(*commandOptions)

// WithTimeout overrides the session stall timeout for one command. Zero
// keeps the session timeout, as it does for Session.Expect.
func WithTimeout(d time.Duration) CommandOption {
	return func(o *commandOptions) {
		o.timeout = d
	}
}

// WithInterrupts adds interrupt handlers, checked in the order given.
func WithInterrupts(interrupts ...Interrupt) CommandOption {
	return func(o *commandOptions) {
		o.interrupts = append(o.interrupts, interrupts...)
	}
}

// Command returns the output of text. Within one generation a command runs
// at most once: later calls get the cached output. When replaying, outputs
// come from the replay file and a missing entry yields ErrReplayMiss. A
// stalled command yields ErrCommandTimeout; the session stays usable.
func (s *Session) Command(text string, opts ...CommandOption) (string, error) {
	if s.state == StateClosed {
		return "", ErrSessionClosed
	}
	co := commandOptions{timeout: s.cfg.Timeout}
	for _, opt := range opts {
		opt(&co)
	}
	if co.timeout <= 0 {
		co.timeout = s.cfg.Timeout
	}

	out, err := s.resolve(text, co)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", ErrCommandTimeout
	}
	return *out, nil
}

func (s *Session) resolve(text string, co commandOptions) (*string, error) {
	gen := s.cache.generation
	if out, ok := s.cache.lookup(text); ok {
		s.logger.Printf("[%s] Command - %q served from cache (generation %d)", s.name, text, gen)
		s.record(gen, text, out)
		return out, nil
	}

	if s.replaying() {
		out, found, err := s.store.Lookup(s.namespace, gen, text)
		if err != nil {
			return nil, err
		}
		if !found {
			s.logger.Printf("[%s] Command - %q not in replay data (generation %d)", s.name, text, gen)
			return nil, fmt.Errorf("%w: %q generation %d", ErrReplayMiss, text, gen)
		}
		s.record(gen, text, out)
		return out, nil
	}

	if s.ch == nil {
		return nil, ErrNoChannel
	}
	if s.prompt == nil {
		return nil, ErrPromptDisabled
	}
	s.logger.Printf("[%s] Command - running %q", s.name, text)
	out, err := s.execute(text, co.timeout, co.interrupts)
	if err != nil {
		return nil, err
	}
	s.cache.store(text, out)
	s.record(gen, text, out)
	return out, nil
}

func (s *Session) record(gen int, text string, out *string) {
	if s.recording() {
		s.store.Record(s.namespace, gen, text, out)
	}
}

// ClearCache empties the command cache and starts a new generation, so the
// next call of any command runs again.
func (s *Session) ClearCache() {
	s.cache.clear()
	s.logger.Printf("[%s] Command - cache cleared, generation %d", s.name, s.cache.generation)
}

// Generation returns the current cache generation, starting at 0.
func (s *Session) Generation() int {
	return s.cache.generation
}
