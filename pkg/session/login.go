package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/util"
)

// maxPromptAttempts bounds prompt detection.
const maxPromptAttempts = 3

type loginState int

const (
	loginStart loginState = iota
	loginAwaitUsername
	loginAwaitPassword
	loginDetectPrompt
	loginSuccess
	loginFailed
)

func (st loginState) String() string {
	switch st {
	case loginStart:
		return "start"
	case loginAwaitUsername:
		return "await-username"
	case loginAwaitPassword:
		return "await-password"
	case loginDetectPrompt:
		return "detect-prompt"
	case loginSuccess:
		return "success"
	case loginFailed:
		return "failed"
	default:
		return fmt.Sprintf("login(%d)", int(st))
	}
}

func (st loginState) terminal() bool {
	return st == loginSuccess || st == loginFailed
}

// promptDetection remembers the last two prompt candidates.
type promptDetection struct {
	attempts   int
	candidates []string
}

// stable reports whether candidate repeats the previous capture.
func (d *promptDetection) stable(candidate string) bool {
	n := len(d.candidates)
	return candidate != "" && n > 0 && d.candidates[n-1] == candidate
}

func (d *promptDetection) remember(candidate string) {
	d.candidates = append(d.candidates, candidate)
	if len(d.candidates) > 2 {
		d.candidates = d.candidates[len(d.candidates)-2:]
	}
}

type loginMachine struct {
	s      *Session
	state  loginState
	detect promptDetection
	err    *LoginError
}

func (s *Session) login() error {
	m := &loginMachine{s: s, state: loginStart}
	for !m.state.terminal() {
		next := m.step()
		if next != m.state {
			s.logger.Printf("[%s] Login - %s -> %s", s.name, m.state, next)
		}
		m.state = next
	}
	if m.state == loginFailed {
		return m.err
	}
	return nil
}

// step runs the current state and returns the next one.
func (m *loginMachine) step() loginState {
	switch m.state {
	case loginStart:
		return m.afterStart()
	case loginAwaitUsername:
		return m.awaitUsername()
	case loginAwaitPassword:
		return m.awaitPassword()
	case loginDetectPrompt:
		return m.detectPrompt()
	default:
		return m.state
	}
}

func (m *loginMachine) afterStart() loginState {
	if m.s.cfg.Username != "" {
		return loginAwaitUsername
	}
	return m.afterUsername()
}

func (m *loginMachine) afterUsername() loginState {
	if m.s.cfg.Password.IsSet() || m.s.cfg.InteractivePassword {
		return loginAwaitPassword
	}
	return loginDetectPrompt
}

func (m *loginMachine) awaitUsername() loginState {
	if _, ok := m.waitFor("username", m.s.patterns.username); !ok {
		return loginFailed
	}
	m.s.logger.Printf("[%s] Login - sending username %s", m.s.name, m.s.cfg.Username)
	if err := m.s.ch.Send(m.s.cfg.Username + "\r"); err != nil {
		return m.fail(ErrLoginTimeout, "failed to send username", "", err)
	}
	return m.afterUsername()
}

func (m *loginMachine) awaitPassword() loginState {
	res, ok := m.waitFor("password", m.s.patterns.password)
	if !ok {
		return loginFailed
	}

	password := m.s.cfg.Password
	if !password.IsSet() && m.s.cfg.InteractivePassword && m.s.readPassword != nil {
		pw, err := m.s.readPassword(strings.TrimLeft(res.Match, "\r\n"))
		if err != nil {
			return m.fail(ErrMissingCredential, "could not read password interactively", "", err)
		}
		password = pw
	}
	if !password.IsSet() {
		return m.fail(ErrMissingCredential, "credential required and not set", res.Before+res.Match, nil)
	}

	m.s.logger.Printf("[%s] Login - sending password %s", m.s.name, password)
	if err := m.s.ch.Send(password.Reveal() + "\r"); err != nil {
		return m.fail(ErrLoginTimeout, "failed to send password", "", err)
	}
	return loginDetectPrompt
}

// detectPrompt runs one detection attempt. The prompt is accepted once two
// consecutive attempts capture the same non-empty text.
func (m *loginMachine) detectPrompt() loginState {
	s := m.s
	if s.prompt == nil {
		s.sleep(s.cfg.Delay)
		s.ch.ClearBuffer()
		s.logger.Printf("[%s] Login - prompt detection disabled", s.name)
		return loginSuccess
	}

	m.detect.attempts++
	res, ok := m.waitFor("prompt", s.prompt)
	if !ok {
		return loginFailed
	}
	candidate := trimLineTerminator(res.Match)

	if m.detect.stable(candidate) {
		s.prompt = literalPrompt(candidate)
		s.logger.Printf("[%s] Login - prompt detected %q after %d attempts", s.name, candidate, m.detect.attempts)
		return loginSuccess
	}
	m.detect.remember(candidate)

	if m.detect.attempts >= maxPromptAttempts {
		return m.fail(ErrPromptDetectionFailed, "could not establish a stable prompt",
			strings.Join(m.detect.candidates, " | "), nil)
	}

	s.ch.ClearBuffer()
	if err := s.ch.Send("\r"); err != nil {
		return m.fail(ErrPromptDetectionFailed, "failed to provoke a fresh prompt", "", err)
	}
	return loginDetectPrompt
}

// waitFor expects re, with the failed pattern checked first.
func (m *loginMachine) waitFor(what string, re *regexp.Regexp) (expect.Result, bool) {
	patterns := []*regexp.Regexp{re}
	failedIndex := -1
	if m.s.patterns.failed != nil {
		patterns = []*regexp.Regexp{m.s.patterns.failed, re}
		failedIndex = 0
	}

	res, err := m.s.ch.Expect(m.s.cfg.Timeout, patterns)
	switch {
	case errors.Is(err, expect.ErrTimeout):
		m.fail(ErrLoginTimeout, fmt.Sprintf("timed out waiting for %s prompt", what), res.Before, nil)
		return res, false
	case err != nil:
		m.fail(ErrLoginTimeout, fmt.Sprintf("channel failed waiting for %s prompt", what), res.Before, err)
		return res, false
	case res.Index == failedIndex:
		m.fail(ErrLoginRejected, "failed_re matched "+util.SanitizeForLog(res.Match), res.Before+res.Match, nil)
		return res, false
	}
	m.s.logger.Printf("[%s] Login - matched %s prompt %s", m.s.name, what, util.SanitizeForLog(res.Match))
	return res, true
}

func (m *loginMachine) fail(kind error, reason, context string, err error) loginState {
	m.err = &LoginError{Kind: kind, Reason: reason, Context: context, Err: err}
	return loginFailed
}

// trimLineTerminator strips one leading CR or LF.
func trimLineTerminator(s string) string {
	if strings.HasPrefix(s, "\r") || strings.HasPrefix(s, "\n") {
		return s[1:]
	}
	return s
}
