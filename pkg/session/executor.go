package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/util"
)

// defaultEchoTimeout bounds the wait for the paging key echo when no
// quiescence delay is configured.
const defaultEchoTimeout = 250 * time.Millisecond

type matchKind int

// Matcher kinds in priority order. The timeout handler has no pattern and
// never takes part in matching.
const (
	matchUserInterrupt matchKind = iota
	matchPaging
	matchFinalPrompt
	matchTimeoutHandler
)

type matcher struct {
	kind     matchKind
	pattern  *regexp.Regexp
	response Response
}

// matchers builds the ordered list consumed by one Expect call: every
// interrupt in caller order, then pagination, then the prompt. The timeout
// handler is returned separately.
func (s *Session) matchers(interrupts []Interrupt) ([]matcher, *matcher) {
	list := make([]matcher, 0, len(interrupts)+2)
	var onTimeout *matcher
	for _, in := range interrupts {
		if in.Pattern == nil {
			onTimeout = &matcher{kind: matchTimeoutHandler, response: in.Response}
			continue
		}
		list = append(list, matcher{kind: matchUserInterrupt, pattern: in.Pattern, response: in.Response})
	}
	if s.patterns.paging != nil {
		list = append(list, matcher{kind: matchPaging, pattern: s.patterns.paging})
	}
	list = append(list, matcher{kind: matchFinalPrompt, pattern: s.prompt})
	return list, onTimeout
}

// execute runs one command on the channel. A nil output without error means
// the command stalled and nothing handled the timeout.
func (s *Session) execute(command string, timeout time.Duration, interrupts []Interrupt) (*string, error) {
	list, onTimeout := s.matchers(interrupts)
	patterns := make([]*regexp.Regexp, len(list))
	for i, m := range list {
		patterns[i] = m.pattern
	}

	if err := s.ch.Send(command + "\r"); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var out strings.Builder
	for {
		res, err := s.ch.Expect(timeout, patterns)
		if errors.Is(err, expect.ErrTimeout) {
			if onTimeout == nil {
				s.logger.Printf("[%s] Command - %q timed out, last output: %s", s.name, command, util.SanitizeForLog(res.Before))
				return nil, nil
			}
			out.WriteString(res.Before)
			s.ch.ClearBuffer()
			return s.respond(command, onTimeout.response, out.String())
		}
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		m := list[res.Index]
		switch m.kind {
		case matchUserInterrupt:
			out.WriteString(res.Before)
			out.WriteString(res.Match)
			return s.respond(command, m.response, out.String())

		case matchPaging:
			out.WriteString(res.Before)
			if err := s.ch.Send(s.cfg.PagingKey); err != nil {
				return nil, fmt.Errorf("failed to send paging key: %w", err)
			}
			s.consumePagingEcho()

		case matchFinalPrompt:
			out.WriteString(res.Before)
			s.sleep(s.cfg.Delay)
			more, err := s.ch.Expect(0, []*regexp.Regexp{anyData})
			if err != nil {
				result := s.normalize(command, out.String())
				return &result, nil
			}
			// More data after the prompt: it was prompt-like text inside
			// the output.
			out.WriteString(res.Match)
			s.ch.Unread(more.Before + more.Match)
		}
	}
}

func (s *Session) respond(command string, r Response, output string) (*string, error) {
	if r != nil {
		if text, ok := r.respond(s, output); ok {
			if err := s.ch.Send(text); err != nil {
				return nil, fmt.Errorf("failed to send interrupt response: %w", err)
			}
		}
	}
	result := s.normalize(command, output)
	return &result, nil
}

// consumePagingEcho drops the echo of the paging key. It assumes the echo
// is the next thing the device sends; anything else is put back.
func (s *Session) consumePagingEcho() {
	if s.patterns.pagingEcho == nil {
		return
	}
	timeout := s.cfg.Delay
	if timeout <= 0 {
		timeout = defaultEchoTimeout
	}
	res, err := s.ch.Expect(timeout, []*regexp.Regexp{s.patterns.pagingEcho, anyChar})
	if err == nil && res.Index == 1 {
		s.ch.Unread(res.Match)
	}
}

// normalize strips the command echo and the trailing line terminator and
// optionally converts line endings to LF.
func (s *Session) normalize(command, output string) string {
	if strings.HasPrefix(output, command) {
		rest := output[len(command):]
		trimmed := strings.TrimLeft(rest, "\r")
		switch {
		case strings.HasPrefix(trimmed, "\n"):
			output = trimmed[1:]
		case trimmed == "" || len(trimmed) < len(rest):
			output = trimmed
		}
	}
	if s.cfg.EOLNormalize {
		output = strings.ReplaceAll(output, "\r\n", "\n")
		output = strings.ReplaceAll(output, "\r", "\n")
	}
	if strings.HasSuffix(output, "\r\n") {
		output = output[:len(output)-2] + "\n"
	} else {
		output = strings.TrimSuffix(output, "\r")
	}
	return strings.TrimSuffix(output, "\n")
}
