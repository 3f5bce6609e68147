package session

import "regexp"

// Response is what a command does when an interrupt fires: send a literal,
// run a callback, or just stop.
type Response interface {
	respond(s *Session, output string) (send string, ok bool)
}

// SendText sends the literal verbatim (no newline is added).
type SendText string

func (t SendText) respond(*Session, string) (string, bool) {
	return string(t), true
}

// ResponseFunc receives the session and the output so far and returns the
// text to send. Returning false sends nothing.
type ResponseFunc func(s *Session, output string) (string, bool)

func (f ResponseFunc) respond(s *Session, output string) (string, bool) {
	return f(s, output)
}

type endResponse struct{}

func (endResponse) respond(*Session, string) (string, bool) {
	return "", false
}

// End stops the command and returns the output captured so far.
var End Response = endResponse{}

// Interrupt pairs a pattern with a Response. Interrupts take priority over
// pagination, which takes priority over the prompt. Every interrupt ends the
// command once its response has been sent. An Interrupt with a nil Pattern
// is the timeout handler: a stall timeout runs its Response instead of
// failing the command.
type Interrupt struct {
	Pattern  *regexp.Regexp
	Response Response
}

// On builds an interrupt for pattern. It panics if pattern does not compile,
// like regexp.MustCompile.
func On(pattern string, r Response) Interrupt {
	return Interrupt{Pattern: regexp.MustCompile(pattern), Response: r}
}

// OnTimeout builds the timeout handler.
func OnTimeout(r Response) Interrupt {
	return Interrupt{Response: r}
}
