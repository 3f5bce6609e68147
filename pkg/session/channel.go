package session

import (
	"regexp"
	"time"

	"github.com/pershinghar/go-device-session/pkg/expect"
)

// Channel is the live connection a Session drives. *expect.Expecter is the
// production implementation.
type Channel interface {
	// Send writes text verbatim; no newline is added.
	Send(text string) error

	// Expect waits for the first pattern, in list order, that matches the
	// buffered output. It returns expect.ErrTimeout when nothing matched.
	Expect(timeout time.Duration, patterns []*regexp.Regexp) (expect.Result, error)

	// ClearBuffer discards output received so far.
	ClearBuffer()

	// Unread pushes text back in front of the buffer.
	Unread(text string)

	// SetRestartTimeout turns the Expect timeout into a stall timeout.
	SetRestartTimeout(on bool)

	Close() error
}

var _ Channel = (*expect.Expecter)(nil)
