// Package expect drives an interactive byte stream (an SSH shell, a PTY
// child process) by matching regular expressions against the text it has
// produced so far.
//
// An Expecter owns one reader goroutine that appends everything the stream
// yields to an internal buffer. Expect scans that buffer with an ordered list
// of patterns and consumes it up to the end of the first pattern that
// matches. List order is the priority: the first pattern in the list that
// matches anywhere in the buffer wins, regardless of where other patterns
// would have matched.
//
// Example:
//
//	e := expect.New(stream, expect.WithRestartTimeout(true))
//	defer e.Close()
//
//	if err := e.Send("show version\r"); err != nil {
//		return err
//	}
//	res, err := e.Expect(10*time.Second, []*regexp.Regexp{prompt})
//	if errors.Is(err, expect.ErrTimeout) {
//		log.Printf("no prompt, last output: %q", res.Before)
//	}
package expect

import (
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/pershinghar/go-device-session/pkg/util"
)

var (
	// ErrTimeout is returned when no pattern matched before the timeout.
	ErrTimeout = errors.New("expect: timed out")

	// ErrEOF is returned when the stream ended and no pattern matched the
	// remaining buffer.
	ErrEOF = errors.New("expect: stream closed")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("expect: expecter is closed")
)

const readChunkSize = 32 * 1024

// Result describes an Expect outcome.
type Result struct {
	// Index of the pattern that matched, -1 when nothing did
	Index int

	// Before is the text preceding the match. On timeout or EOF it holds the
	// whole unconsumed buffer, which is left in place.
	Before string

	// Match is the matched text
	Match string
}

// Option configures an Expecter.
type Option func(*Expecter)

// WithRestartTimeout makes every Expect timeout a stall timeout: the clock
// restarts whenever new data arrives.
func WithRestartTimeout(on bool) Option {
	return func(e *Expecter) {
		e.restart = on
	}
}

// WithDebugLog logs all received data and the size of every send.
func WithDebugLog(logger *log.Logger, tag string) Option {
	return func(e *Expecter) {
		e.logger = logger
		e.tag = tag
	}
}

// Expecter matches patterns against the output of a stream.
type Expecter struct {
	rw io.ReadWriteCloser

	mu      sync.Mutex
	buf     []byte
	readErr error
	restart bool
	closed  bool

	notify chan struct{} // signaled (non-blocking) when the buffer changes
	done   chan struct{} // closed when the reader goroutine exits

	logger *log.Logger
	tag    string
}

// New starts reading rw in the background and returns the Expecter. The
// Expecter owns rw from now on and closes it in Close.
func New(rw io.ReadWriteCloser, opts ...Option) *Expecter {
	e := &Expecter{
		rw:     rw,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.readLoop()
	return e
}

func (e *Expecter) readLoop() {
	defer close(e.done)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := e.rw.Read(chunk)
		if n > 0 {
			e.mu.Lock()
			e.buf = append(e.buf, chunk[:n]...)
			e.mu.Unlock()
			e.debugf("received: %s", util.SanitizeForLog(string(chunk[:n])))
			e.signal()
		}
		if err != nil {
			e.mu.Lock()
			e.readErr = err
			e.mu.Unlock()
			e.debugf("reader finished: %v", err)
			e.signal()
			return
		}
	}
}

func (e *Expecter) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Expecter) debugf(format string, args ...interface{}) {
	if e.logger == nil {
		return
	}
	e.logger.Printf("[%s] expect - "+format, append([]interface{}{e.tag}, args...)...)
}

// Send writes text to the stream as is; no newline is added.
func (e *Expecter) Send(text string) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// Only the size is logged: the text may be a password.
	e.debugf("send %d bytes", len(text))
	if _, err := io.WriteString(e.rw, text); err != nil {
		return fmt.Errorf("failed to write to stream: %w", err)
	}
	return nil
}

// Expect waits until one of patterns matches the buffered output.
//
// A zero timeout checks the current buffer once. A negative timeout waits
// until a match or EOF. Nil patterns are skipped but keep their index.
func (e *Expecter) Expect(timeout time.Duration, patterns []*regexp.Regexp) (Result, error) {
	var timer *time.Timer
	var deadline <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return Result{Index: -1}, ErrClosed
		}
		if res, ok := e.match(patterns); ok {
			e.mu.Unlock()
			return res, nil
		}
		if e.readErr != nil {
			res := Result{Index: -1, Before: string(e.buf)}
			readErr := e.readErr
			e.mu.Unlock()
			if errors.Is(readErr, io.EOF) {
				return res, ErrEOF
			}
			return res, fmt.Errorf("%w: %w", ErrEOF, readErr)
		}
		restart := e.restart
		e.mu.Unlock()

		if timeout == 0 {
			return e.timedOut()
		}

		select {
		case <-e.notify:
			if restart && timer != nil {
				timer.Reset(timeout)
			}
		case <-deadline:
			// Data may have landed together with the deadline.
			e.mu.Lock()
			res, ok := e.match(patterns)
			e.mu.Unlock()
			if ok {
				return res, nil
			}
			return e.timedOut()
		}
	}
}

// match must be called with mu held.
func (e *Expecter) match(patterns []*regexp.Regexp) (Result, bool) {
	text := string(e.buf)
	for i, re := range patterns {
		if re == nil {
			continue
		}
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		e.buf = e.buf[loc[1]:]
		return Result{
			Index:  i,
			Before: text[:loc[0]],
			Match:  text[loc[0]:loc[1]],
		}, true
	}
	return Result{}, false
}

func (e *Expecter) timedOut() (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Result{Index: -1, Before: string(e.buf)}, ErrTimeout
}

// ClearBuffer discards all output received so far.
func (e *Expecter) ClearBuffer() {
	e.mu.Lock()
	e.buf = e.buf[:0]
	e.mu.Unlock()
}

// Unread puts text back in front of the buffer so the next Expect sees it
// again.
func (e *Expecter) Unread(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	e.buf = append([]byte(text), e.buf...)
	e.mu.Unlock()
	e.signal()
}

// Buffered returns a copy of the unconsumed output.
func (e *Expecter) Buffered() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.buf)
}

// SetRestartTimeout switches stall-timeout mode on or off.
func (e *Expecter) SetRestartTimeout(on bool) {
	e.mu.Lock()
	e.restart = on
	e.mu.Unlock()
}

// Close closes the underlying stream. It is safe to call more than once.
func (e *Expecter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.signal()
	if err := e.rw.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

// Done is closed once the stream has ended and the reader goroutine exited.
func (e *Expecter) Done() <-chan struct{} {
	return e.done
}
