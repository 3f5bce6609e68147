package session

import (
	"bytes"
	"log"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/models"
)

// fakeChannel is a scripted device. Output bursts queue up in pending and
// arrive one at a time whenever Expect finds nothing to match, so a burst
// queued before a zero-timeout Expect models data that showed up during the
// quiescence delay. Replies to Send come from onSend.
type fakeChannel struct {
	buf     string
	pending []string
	onSend  func(text string) []string
	sent    []string
	eof     bool

	// timeouts lists the timeout of every Expect call
	timeouts []time.Duration

	restart bool
	closed  bool
}

func newFakeChannel(bursts ...string) *fakeChannel {
	return &fakeChannel{pending: bursts}
}

func (f *fakeChannel) Send(text string) error {
	if f.closed {
		return expect.ErrClosed
	}
	f.sent = append(f.sent, text)
	if f.onSend != nil {
		f.pending = append(f.pending, f.onSend(text)...)
	}
	return nil
}

func (f *fakeChannel) Expect(timeout time.Duration, patterns []*regexp.Regexp) (expect.Result, error) {
	f.timeouts = append(f.timeouts, timeout)
	if f.closed {
		return expect.Result{Index: -1}, expect.ErrClosed
	}
	for {
		for i, re := range patterns {
			if re == nil {
				continue
			}
			if loc := re.FindStringIndex(f.buf); loc != nil {
				res := expect.Result{Index: i, Before: f.buf[:loc[0]], Match: f.buf[loc[0]:loc[1]]}
				f.buf = f.buf[loc[1]:]
				return res, nil
			}
		}
		if len(f.pending) == 0 {
			res := expect.Result{Index: -1, Before: f.buf}
			if f.eof {
				return res, expect.ErrEOF
			}
			return res, expect.ErrTimeout
		}
		f.buf += f.pending[0]
		f.pending = f.pending[1:]
	}
}

func (f *fakeChannel) ClearBuffer() {
	f.buf = ""
}

func (f *fakeChannel) Unread(text string) {
	f.buf = text + f.buf
}

func (f *fakeChannel) SetRestartTimeout(on bool) {
	f.restart = on
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// replies answers each sent text with the listed bursts.
func replies(script map[string][]string) func(string) []string {
	return func(text string) []string {
		return script[text]
	}
}

func discardLogger() *log.Logger {
	logger, _ := testLogger()
	return logger
}

// noSleep skips the quiescence delay.
func noSleep() Option {
	return func(s *Session) {
		s.sleep = func(time.Duration) {}
	}
}

func testLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "", 0), &buf
}

func testConfig() models.SessionConfig {
	cfg := models.DefaultSessionConfig()
	cfg.Name = "router1"
	return *cfg
}

// readySession logs in on a device whose prompt is "router# " and then
// hands the channel over to onSend.
func readySession(t testing.TB, cfg models.SessionConfig, onSend func(string) []string, opts ...Option) (*Session, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel("router# ")
	ch.onSend = replies(map[string][]string{"\r": {"\r\nrouter# "}})

	logger, _ := testLogger()
	s, err := New(cfg, ch, append([]Option{noSleep(), WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	require.Equal(t, StateReady, s.State())

	ch.sent = nil
	ch.onSend = onSend
	return s, ch
}
