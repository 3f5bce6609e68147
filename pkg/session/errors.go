package session

import (
	"errors"
	"fmt"

	"github.com/pershinghar/go-device-session/pkg/util"
)

// Login failures. They arrive wrapped in a *LoginError; match them with
// errors.Is.
var (
	ErrLoginTimeout          = errors.New("login timed out")
	ErrLoginRejected         = errors.New("login rejected")
	ErrPromptDetectionFailed = errors.New("prompt detection failed")
	ErrMissingCredential     = errors.New("missing credential")
)

// Command-level results. Neither invalidates the session.
var (
	// ErrCommandTimeout means the command stalled and no timeout handler
	// was given. The output is unusable.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrReplayMiss means replay is active and the file has no entry for
	// the command in the current generation.
	ErrReplayMiss = errors.New("command not found in replay data")
)

var (
	ErrNoChannel      = errors.New("session has no live channel")
	ErrPromptDisabled = errors.New("prompt detection is disabled, use Send and Expect")
	ErrSessionClosed  = errors.New("session is closed")
)

// LoginError describes why authentication or prompt detection failed.
type LoginError struct {
	// Kind is one of the Err* login sentinels
	Kind error

	// Reason is a one-line description
	Reason string

	// Context is the trailing output captured when the failure happened
	Context string

	// Err is the underlying channel error, if any
	Err error
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	if e.Context != "" {
		msg += ", " + util.SanitizeForLog(e.Context)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the channel error to errors.Is.
func (e *LoginError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
