package session

import (
	"fmt"
	"regexp"

	"github.com/pershinghar/go-device-session/pkg/models"
)

// heuristicPrompt matches a last line ending in one of $ % # : > with an
// optional trailing space. The leading line terminator is part of the match.
const heuristicPrompt = `(?:\A|\r|\n)[^\r\n]*[$%#:>] ?\z`

var (
	anyData = regexp.MustCompile(`(?s).+`)
	anyChar = regexp.MustCompile(`\A(?s:.)`)
)

type patterns struct {
	username   *regexp.Regexp
	password   *regexp.Regexp
	failed     *regexp.Regexp
	paging     *regexp.Regexp
	pagingEcho *regexp.Regexp
	prompt     *regexp.Regexp
}

func compilePatterns(cfg *models.SessionConfig) (*patterns, error) {
	var p patterns
	var err error

	if p.username, err = compileOptional("username", cfg.UsernamePattern); err != nil {
		return nil, err
	}
	if cfg.Username != "" && p.username == nil {
		return nil, fmt.Errorf("a username is set but the username pattern is empty")
	}
	if p.password, err = compileOptional("password", cfg.PasswordPattern); err != nil {
		return nil, err
	}
	if (cfg.Password.IsSet() || cfg.InteractivePassword) && p.password == nil {
		return nil, fmt.Errorf("a password is expected but the password pattern is empty")
	}
	if p.failed, err = compileOptional("failed", cfg.FailedPattern); err != nil {
		return nil, err
	}
	if p.paging, err = compileOptional("paging", cfg.PagingPattern); err != nil {
		return nil, err
	}
	if p.paging != nil && cfg.PagingKey != "" {
		p.pagingEcho = regexp.MustCompile(`\A` + regexp.QuoteMeta(cfg.PagingKey))
	}

	switch {
	case cfg.PromptDetectionDisabled():
	case cfg.PromptPattern == "":
		p.prompt = regexp.MustCompile(heuristicPrompt)
	default:
		if p.prompt, err = compileOptional("prompt", cfg.PromptPattern); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func compileOptional(what, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern %q: %w", what, expr, err)
	}
	return re, nil
}

// literalPrompt anchors a detected prompt at the end of the buffer, after
// the start of the buffer or a line terminator, with an optional CR.
func literalPrompt(text string) *regexp.Regexp {
	return regexp.MustCompile(`(?:\A|\r|\n)` + regexp.QuoteMeta(text) + `\r?\z`)
}
