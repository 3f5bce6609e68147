package util

import "strings"

// maxLogText bounds how much remote text a single log line carries.
const maxLogText = 512

// SanitizeForLog makes device output safe to put on one log line: CR, LF and
// tab become visible escapes, other control characters (ANSI sequences,
// backspaces) are dropped, and long text keeps only its tail, which is where
// prompts and error banners live.
func SanitizeForLog(s string) string {
	if len(s) > maxLogText {
		s = "..." + s[len(s)-maxLogText:]
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 32 || r == 127:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
