package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeForLog(t *testing.T) {
	require.Equal(t, `line1\r\nrouter# `, SanitizeForLog("line1\r\nrouter# "))
	require.Equal(t, "[Kred", SanitizeForLog("\x1b[Kred\x07"))
	require.Equal(t, `a\tb`, SanitizeForLog("a\tb"))
}

func TestSanitizeForLog_KeepsTail(t *testing.T) {
	long := strings.Repeat("x", 2*maxLogText) + "prompt#"
	got := SanitizeForLog(long)
	require.True(t, strings.HasPrefix(got, "..."))
	require.True(t, strings.HasSuffix(got, "prompt#"))
	require.Len(t, got, maxLogText+3)
}
