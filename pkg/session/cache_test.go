package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/pershinghar/go-device-session/pkg/replay"
)

// countingDevice echoes every command and answers with an output that
// changes on each run.
type countingDevice struct {
	runs int
}

func (d *countingDevice) reply(text string) []string {
	d.runs++
	cmd := strings.TrimSuffix(text, "\r")
	return []string{cmd + "\r\n", fmt.Sprintf("%s run %d\r\n", cmd, d.runs), "router# "}
}

func TestCommand_CacheIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a command runs at most once per generation", prop.ForAll(
		func(command string) bool {
			dev := &countingDevice{}
			s, _ := readySession(t, testConfig(), dev.reply)

			first, err := s.Command(command)
			if err != nil {
				return false
			}
			second, err := s.Command(command)
			if err != nil {
				return false
			}
			return first == second && dev.runs == 1
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestCommand_GenerationIsolationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("ClearCache makes a command run again", prop.ForAll(
		func(command string, clears int) bool {
			dev := &countingDevice{}
			s, _ := readySession(t, testConfig(), dev.reply)

			before, err := s.Command(command)
			if err != nil {
				return false
			}
			for i := 0; i < clears; i++ {
				s.ClearCache()
			}
			after, err := s.Command(command)
			if err != nil {
				return false
			}
			return before != after && dev.runs == 2 && s.Generation() == clears
		},
		gen.AlphaString(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestLogin_PromptConvergesProperty(t *testing.T) {
	suffixes := []string{"$ ", "# ", "> ", "% ", ":"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a repeated prompt is detected within three attempts", prop.ForAll(
		func(name string, suffix int) bool {
			prompt := name + suffixes[suffix]
			ch := newFakeChannel("\r\n" + prompt)
			ch.onSend = replies(map[string][]string{"\r": {"\r\n" + prompt}})

			s, err := New(testConfig(), ch, noSleep(), WithLogger(discardLogger()))
			if err != nil {
				return false
			}
			return len(ch.sent) <= 2 &&
				s.Prompt().MatchString("output\r\n"+prompt) &&
				s.Prompt().MatchString(prompt+"\r") &&
				!s.Prompt().MatchString(prompt+"more")
		},
		gen.AlphaString(),
		gen.IntRange(0, len(suffixes)-1),
	))

	properties.TestingRun(t)
}

func TestCommand_ClearCacheRunsAgain(t *testing.T) {
	dev := &countingDevice{}
	s, ch := readySession(t, testConfig(), dev.reply)
	require.Equal(t, 0, s.Generation())

	out, err := s.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, "show clock run 1", out)

	out, err = s.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, "show clock run 1", out)

	s.ClearCache()
	require.Equal(t, 1, s.Generation())

	out, err = s.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, "show clock run 2", out)
	require.Equal(t, []string{"show clock\r", "show clock\r"}, ch.sent)
}

func TestReplay_ReproducesRecordedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router1.yaml")

	// Record against a live device.
	dev := &countingDevice{}
	recorder := replay.NewStore(replay.Options{RecordPath: path})
	s, _ := readySession(t, testConfig(), func(text string) []string {
		if text == "show tech\r" {
			return []string{"show tech\r\n", "partial"}
		}
		return dev.reply(text)
	}, WithStore(recorder, "router1"))

	live := map[int]map[string]string{0: {}, 1: {}}
	for _, cmd := range []string{"show version", "show clock"} {
		out, err := s.Command(cmd)
		require.NoError(t, err)
		live[0][cmd] = out
	}
	_, err := s.Command("show tech")
	require.ErrorIs(t, err, ErrCommandTimeout)

	s.ClearCache()
	out, err := s.Command("show clock")
	require.NoError(t, err)
	live[1]["show clock"] = out
	require.NoError(t, s.Close())
	require.NoError(t, recorder.Save())

	// Replay without a channel.
	player := replay.NewStore(replay.Options{ReplayPath: path})
	r, err := New(testConfig(), nil, noSleep(), WithLogger(discardLogger()), WithStore(player, "router1"))
	require.NoError(t, err)
	require.Equal(t, StateReady, r.State())

	for cmd, want := range live[0] {
		got, err := r.Command(cmd)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = r.Command("show tech")
	require.ErrorIs(t, err, ErrCommandTimeout)
	_, err = r.Command("show users")
	require.ErrorIs(t, err, ErrReplayMiss)

	r.ClearCache()
	got, err := r.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, live[1]["show clock"], got)

	_, err = r.Command("show version")
	require.ErrorIs(t, err, ErrReplayMiss)
}

func TestReplay_KeepsBlankLinesAndTabs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router1.yaml")
	cfg := testConfig()
	cfg.EOLNormalize = true

	recorder := replay.NewStore(replay.Options{RecordPath: path})
	s, _ := readySession(t, cfg, replies(map[string][]string{
		"show run\r": {"show run\r\n\r\nBuilding configuration...\r\n", "\tdescription uplink\r\n", "router# "},
	}), WithStore(recorder, "router1"))

	live, err := s.Command("show run")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(live, "\nBuilding configuration..."), "%q", live)
	require.Contains(t, live, "\n\tdescription uplink")
	require.NoError(t, s.Close())
	require.NoError(t, recorder.Save())

	player := replay.NewStore(replay.Options{ReplayPath: path})
	r, err := New(cfg, nil, noSleep(), WithLogger(discardLogger()), WithStore(player, "router1"))
	require.NoError(t, err)

	replayed, err := r.Command("show run")
	require.NoError(t, err)
	require.Equal(t, live, replayed)
}

func TestReplay_ServedWithoutTouchingChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	out := "uptime is 3 weeks"
	seed := replay.NewStore(replay.Options{RecordPath: path})
	seed.Record("core", 0, "show version", &out)
	require.NoError(t, seed.Save())

	store := replay.NewStore(replay.Options{ReplayPath: path})
	s, ch := readySession(t, testConfig(), nil, WithStore(store, "core"))

	got, err := s.Command("show version")
	require.NoError(t, err)
	require.Equal(t, out, got)
	require.Empty(t, ch.sent)
}

func TestReplay_LoadErrorIsReturned(t *testing.T) {
	store := replay.NewStore(replay.Options{ReplayPath: filepath.Join(t.TempDir(), "missing.yaml")})
	s, err := New(testConfig(), nil, noSleep(), WithLogger(discardLogger()), WithStore(store, ""))
	require.NoError(t, err)

	_, err = s.Command("show version")
	require.ErrorIs(t, err, replay.ErrLoad)
}

func TestRecord_WhileReplaying(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.yaml")
	dst := filepath.Join(dir, "out.yaml")

	out := "12:00"
	seed := replay.NewStore(replay.Options{RecordPath: src})
	seed.Record(DefaultNamespace, 0, "show clock", &out)
	require.NoError(t, seed.Save())

	store := replay.NewStore(replay.Options{ReplayPath: src, RecordPath: dst})
	s, err := New(testConfig(), nil, noSleep(), WithLogger(discardLogger()), WithStore(store, ""))
	require.NoError(t, err)

	_, err = s.Command("show clock")
	require.NoError(t, err)
	_, err = s.Command("show users")
	require.ErrorIs(t, err, ErrReplayMiss)

	require.Equal(t, replay.Data{DefaultNamespace: {0: {"show clock": &out}}}, store.Recorded())
}
