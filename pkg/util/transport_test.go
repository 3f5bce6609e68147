package util_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/pershinghar/go-device-session/pkg/expect"
	"github.com/pershinghar/go-device-session/pkg/models"
	"github.com/pershinghar/go-device-session/pkg/session"
	"github.com/pershinghar/go-device-session/pkg/util"
)

// deviceShell plays a network device CLI on an SSH channel: it answers
// complete lines with their echo and output, and pages "show run".
func deviceShell(ch ssh.Channel) {
	defer ch.Close()
	fmt.Fprint(ch, "Welcome to core-sw1\r\ncore-sw1# ")

	var line []byte
	paging := false
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		for _, b := range buf[:n] {
			if paging && b == ' ' {
				paging = false
				fmt.Fprint(ch, " ")
				fmt.Fprint(ch, "interface Vlan1\r\ncore-sw1# ")
				continue
			}
			if b != '\r' {
				line = append(line, b)
				continue
			}
			cmd := string(line)
			line = line[:0]
			switch cmd {
			case "exit":
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			case "show clock":
				fmt.Fprint(ch, "show clock\r\n12:00:01 UTC\r\ncore-sw1# ")
			case "show run":
				paging = true
				fmt.Fprint(ch, "show run\r\nhostname core-sw1\r\n--More--")
			default:
				fmt.Fprintf(ch, "%s\r\ncore-sw1# ", cmd)
			}
		}
		if err != nil {
			return
		}
	}
}

// testSSHServer accepts password logins and serves deviceShell.
func testSSHServer(t *testing.T, password string) (host string, port int) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveConn(netConn, config)
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				switch req.Type {
				case "pty-req":
					_ = req.Reply(true, nil)
				case "shell":
					_ = req.Reply(true, nil)
					go deviceShell(ch)
				default:
					_ = req.Reply(false, nil)
				}
			}
		}()
	}
}

func testSessionConfig(name string) models.SessionConfig {
	cfg := models.DefaultSessionConfig()
	cfg.Name = name
	cfg.Delay = 50 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return *cfg
}

func TestSSHClient_DeviceSession(t *testing.T) {
	host, port := testSSHServer(t, "hunter2")

	client := util.NewSSHClient(&models.SSHConfig{
		Host:     host,
		Port:     port,
		Username: "admin",
		Password: "hunter2",
		Timeout:  5,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	require.True(t, client.IsConnected())
	require.NoError(t, client.CreatePTY())
	stream, err := client.StartShell()
	require.NoError(t, err)

	s, err := session.New(testSessionConfig("core-sw1"), expect.New(stream))
	require.NoError(t, err)
	defer s.Close()
	require.Regexp(t, s.Prompt(), "\r\ncore-sw1# ")

	out, err := s.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, "12:00:01 UTC", out)

	out, err = s.Command("show run")
	require.NoError(t, err)
	require.Equal(t, "hostname core-sw1\r\ninterface Vlan1", out)

	require.NoError(t, s.Close())
	require.False(t, client.IsConnected())
}

func TestSSHClient_WrongPassword(t *testing.T) {
	host, port := testSSHServer(t, "hunter2")

	client := util.NewSSHClient(&models.SSHConfig{
		Host:     host,
		Port:     port,
		Username: "admin",
		Password: "guess",
		Timeout:  5,
	})
	defer client.Close()

	err := client.Connect(context.Background())
	require.ErrorContains(t, err, "failed to establish SSH connection")
	require.NotContains(t, err.Error(), "guess")
}

const labDevice = `printf 'Username: '; read -r u
printf 'Password: '; read -r p
while true; do
  printf 'lab$ '
  read -r line || exit 0
  case "$line" in
    "show clock") printf '12:00:01 UTC\n' ;;
    exit) exit 0 ;;
  esac
done`

func TestSpawnClient_DeviceSession(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}

	client := util.NewSpawnClient(&models.SpawnConfig{Command: []string{sh, "-c", labDevice}}, "lab")
	stream, err := client.Start(context.Background())
	require.NoError(t, err)

	cfg := testSessionConfig("lab")
	cfg.Username = "admin"
	cfg.Password = "s3cret"
	s, err := session.New(cfg, expect.New(stream))
	require.NoError(t, err)
	require.Regexp(t, s.Prompt(), "\nlab$ ")

	out, err := s.Command("show clock")
	require.NoError(t, err)
	require.Equal(t, "12:00:01 UTC", out)

	require.NoError(t, s.Close())
}

func TestSpawnClient_StartErrors(t *testing.T) {
	_, err := util.NewSpawnClient(&models.SpawnConfig{}, "empty").Start(context.Background())
	require.ErrorContains(t, err, "no command to spawn")

	missing := "/nonexistent/" + strconv.Itoa(int(time.Now().UnixNano()))
	_, err = util.NewSpawnClient(&models.SpawnConfig{Command: []string{missing}}, "missing").Start(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "failed to start"))
}

func TestSpawnClient_WaitReportsExitStatus(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}

	client := util.NewSpawnClient(&models.SpawnConfig{Command: []string{sh, "-c", "printf 'bye'; exit 3"}}, "exit")
	require.ErrorContains(t, client.Wait(context.Background()), "not started")

	stream, err := client.Start(context.Background())
	require.NoError(t, err)
	e := expect.New(stream)
	defer e.Close()

	_, err = e.Expect(5*time.Second, []*regexp.Regexp{regexp.MustCompile(`never`)})
	require.ErrorIs(t, err, expect.ErrEOF)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var exitErr *exec.ExitError
	require.ErrorAs(t, client.Wait(ctx), &exitErr)
	require.Equal(t, 3, exitErr.ExitCode())
}

func TestSpawnClient_WaitHonoursContext(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}

	client := util.NewSpawnClient(&models.SpawnConfig{Command: []string{sh, "-c", "sleep 5"}}, "sleeper")
	_, err = client.Start(context.Background())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, client.Wait(ctx), context.DeadlineExceeded)
}

const sizeDevice = `printf 'ready$ '
read -r line
stty size
printf 'ready$ '
read -r line`

func TestSpawnClient_Resize(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh in PATH")
	}
	if _, err := exec.LookPath("stty"); err != nil {
		t.Skip("no stty in PATH")
	}

	client := util.NewSpawnClient(&models.SpawnConfig{Command: []string{sh, "-c", sizeDevice}}, "size")
	require.ErrorContains(t, client.Resize(40, 100), "not started")

	stream, err := client.Start(context.Background())
	require.NoError(t, err)
	e := expect.New(stream)
	defer e.Close()

	ready := regexp.MustCompile(`ready\$ `)
	_, err = e.Expect(5*time.Second, []*regexp.Regexp{ready})
	require.NoError(t, err)

	require.NoError(t, client.Resize(40, 100))
	require.NoError(t, e.Send("\n"))

	res, err := e.Expect(5*time.Second, []*regexp.Regexp{regexp.MustCompile(`(\d+) (\d+)\r?\n`)})
	require.NoError(t, err)
	require.Contains(t, res.Match, "40 100")
}
