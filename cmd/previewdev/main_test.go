package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_VersionFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.NotEmpty(t, strings.TrimSpace(stdout.String()))
}

func TestRun_HelpContainsExamplesAndExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	help := stderr.String()
	require.Contains(t, help, "Examples:")
	require.Contains(t, help, "Exit codes:")
	require.Contains(t, help, "--script-id")
	require.Contains(t, help, "PREVIEWDEV_PORT")
}

func TestRun_MissingScriptIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "missing --script")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run([]string{"--nope"}, &stdout, &stderr))
}

func TestRun_InvalidAddressIsConfigError(t *testing.T) {
	cases := [][]string{
		{"--script-id", "abc", "--ip", "not-an-ip"},
		{"--script-id", "abc", "--port", "70000"},
		{"--script-id", "abc", "--host", "bad host/"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 2, run(args, &stdout, &stderr), "%v: %s", args, stderr.String())
		require.Contains(t, stderr.String(), "config", args)
	}
}

func findReadyLine(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "{") {
			return line
		}
	}
	t.Fatalf("no ready line in %q", out)
	return ""
}

func testEnv(stdout, stderr io.Writer) env {
	return env{stdout: stdout, stderr: stderr, logger: zerolog.Nop(), goos: "linux"}
}

func TestServe_PortInUseIsConfigError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := defaultConfig()
	cfg.ScriptID = "abc"
	cfg.Inspect = false
	cfg.Port = portValue(strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))

	var stdout, stderr syncBuffer
	code := serve(context.Background(), cfg, testEnv(&stdout, &stderr))
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "bind_failed")
}

func TestServe_ProxiesUntilCanceled(t *testing.T) {
	seen := make(chan http.Header, 1)
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		_, _ = io.WriteString(w, "from upstream")
	}))
	defer up.Close()

	cfg := defaultConfig()
	cfg.ScriptID = "abc123"
	cfg.Port = "0"
	cfg.Inspect = false
	cfg.Upstream = up.URL

	var stdout, stderr syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- serve(ctx, cfg, testEnv(&stdout, &stderr)) }()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Listening on http://127.0.0.1:0")
	}, 5*time.Second, 10*time.Millisecond)

	readyLine := findReadyLine(t, stdout.String())
	require.Equal(t, "ready", gjson.Get(readyLine, "status").String())
	require.False(t, gjson.Get(readyLine, "inspector").Bool())
	listen := gjson.Get(readyLine, "listen").String()
	sid := gjson.Get(readyLine, "session_id").String()
	require.Len(t, sid, 32)

	resp, err := http.Get("http://" + listen + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "from upstream", string(body))

	h := <-seen
	require.Equal(t, "abc123"+sid+"0127.0.0.1:0", h.Get("Cf-Ew-Preview"))
	require.Equal(t, listen, h.Get("Cf-Ew-Raw-Host"))
	require.Contains(t, stdout.String(), "\"GET 127.0.0.1:0/hello HTTP/1.1\"")

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_MetricsEndpoint(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	cfg := defaultConfig()
	cfg.ScriptID = "abc123"
	cfg.Port = "0"
	cfg.Inspect = false
	cfg.Upstream = up.URL
	cfg.MetricsListen = "127.0.0.1:0"

	var stdout, stderr syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- serve(ctx, cfg, testEnv(&stdout, &stderr)) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Listening on")
	}, 5*time.Second, 10*time.Millisecond)
	readyLine := findReadyLine(t, stdout.String())

	resp, err := http.Get("http://" + gjson.Get(readyLine, "listen").String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get("http://" + gjson.Get(readyLine, "metrics").String() + "/metrics")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Contains(t, string(b), `previewdev_proxy_requests_total{code="200",result="ok"} 1`)
}

func TestServe_UploadFailureIsRuntimeError(t *testing.T) {
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer upload.Close()

	script := filepath.Join(t.TempDir(), "worker.js")
	require.NoError(t, os.WriteFile(script, []byte("x"), 0o600))

	cfg := defaultConfig()
	cfg.Script = script
	cfg.UploadURL = upload.URL
	cfg.Inspect = false

	var stdout, stderr syncBuffer
	require.Equal(t, 1, serve(context.Background(), cfg, testEnv(&stdout, &stderr)))
}

func TestServe_SkipsBuildWithoutCommand(t *testing.T) {
	cfg := defaultConfig()
	cfg.ScriptID = " "
	var stdout, stderr syncBuffer
	require.Equal(t, 1, serve(context.Background(), cfg, testEnv(&stdout, &stderr)))
	require.Contains(t, stdout.String(), "Skipping build")
}

func TestConfigLoader_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "previewdev.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"host: file.example.com",
		"ip: 0.0.0.0",
		"port: 9000",
		"inspect: false",
		"script_id: from-file",
		"log_level: debug",
	}, "\n")), 0o600))

	t.Setenv("PREVIEWDEV_CONFIG", path)
	t.Setenv("PREVIEWDEV_PORT", "9100")
	t.Setenv("PREVIEWDEV_SCRIPT_ID", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	l := newConfigLoader(fs)
	require.NoError(t, fs.Parse([]string{"--script-id", "from-flag", "--inspect=true"}))

	cfg, err := l.load()
	require.NoError(t, err)
	require.Equal(t, "file.example.com", cfg.Host)
	require.Equal(t, "0.0.0.0", cfg.IP)
	require.Equal(t, portValue("9100"), cfg.Port)
	require.Equal(t, "from-flag", cfg.ScriptID)
	require.True(t, cfg.Inspect)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
}

func TestConfigLoader_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	l := newConfigLoader(fs)
	require.NoError(t, fs.Parse(nil))
	cfg, err := l.load()
	require.NoError(t, err)
	require.True(t, cfg.Inspect)
	require.Empty(t, cfg.Host)
	require.Empty(t, string(cfg.Port))
	require.Equal(t, "info", cfg.LogLevel)
}

func TestConfigLoader_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 1\n"), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	l := newConfigLoader(fs)
	require.NoError(t, fs.Parse([]string{"--config", path}))
	_, err := l.load()
	require.Error(t, err)
}

func TestConfigLoader_BadEnvBool(t *testing.T) {
	t.Setenv("PREVIEWDEV_INSPECT", "sometimes")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	l := newConfigLoader(fs)
	require.NoError(t, fs.Parse(nil))
	_, err := l.load()
	require.Error(t, err)
}

// stallingInspector accepts the bridge, sends messages that are not console
// events and then keeps the connection open without sending anything else.
func stallingInspector(t *testing.T, msgs []string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for i := 0; i < 3; i++ {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/inspect/"
}

// startServe runs serve in the background with a logger writing to stderr and
// returns the bound proxy address from the ready line.
func startServe(t *testing.T, cfg config, goos string, stdout, stderr *syncBuffer) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	e := env{
		stdout: stdout,
		stderr: stderr,
		logger: zerolog.New(stderr).Level(zerolog.DebugLevel),
		goos:   goos,
	}
	go func() { done <- serve(ctx, cfg, e) }()
	t.Cleanup(func() {
		cancel()
		select {
		case code := <-done:
			require.Equal(t, 0, code, stderr.String())
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not return after cancel")
		}
	})

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Listening on")
	}, 5*time.Second, 10*time.Millisecond, stderr.String())
	return gjson.Get(findReadyLine(t, stdout.String()), "listen").String()
}

func requireProxies(t *testing.T, listen string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		resp, err := http.Get("http://" + listen + "/req/" + strconv.Itoa(i))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "/req/"+strconv.Itoa(i), string(body))
	}
}

func pathEchoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	t.Cleanup(up.Close)
	return up
}

func TestServe_UnclassifiedInspectorMessagesDoNotBlockProxy(t *testing.T) {
	cfg := defaultConfig()
	cfg.ScriptID = "abc123"
	cfg.Port = "0"
	cfg.Upstream = pathEchoUpstream(t).URL
	cfg.InspectorURL = stallingInspector(t, []string{`{"weird":true}`, `not json`})

	var stdout, stderr syncBuffer
	listen := startServe(t, cfg, "linux", &stdout, &stderr)
	require.True(t, gjson.Get(findReadyLine(t, stdout.String()), "inspector").Bool())

	require.Eventually(t, func() bool {
		return strings.Count(stderr.String(), "inspector message not classified") == 2
	}, 5*time.Second, 10*time.Millisecond, stderr.String())

	requireProxies(t, listen, 5)
	require.NotContains(t, stdout.String(), "weird")
	require.NotContains(t, stderr.String(), "inspector bridge unavailable")
}

func TestServe_DeadInspectorWarnsAndKeepsProxying(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := defaultConfig()
	cfg.ScriptID = "abc123"
	cfg.Port = "0"
	cfg.Upstream = pathEchoUpstream(t).URL
	cfg.InspectorURL = "ws://" + dead + "/inspect/"

	var stdout, stderr syncBuffer
	listen := startServe(t, cfg, "linux", &stdout, &stderr)

	require.Eventually(t, func() bool {
		return strings.Contains(stderr.String(), "inspector bridge unavailable")
	}, 5*time.Second, 10*time.Millisecond, stderr.String())
	require.Contains(t, stderr.String(), dead)

	requireProxies(t, listen, 5)
}

func TestServe_InspectorUnsupportedPlatformWarns(t *testing.T) {
	cfg := defaultConfig()
	cfg.ScriptID = "abc123"
	cfg.Port = "0"
	cfg.Upstream = pathEchoUpstream(t).URL

	var stdout, stderr syncBuffer
	listen := startServe(t, cfg, "js", &stdout, &stderr)

	require.Contains(t, stderr.String(), "console.log output from the preview is not available")
	require.False(t, gjson.Get(findReadyLine(t, stdout.String()), "inspector").Bool())

	requireProxies(t, listen, 5)
}

func TestServe_BadBuildCommandIsUsageError(t *testing.T) {
	cfg := defaultConfig()
	cfg.ScriptID = "abc"
	cfg.Inspect = false
	cfg.BuildCommand = "npm ci && npm run build"

	var stdout, stderr syncBuffer
	require.Equal(t, 2, serve(context.Background(), cfg, testEnv(&stdout, &stderr)))
	require.Contains(t, stderr.String(), "shell operators")
	require.NotContains(t, stdout.String(), "Skipping build")
}
