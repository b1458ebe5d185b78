package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
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

	"github.com/nsbe-battlepass/testserver/internal/config"
)

// syncBuffer guards console output written from the serving goroutine.
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

// changeToTempDir changes to a temp directory and returns a cleanup function
func changeToTempDir(t *testing.T) func() {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	return func() {
		if err := os.Chdir(originalDir); err != nil {
			t.Errorf("Failed to restore original directory: %v", err)
		}
	}
}

func writeSite(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"index.html":          indexHTML,
		"raw-data-debug.html": debugHTML,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

type runningServer struct {
	addr   string
	out    *syncBuffer
	logs   *syncBuffer
	cancel context.CancelFunc
	done   chan error
}

// startServer serves root on an ephemeral loopback port.
func startServer(t *testing.T, root string, mutate ...func(*config.Config)) *runningServer {
	t.Helper()

	cfg := config.Default(root)
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Watch = false
	cfg.AccessLog = false
	for _, m := range mutate {
		m(cfg)
	}

	logs := &syncBuffer{}
	s := New(cfg, slog.New(slog.NewTextHandler(logs, nil)))
	out := &syncBuffer{}
	s.out = out

	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{
		addr:   ln.Addr().String(),
		out:    out,
		logs:   logs,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { rs.done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rs.done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return rs
}

func (rs *runningServer) stop(t *testing.T) error {
	t.Helper()
	rs.cancel()
	select {
	case err := <-rs.done:
		rs.done <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop within 10s")
	}
	return nil
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	res, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return res, string(body)
}

func TestServe_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)
	rs := startServer(t, root)
	base := "http://" + rs.addr

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/index.html", http.StatusOK, indexHTML},
		{"/raw-data-debug.html", http.StatusOK, debugHTML},
		{"/", http.StatusOK, indexHTML},
		{"/missing.html", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, body := get(t, http.DefaultClient, base+tt.path)
			if res.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" && body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			assertNoCacheHeaders(t, res.Header)
		})
	}
}

func TestServe_BannerAndShutdown(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)
	rs := startServer(t, root)

	_, port, err := net.SplitHostPort(rs.addr)
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		t.Fatalf("bad port %q", port)
	}

	if err := rs.stop(t); err != nil {
		t.Fatalf("Serve() error = %v, want nil", err)
	}

	out := rs.out.String()
	base := "http://127.0.0.1:" + port
	for _, want := range []string{
		"🚀 NSBE Battle Pass Test Server\n",
		"📍 Serving at: " + base + "\n",
		"📱 Main App: " + base + "/index.html\n",
		"🔍 Debug Tool: " + base + "/raw-data-debug.html\n",
		"💡 Press Ctrl+C to stop the server\n",
		"📊 Served 0 requests",
		"✅ Server stopped\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, should contain %q", out, want)
		}
	}
	if strings.Index(out, "Server stopped") < strings.Index(out, "Press Ctrl+C") {
		t.Error("stop message should follow the banner")
	}

	conn, err := net.DialTimeout("tcp", rs.addr, time.Second)
	if err == nil {
		_ = conn.Close()
		t.Error("listener should be closed after shutdown")
	}
}

func TestStart_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to occupy a port: %v", err)
	}
	defer func() { _ = busy.Close() }()

	cfg := config.Default(t.TempDir())
	cfg.Host = "127.0.0.1"
	cfg.Port = busy.Addr().(*net.TCPAddr).Port
	cfg.Watch = false

	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := &syncBuffer{}
	s.out = out

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.Start(ctx)
	if err == nil {
		t.Fatal("Start() should fail when the port is in use")
	}
	if !errors.Is(err, ErrBind) {
		t.Errorf("Start() error = %v, want ErrBind", err)
	}
	if got := out.String(); got != "" {
		t.Errorf("no banner expected on bind failure, got %q", got)
	}
}

func TestServe_RootIndependentOfWorkingDir(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)

	cleanup := changeToTempDir(t)
	defer cleanup()

	rs := startServer(t, root)
	res, body := get(t, http.DefaultClient, "http://"+rs.addr+"/index.html")
	if res.StatusCode != http.StatusOK || body != indexHTML {
		t.Errorf("GET /index.html = %d %q, want 200 %q", res.StatusCode, body, indexHTML)
	}
}

func TestServe_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "app")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatalf("Failed to create root: %v", err)
	}
	writeSite(t, root)
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to write secret: %v", err)
	}

	rs := startServer(t, root)

	conn, err := net.Dial("tcp", rs.addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close() }()
	_, _ = io.WriteString(conn, "GET /../secret.txt HTTP/1.0\r\n\r\n")
	raw, _ := io.ReadAll(conn)

	if strings.Contains(string(raw), "\r\n\r\nsecret") {
		t.Errorf("file outside root was served: %q", raw)
	}
	if !strings.Contains(string(raw), "Cache-Control: no-cache, no-store, must-revalidate") {
		t.Errorf("response should carry no-cache headers: %q", raw)
	}
}

func TestServe_OneConnectionAtATime(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)
	rs := startServer(t, root)

	// An idle connection occupies the only serving slot.
	idle, err := net.Dial("tcp", rs.addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Make sure the idle connection has been accepted before the next one.
	time.Sleep(100 * time.Millisecond)

	blocked := &http.Client{Timeout: 300 * time.Millisecond}
	if res, err := blocked.Get("http://" + rs.addr + "/index.html"); err == nil {
		_ = res.Body.Close()
		t.Fatal("request should wait while another connection is being handled")
	}

	_ = idle.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	res, body := get(t, client, "http://"+rs.addr+"/index.html")
	if res.StatusCode != http.StatusOK || body != indexHTML {
		t.Errorf("GET /index.html = %d %q, want 200 %q", res.StatusCode, body, indexHTML)
	}
}

func TestServe_ClosesConnectionAfterResponse(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)
	rs := startServer(t, root)

	res, _ := get(t, http.DefaultClient, "http://"+rs.addr+"/index.html")
	if !res.Close {
		t.Error("response should close the connection")
	}
}

func TestServe_LogsChangedFiles(t *testing.T) {
	root := t.TempDir()
	writeSite(t, root)
	rs := startServer(t, root, func(c *config.Config) {
		c.Watch = true
		c.Debounce = 20 * time.Millisecond
	})

	// Give the watcher time to register the tree.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>v2</h1>"), 0644); err != nil {
		t.Fatalf("Failed to update index.html: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(rs.logs.String(), "path=index.html") {
		if time.Now().After(deadline) {
			t.Fatalf("change not logged, logs = %q", rs.logs.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := rs.stop(t); err != nil {
		t.Fatalf("Serve() error = %v, want nil", err)
	}
}

func TestCompress(t *testing.T) {
	large := strings.Repeat("<p>leaderboard row</p>\n", 200)
	s, _ := newTestServer(t, map[string]string{"/leaderboard.html": large}, func(c *config.Config) {
		c.Compress = true
	})

	t.Run("gzip accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/leaderboard.html", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		res, body := do(t, s.Handler(), req)

		if res.Header.Get("Content-Encoding") != "gzip" {
			t.Fatalf("Content-Encoding = %q, want gzip", res.Header.Get("Content-Encoding"))
		}
		assertNoCacheHeaders(t, res.Header)

		zr, err := gzip.NewReader(strings.NewReader(body))
		if err != nil {
			t.Fatalf("gzip.NewReader() error = %v", err)
		}
		plain, err := io.ReadAll(zr)
		if err != nil {
			t.Fatalf("Failed to decompress: %v", err)
		}
		if string(plain) != large {
			t.Error("decompressed body does not match file")
		}
	})

	t.Run("gzip not accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/leaderboard.html", nil)
		res, body := do(t, s.Handler(), req)

		if res.Header.Get("Content-Encoding") != "" {
			t.Errorf("Content-Encoding = %q, want none", res.Header.Get("Content-Encoding"))
		}
		if body != large {
			t.Error("body should be served uncompressed")
		}
		assertNoCacheHeaders(t, res.Header)
	})
}

func TestAccessLog(t *testing.T) {
	s, logs := newTestServer(t, sampleSite(), func(c *config.Config) {
		c.AccessLog = true
	})

	do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/index.html", nil))
	do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/missing.js", nil))

	out := logs.String()
	for _, want := range []string{
		"level=INFO msg=request method=GET path=/index.html status=200",
		"level=WARN msg=request method=GET path=/missing.js status=404",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("logs = %q, should contain %q", out, want)
		}
	}
}

func TestObserve_CountsResponses(t *testing.T) {
	s, logs := newTestServer(t, sampleSite(), nil)

	do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/index.html", nil))
	do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/raw-data-debug.html", nil))
	do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/missing.js", nil))

	if got := s.metrics.Requests(); got != 3 {
		t.Errorf("Requests = %d, want 3", got)
	}
	if got := s.metrics.NotFound(); got != 1 {
		t.Errorf("NotFound = %d, want 1", got)
	}
	if want := int64(len(indexHTML) + len(debugHTML)); s.metrics.BytesSent() < want {
		t.Errorf("BytesSent = %d, want at least %d", s.metrics.BytesSent(), want)
	}
	if logs.Len() != 0 {
		t.Errorf("access log disabled, got %q", logs.String())
	}
}
