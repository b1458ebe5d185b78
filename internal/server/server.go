// Package server runs the no-cache static file server used to test the
// web app locally.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/net/netutil"

	"github.com/nsbe-battlepass/testserver/internal/config"
	"github.com/nsbe-battlepass/testserver/internal/metrics"
	"github.com/nsbe-battlepass/testserver/internal/watch"
)

// ErrBind is returned by Listen when the address cannot be bound,
// typically because the port is already in use.
var ErrBind = errors.New("failed to bind listener")

// Server serves cfg.Root over HTTP with caching disabled.
type Server struct {
	cfg     *config.Config
	fs      afero.Fs
	logger  *slog.Logger
	out     io.Writer
	metrics *metrics.ServeMetrics
	handler http.Handler
}

// New returns a server for cfg. Files are read from cfg.Root; the process
// working directory is never changed.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	return newServer(cfg, afero.NewBasePathFs(afero.NewOsFs(), cfg.Root), logger)
}

func newServer(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		fs:      fsys,
		logger:  logger,
		out:     os.Stdout,
		metrics: metrics.NewServeMetrics(),
	}

	var h http.Handler = newFileHandler(fsys)
	if cfg.Compress {
		h = compress(h)
	}
	h = observe(logger, s.metrics, cfg.AccessLog, h)
	// Outermost, so the headers are applied to whatever the inner layers send.
	s.handler = noCache(h)

	return s
}

// Handler returns the full request handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the configured address. Failure is wrapped in ErrBind.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrBind, s.cfg.Address(), err)
	}
	return ln, nil
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve prints the startup banner and serves on ln until ctx is cancelled.
// Connections are handled one at a time: the next one is not accepted until
// the current response has been sent and the connection closed.
// ln is closed when Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:  s.handler,
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	httpServer.SetKeepAlivesEnabled(false)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	var watchWg sync.WaitGroup
	if s.cfg.Watch {
		s.startWatcher(watchCtx, &watchWg)
	}

	s.printBanner(ln.Addr())
	s.metrics.StartTime = time.Now()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(netutil.LimitListener(ln, 1))
	}()

	select {
	case err := <-errCh:
		stopWatch()
		watchWg.Wait()
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
		if cerr := httpServer.Close(); cerr != nil {
			s.logger.Warn("HTTP server close error", "error", cerr)
		}
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("HTTP server error during shutdown", "error", err)
	}

	stopWatch()
	watchWg.Wait()

	s.metrics.RecordEnd()
	_, _ = fmt.Fprint(s.out, "\n", s.metrics.String())
	_, _ = fmt.Fprintln(s.out, "✅ Server stopped")
	return nil
}

// startWatcher logs changed files under Root. A watcher that cannot start is
// reported and serving continues without it.
func (s *Server) startWatcher(ctx context.Context, wg *sync.WaitGroup) {
	w, err := watch.New(s.cfg.Root, s.cfg.Debounce, s.logger, func(e watch.Event) {
		s.logger.Info("🔄 Changed", "path", e.Name, "op", e.Op.String())
	})
	if err != nil {
		s.logger.Warn("File watcher disabled", "error", err)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			s.logger.Warn("File watcher stopped", "error", err)
		}
	}()
}

func (s *Server) printBanner(addr net.Addr) {
	cfg := *s.cfg
	if tcp, ok := addr.(*net.TCPAddr); ok {
		cfg.Port = tcp.Port
	}
	base := cfg.BaseURL()

	_, _ = fmt.Fprintf(s.out, "🚀 %s\n", cfg.Title)
	_, _ = fmt.Fprintf(s.out, "📍 Serving at: %s\n", base)
	for _, link := range cfg.Links {
		_, _ = fmt.Fprintf(s.out, "%s %s: %s%s\n", link.Icon, link.Label, base, link.Path)
	}
	_, _ = fmt.Fprintf(s.out, "\n💡 Press Ctrl+C to stop the server\n")
}
