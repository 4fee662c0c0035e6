// Command pageshot assembles full-length screenshots of scrolling pages.
//
// Usage:
//
//	pageshot -config pageshot.yaml               # capture pages from YAML config
//	pageshot -url https://example.com -out shots # autoscroll one page, write PNGs
//	pageshot -db pages.db -display :8089         # pages from SQLite, serve composites
//	pageshot -mcp                                # MCP tools over stdio
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot"
	"github.com/hazyhaar/pageshot/internal/dbopen"
	"github.com/hazyhaar/pageshot/internal/pagewatch"
)

// errUsage is returned by run when no source of pages was given.
var errUsage = errors.New("usage: pageshot -config <file> | -url <url> [-out dir] | -db <pages.db> | -mcp")

type options struct {
	configPath  string
	url         string
	out         string
	dbPath      string
	displayAddr string
	mcp         bool
}

func main() {
	var o options
	fs := newFlagSet(&o)
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(os.Args[1:])

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, o)
	stop()

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	case err != nil:
		logger.Error("pageshot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if len(cfg.Pages) == 0 && !o.mcp && o.dbPath == "" {
		return errUsage
	}

	sinks, err := pageshot.OpenSinks(cfg.Sinks, logger)
	if err != nil {
		return fmt.Errorf("sinks: %w", err)
	}
	// Stdout is reserved for the protocol in MCP mode.
	if len(sinks) == 0 && !o.mcp {
		sinks = append(sinks, pageshot.NewStdoutSink(nil))
	}

	s := pageshot.New(cfg, logger, sinks...)

	addr := cfg.Display.Addr
	if o.displayAddr != "" {
		addr = o.displayAddr
	}
	if addr != "" {
		d := pageshot.NewDisplay(logger)
		s.AddSink(d)
		go serveDisplay(ctx, logger, addr, d.Handler())
	}

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer s.Stop()

	if o.dbPath != "" {
		db, err := dbopen.Open(o.dbPath, dbopen.WithSchema(pageshot.PageSchema))
		if err != nil {
			return fmt.Errorf("page db: %w", err)
		}
		defer db.Close()

		reload := func(ctx context.Context) error {
			pages, err := pageshot.LoadPages(ctx, db, cfg)
			if err != nil {
				return fmt.Errorf("load pages: %w", err)
			}
			return s.SyncPages(ctx, pages)
		}
		if err := reload(ctx); err != nil {
			logger.Error("pageshot: initial page load", "error", err)
		}
		go pagewatch.New(db, pagewatch.Options{Logger: logger}).Run(ctx, reload)
	}

	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "pageshot", Version: "0.1.0"}, nil)
		s.RegisterMCP(srv)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// loadConfig merges the YAML file and the single -url page. Pages from -db
// are synced after start and reloaded on change.
func loadConfig(o options) (*pageshot.Config, error) {
	cfg := &pageshot.Config{}
	if o.configPath != "" {
		var err error
		cfg, err = pageshot.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.ApplyDefaults()

	if o.url != "" {
		cfg.Pages = append(cfg.Pages, pageshot.PageConfig{URL: o.url, AutoScroll: true})
		if o.out != "" {
			cfg.Sinks = append(cfg.Sinks, pageshot.SinkConfig{Type: "file", Dir: o.out})
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func serveDisplay(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("pageshot: display listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("pageshot: display", "error", err)
	}
}
