// Package logging sets up structured logging for logsearchd: a
// component-tagged slog.Logger, optionally fanned out to a rotating file
// alongside stderr.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and at what level.
type Config struct {
	Level      string // debug, info, warn, error
	LogToFile  bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	root     atomic.Pointer[slog.Logger]
	initOnce sync.Once
)

func init() {
	root.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Init configures the process-wide root logger. Safe to call once at
// startup; components that grabbed a logger via ForComponent before Init
// ran will start using the configured handler on their next log call
// because ForComponent loggers delegate through the dynamicHandler below.
func Init(cfg Config) {
	initOnce.Do(func() {
		var level slog.Level
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var w io.Writer = os.Stderr
		if cfg.LogToFile && cfg.FilePath != "" {
			rot := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    orDefault(cfg.MaxSizeMB, 100),
				MaxBackups: orDefault(cfg.MaxBackups, 5),
				MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			}
			w = io.MultiWriter(os.Stderr, rot)
		}

		root.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	})
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// Logger returns the current process-wide root logger.
func Logger() *slog.Logger { return root.Load() }

// ForComponent returns a logger tagged with component=name. Most callers
// stash the result in a package-level var, initialized before main ever
// calls Init — so the returned logger must re-resolve the root handler on
// every call rather than freeze whatever handler was installed by init().
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// dynamicHandler defers to whatever logging.root currently holds, so
// loggers grabbed at package-init time still honor a later Init call.
type dynamicHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return root.Load().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := root.Load().Handler()
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &dynamicHandler{attrs: append(append([]slog.Attr{}, h.attrs...), attrs...), groups: h.groups}
	return next
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	next := &dynamicHandler{attrs: h.attrs, groups: append(append([]string{}, h.groups...), name)}
	return next
}
