// Package config loads logsearchd's YAML configuration, applies the
// LOG_SEARCH_MCP__ environment overlay, validates the result, and
// supports hot-reload via fsnotify.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/coffersTech/logsearchd/internal/logging"
)

// ServerMode selects which transports the daemon serves.
type ServerMode string

const (
	ModeHTTP  ServerMode = "http"
	ModeStdio ServerMode = "stdio"
	ModeBoth  ServerMode = "both"
)

// ServerConfig controls transport binding.
type ServerConfig struct {
	Mode       ServerMode `yaml:"mode"`
	HTTPAddr   string     `yaml:"http_addr"`
	LogToFile  bool       `yaml:"log_to_file"`
	LogFile    string     `yaml:"log_file"`
	LogLevel   string     `yaml:"log_level"`
}

// LogParserConfig controls default Reader/Parser behavior.
type LogParserConfig struct {
	MaxLineBytes      int    `yaml:"max_line_bytes"`
	LargeFileWarnMB   int    `yaml:"large_file_warn_mb"`
	DefaultStartRegex string `yaml:"default_record_start_regex"`
}

// SearchConfig controls Engine tuning knobs.
type SearchConfig struct {
	DefaultPageSize    int `yaml:"default_page_size"`
	MaxPageSize        int `yaml:"max_page_size"`
	MaxConcurrentFiles int `yaml:"max_concurrent_files"`
	DefaultMaxHits     int `yaml:"default_max_hits"`
	DefaultTimeoutMS   int `yaml:"default_timeout_ms"`
	RegexTimeoutMS     int `yaml:"regex_timeout_ms"`
	RegexCacheSize     int `yaml:"regex_cache_size"`
	CursorTTLSeconds   int `yaml:"cursor_ttl_seconds"`
}

// LogSource names a root the Scanner is allowed to search under.
type LogSource struct {
	Name         string   `yaml:"name"`
	Path         string   `yaml:"path"`
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// SessionConfig controls the embedded session store.
type SessionConfig struct {
	DBPath         string `yaml:"db_path"`
	MaxSessionBytes int64 `yaml:"max_session_bytes"`
	IdleTTLSeconds int    `yaml:"idle_ttl_seconds"`
}

// Config is the full configuration tree.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	LogParser  LogParserConfig   `yaml:"log_parser"`
	Search     SearchConfig      `yaml:"search"`
	LogSources []LogSource       `yaml:"log_sources"`
	Session    SessionConfig     `yaml:"session"`
}

// Default returns the built-in defaults, matching
// original_source/src/config.rs's Default impl.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Mode:     ModeBoth,
			HTTPAddr: "127.0.0.1:8733",
			LogLevel: "info",
		},
		LogParser: LogParserConfig{
			MaxLineBytes:    1 << 20,
			LargeFileWarnMB: 512,
		},
		Search: SearchConfig{
			DefaultPageSize:    50,
			MaxPageSize:        500,
			MaxConcurrentFiles: 8,
			DefaultMaxHits:     5000,
			DefaultTimeoutMS:   10000,
			RegexTimeoutMS:     200,
			RegexCacheSize:     256,
			CursorTTLSeconds:   600,
		},
		Session: SessionConfig{
			DBPath:          "logsearchd_sessions.db",
			MaxSessionBytes: 10 << 20,
			IdleTTLSeconds:  3600,
		},
	}
}

// Load reads path (YAML), applies the env overlay, validates, and
// returns the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		// Unmarshal skips unknown keys silently; a strict second decode
		// into a throwaway copy only reports them.
		strict := yaml.NewDecoder(strings.NewReader(string(data)))
		strict.KnownFields(true)
		probe := Default()
		if err := strict.Decode(&probe); err != nil && err != io.EOF {
			logging.ForComponent("config").Warn("ignoring unknown config keys", "error", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the Engine and transports rely on.
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeHTTP, ModeStdio, ModeBoth:
	default:
		return fmt.Errorf("server.mode must be one of http, stdio, both, got %q", c.Server.Mode)
	}
	if c.Search.MaxConcurrentFiles < 1 {
		return fmt.Errorf("search.max_concurrent_files must be >= 1")
	}
	if c.Search.DefaultPageSize < 1 {
		return fmt.Errorf("search.default_page_size must be >= 1")
	}
	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return fmt.Errorf("search.max_page_size must be >= default_page_size")
	}
	return nil
}

// applyEnvOverrides walks LOG_SEARCH_MCP__<SECTION>__<KEY> environment
// variables over the decoded config, mirroring
// original_source/src/config.rs's apply_env_overrides.
func applyEnvOverrides(cfg *Config) {
	const prefix = "LOG_SEARCH_MCP__"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[len(prefix):eq], kv[eq+1:]
		parts := strings.SplitN(key, "__", 2)
		if len(parts) != 2 {
			continue
		}
		section, field := strings.ToLower(parts[0]), strings.ToLower(parts[1])
		setField(cfg, section, field, val)
	}
}

func setField(cfg *Config, section, field, val string) {
	switch section {
	case "server":
		switch field {
		case "mode":
			cfg.Server.Mode = ServerMode(val)
		case "http_addr":
			cfg.Server.HTTPAddr = val
		case "log_level":
			cfg.Server.LogLevel = val
		case "log_to_file":
			cfg.Server.LogToFile = val == "true" || val == "1"
		case "log_file":
			cfg.Server.LogFile = val
		}
	case "search":
		switch field {
		case "max_concurrent_files":
			setInt(&cfg.Search.MaxConcurrentFiles, val)
		case "default_page_size":
			setInt(&cfg.Search.DefaultPageSize, val)
		case "max_page_size":
			setInt(&cfg.Search.MaxPageSize, val)
		case "default_max_hits":
			setInt(&cfg.Search.DefaultMaxHits, val)
		case "default_timeout_ms":
			setInt(&cfg.Search.DefaultTimeoutMS, val)
		case "regex_timeout_ms":
			setInt(&cfg.Search.RegexTimeoutMS, val)
		case "cursor_ttl_seconds":
			setInt(&cfg.Search.CursorTTLSeconds, val)
		}
	case "session":
		switch field {
		case "db_path":
			cfg.Session.DBPath = val
		case "idle_ttl_seconds":
			setInt(&cfg.Session.IdleTTLSeconds, val)
		}
	}
}

func setInt(dst *int, val string) {
	if n, err := strconv.Atoi(val); err == nil {
		*dst = n
	}
}

// Watcher hot-reloads Config from disk on write events, swapping an
// atomic snapshot the Engine reads lock-free.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	log     interface {
		Warn(msg string, args ...any)
		Info(msg string, args ...any)
	}
}

// NewWatcher loads path once and starts watching it for changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, log: logging.ForComponent("config")}
	w.current.Store(cfg)

	if path == "" {
		return w, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil // hot-reload is best-effort; static config still works
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous config", "error", err)
				continue
			}
			w.current.Store(cfg)
			w.log.Info("config reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// Current returns the most recently loaded snapshot.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Close stops the file watcher, if any.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
