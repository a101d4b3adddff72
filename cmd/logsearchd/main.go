package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pflag "github.com/spf13/pflag"

	"github.com/coffersTech/logsearchd/internal/config"
	"github.com/coffersTech/logsearchd/internal/engine"
	"github.com/coffersTech/logsearchd/internal/logging"
	"github.com/coffersTech/logsearchd/internal/session"
	"github.com/coffersTech/logsearchd/internal/transport/httpapi"
	"github.com/coffersTech/logsearchd/internal/transport/stdio"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.StringP("config", "c", "", "path to YAML config file")
		modeFlag   = pflag.String("mode", "", "override server.mode (http|stdio|both)")
		addrFlag   = pflag.StringP("addr", "a", "", "override server.http_addr")
	)
	pflag.Parse()
	if *configPath == "" && pflag.NArg() > 0 {
		*configPath = pflag.Arg(0)
	}

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logsearchd: config error: %v\n", err)
		return 2
	}
	defer watcher.Close()

	cfg := watcher.Current()
	if *modeFlag != "" {
		cfg.Server.Mode = config.ServerMode(*modeFlag)
	}
	if *addrFlag != "" {
		cfg.Server.HTTPAddr = *addrFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "logsearchd: invalid config: %v\n", err)
		return 2
	}

	logging.Init(logging.Config{
		Level:     cfg.Server.LogLevel,
		LogToFile: cfg.Server.LogToFile,
		FilePath:  cfg.Server.LogFile,
	})
	log := logging.ForComponent("main")
	log.Info("logsearchd starting", "mode", cfg.Server.Mode)

	cursorKey := make([]byte, 32)
	if _, err := rand.Read(cursorKey); err != nil {
		log.Error("failed to generate cursor signing key", "error", err)
		return 1
	}

	store, err := session.Open(cfg.Session.DBPath, time.Duration(cfg.Session.IdleTTLSeconds)*time.Second)
	if err != nil {
		log.Error("failed to open session store", "error", err)
		return 1
	}
	defer store.Close()

	eng := engine.New(
		func() config.SearchConfig { return watcher.Current().Search },
		func() config.LogParserConfig { return watcher.Current().LogParser },
		cursorKey,
		store,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.ReapLoop(ctx, time.Minute)

	var httpSrv *httpapi.Server
	errCh := make(chan error, 2)

	switch cfg.Server.Mode {
	case config.ModeHTTP, config.ModeBoth:
		httpSrv = httpapi.New(cfg.Server.HTTPAddr, eng)
		go func() {
			if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	switch cfg.Server.Mode {
	case config.ModeStdio, config.ModeBoth:
		go func() {
			if err := stdio.Run(ctx, eng, os.Stdin, os.Stdout); err != nil {
				errCh <- fmt.Errorf("stdio server: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("transport failed", "error", err)
	}

	cancel()
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown error", "error", err)
		}
	}

	log.Info("logsearchd exited")
	return 0
}
