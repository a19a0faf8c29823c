// # cmd/molt/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"molt/internal/config"
	"molt/internal/shared/observability"
)

var (
	configPath = flag.String("config", "./molt.toml", "Path to config file")
	write      = flag.Bool("write", false, "Write transformed files in place (default: preview only)")
	watch      = flag.Bool("watch", false, "Watch paths and re-run on changes")
	ui         = flag.Bool("ui", false, "Enable terminal UI mode")
	tier       = flag.String("tier", "", "Pin the rewrite tier: essential, advanced or experimental")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	version    = flag.Bool("version", false, "Print version and exit")
)

const VERSION = "1.0.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("molt v%s\n", VERSION)
		os.Exit(0)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	output := os.Stdout
	if *ui {
		// In UI mode, avoid stdout logs corrupting the TUI.
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
				if err == nil {
					output = f
				} else {
					fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracing(ctx)
	}

	// Load config; a missing default config file falls back to defaults.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath == "./molt.toml" && os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			slog.Error("failed to load config", "error", err)
			os.Exit(2)
		}
	}

	if *tier != "" {
		cfg.Tier = *tier
	}
	if flag.NArg() > 0 {
		cfg.Paths = flag.Args()
	}

	app, err := NewApp(cfg, *write)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(2)
	}
	defer app.Close()

	files, err := app.DiscoverFiles(cfg.Paths)
	if err != nil {
		slog.Error("file discovery failed", "error", err)
		os.Exit(2)
	}

	summary, err := app.RunOnce(ctx, files)
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(2)
	}
	if !*ui {
		app.PrintSummary(summary)
	}

	if !*watch && !*ui {
		if summary.Failed > 0 {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *watch || *ui {
		if err := app.StartWatcher(ctx); err != nil {
			slog.Error("failed to start watcher", "error", err)
			os.Exit(2)
		}
	}

	if *ui {
		if err := app.RunUI(summary); err != nil {
			slog.Error("failed to run UI", "error", err)
			os.Exit(2)
		}
	} else {
		// Block forever
		select {}
	}
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "molt", "molt.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "molt", "molt.log")
	}

	return "molt.log"
}
