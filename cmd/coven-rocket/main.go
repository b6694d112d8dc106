// ABOUTME: Entry point for the coven-rocket ingestion pipeline
// ABOUTME: Connects chat server accounts and forwards turns to the responder

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-rocket/internal/config"
	"github.com/2389/coven-rocket/internal/pairing"
	"github.com/2389/coven-rocket/internal/processor"
	"github.com/2389/coven-rocket/internal/responder"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                 _        _
  ___ _____   _____ _ __        _ __ ___   ___| | _____| |_
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ / __| |/ / _ \ __|
| (_| (_) \ V /  __/ | | |_____| | | (_) | (__|   <  __/ |_
 \___\___/ \_/ \___|_| |_|     |_|  \___/ \___|_|\_\___|\__|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_ROCKET_CONFIG env var > XDG_CONFIG_HOME/coven/rocket.toml > ~/.config/coven/rocket.toml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ROCKET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "rocket.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "rocket.toml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-rocket <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Connect accounts and run the pipeline")
		fmt.Println("  check                    Validate the config file and exit")
		fmt.Println("  approve <account> <code> Approve a pending pairing code")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck()
	case "approve":
		err = runApprove(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Responder: %s\n", cfg.Responder.URL)
	for _, a := range cfg.Accounts {
		green.Print("    ▶ ")
		fmt.Printf("Account:   %s ", a.Name)
		cyan.Print(a.URL)
		fmt.Println()
	}
	if cfg.Pairing.DatabasePath != "" {
		green.Print("    ▶ ")
		fmt.Printf("Pairing:   %s\n", cfg.Pairing.DatabasePath)
	}
	fmt.Println()

	logger.Info("starting coven-rocket",
		"config", configPath,
		"responder", cfg.Responder.URL,
		"accounts", len(cfg.Accounts),
	)

	respClient, err := responder.NewClient(cfg.Responder.URL, logger)
	if err != nil {
		return fmt.Errorf("creating responder client: %w", err)
	}

	// A typed-nil store must never reach the interface, so only assign it
	// when the database is configured.
	var pairings processor.Pairings
	if cfg.Pairing.DatabasePath != "" {
		store, err := pairing.NewStore(cfg.Pairing.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening pairing store: %w", err)
		}
		defer store.Close()
		pairings = store
	}

	var wg sync.WaitGroup
	for _, account := range cfg.Accounts {
		p, err := newProvider(account, respClient, pairings, logger)
		if err != nil {
			return fmt.Errorf("account %q: %w", account.Name, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("account stopped", "account", p.name, "error", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

func runCheck() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d accounts)\n", configPath, len(cfg.Accounts))
	return nil
}

func runApprove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: coven-rocket approve <account> <code>")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Pairing.DatabasePath == "" {
		return fmt.Errorf("pairing.database_path is not configured")
	}

	store, err := pairing.NewStore(cfg.Pairing.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening pairing store: %w", err)
	}
	defer store.Close()

	sender, err := store.Approve(ctx, args[0], strings.ToUpper(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("approved %s for account %s\n", sender, args[0])
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}
