// ABOUTME: Main daemon entry point for proxnixd.
// ABOUTME: Loads configuration and starts the webhook-triggered reconciliation pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/proxnix/proxnix/internal/buildinfo"
	"github.com/proxnix/proxnix/internal/config"
	"github.com/proxnix/proxnix/internal/daemon"
)

// main parses the CLI surface described in spec §6:
//
//	proxnixd --version                 print version and exit
//	proxnixd --init <config.json>      ensure /var/lib/proxnix/ exists, symlink
//	                                    the given path in, and exit
//	proxnixd <config.yaml>             load config and run the daemon
func main() {
	configureLogging()
	args := os.Args[1:]

	if len(args) == 1 && args[0] == "--version" {
		fmt.Println(buildinfo.String())
		return
	}

	if len(args) == 2 && args[0] == "--init" {
		if err := runInit(args[1]); err != nil {
			log.Fatalf("proxnixd --init: %v", err)
		}
		return
	}

	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [--version | --init <config.json> | <config.yaml>]\n", os.Args[0])
		os.Exit(2)
	}

	if warning, err := config.CheckConfigPermissions(args[0]); err != nil {
		log.Fatalf("config permissions: %v", err)
	} else if warning != "" {
		log.Printf("warning: %s", warning)
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	log.Printf("proxnixd starting (%s)", buildinfo.String())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx, cfg); err != nil {
		log.Fatalf("proxnixd error: %v", err)
	}
}

// runInit ensures the daemon's well-known state directory exists and
// symlinks the given config path into it, per spec §6's init mode.
func runInit(configPath string) error {
	if err := os.MkdirAll(config.InitDir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", config.InitDir, err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", configPath, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if err := os.Remove(config.InitLinkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale link %s: %w", config.InitLinkPath, err)
	}
	if err := os.Symlink(absPath, config.InitLinkPath); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", config.InitLinkPath, absPath, err)
	}
	log.Printf("proxnixd --init: linked %s -> %s", config.InitLinkPath, absPath)
	return nil
}

// configureLogging drops the timestamp prefix when stdout is a terminal, for
// more readable interactive output; a plain prefix is kept for log
// aggregators when stdout is redirected.
func configureLogging() {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		log.SetFlags(0)
		return
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
