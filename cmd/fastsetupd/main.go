package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fastsetupd/internal/logging"
	"fastsetupd/internal/supervisor"
	"fastsetupd/internal/telemetry"
	"fastsetupd/pkg/sdk/defaults"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	shutdown := telemetry.Install()
	defer func() { _ = shutdown(context.Background()) }()

	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dataRoot, configPath, userID, groupID string
	var debug bool

	cmd := &cobra.Command{
		Use:     "fastsetupd",
		Short:   "Fast Setup Daemon: mesh leader election, Wi-Fi mesh join, and peer discovery",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataRoot == "" {
				dataRoot = defaults.DataRoot()
			}
			if err := defaults.EnsureDataRoot(dataRoot); err != nil {
				return fmt.Errorf("ensure data root: %w", err)
			}
			if configPath == "" {
				configPath = defaults.ConfigPath(dataRoot)
			}

			unlock, err := acquireLock(defaults.LockPath(dataRoot))
			if err != nil {
				return err
			}
			defer unlock()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, configPath, userID, groupID)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&dataRoot, "data-root", "", "Daemon data root (default: $XDG_STATE_HOME/fastsetupd)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to fast_setup.conf (default: <data-root>/fast_setup.conf)")
	cmd.Flags().StringVar(&userID, "user-id", "default-user", "User id seeding the public mesh ESSID")
	cmd.Flags().StringVar(&groupID, "group-id", "default-group", "Group id seeding the private mesh ESSID")
	return cmd
}

// run constructs and drives the Daemon Supervisor until ctx is canceled.
//
// The IPC transport to the real Wi-Fi/BLE stack is a platform
// integration point this repository does not own (spec.md §1: wire
// encoding to that stack is explicitly out of scope), so the Supervisor
// is left to default to its in-memory ipc.Fake — the same loopback
// transport unit tests use.
func run(ctx context.Context, configPath, userID, groupID string) error {
	sup, err := supervisor.New(supervisor.Config{
		ConfigPath: configPath,
		UserID:     userID,
		GroupID:    groupID,
		SSDPConfig: supervisor.DefaultSSDPConfig(),
		Clock:      true,
		OnEvent: func(event, message string) {
			slog.Info("daemon event", "event", event, "message", message)
		},
		OnFailure: func(err error) {
			slog.Error("daemon failure", "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("construct supervisor: %w", err)
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	err = sup.WaitForExit()
	sup.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// acquireLock enforces the single-instance constraint of spec.md §6 with
// a trivial os.O_EXCL lock file; it is not part of the core's scope, only
// of a runnable binary's completeness.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("fastsetupd: already running (lock file %s exists)", path)
		}
		return nil, fmt.Errorf("fastsetupd: acquire lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}
