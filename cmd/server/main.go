// Package main provides the nordcfg server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clicmd "github.com/rennerdo30/nordcfg/internal/cli/server"
	"github.com/rennerdo30/nordcfg/internal/config"
	"github.com/rennerdo30/nordcfg/internal/logging"
	"github.com/rennerdo30/nordcfg/internal/server"
	"github.com/rennerdo30/nordcfg/internal/version"
)

// defaultConfigFile is read when --config is not given. It may be absent.
const defaultConfigFile = "nordcfg.yaml"

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "nordcfg-server",
		Short: "nordcfg server",
		Long: `nordcfg serves a filtered NordVPN server catalogue and generates
WireGuard and OpenVPN client configurations for a web frontend.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadServer(configFile); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(configFile); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", configFile)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.WriteFile(configFile, []byte(config.DefaultServerConfigTemplate)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configFile)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	// Add CLI control commands
	rootCmd.AddCommand(clicmd.NewCommands())

	return rootCmd
}

func run(ctx context.Context, configFile string) error {
	// Load configuration
	cfg, err := config.LoadServer(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create server
	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer logging.Close() //nolint:errcheck // Best effort on exit

	// Set config path for hot reload support
	srv.SetConfigPath(configFile)

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	// Start server
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// Wait for shutdown signal
	for {
		select {
		case <-ctx.Done():
			return srv.Stop(context.Background())
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				logging.Info("Received SIGHUP, reloading configuration")
				if err := srv.ReloadConfig(); err != nil {
					logging.Error("Config reload failed", "error", err)
				}
			default:
				logging.Info("Received shutdown signal", "signal", sig.String())
				cancel()
				return srv.Stop(context.Background())
			}
		}
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
