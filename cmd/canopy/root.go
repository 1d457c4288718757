package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/platform"
)

var (
	verbose    bool
	servers    string
	timeout    time.Duration
	adapter    string
	configPath string
	logFile    string

	cfg = &platform.Config{}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Manage a ZooKeeper tree from indented text files",
	Long: `Canopy reads and writes a coordination store as a tree of nodes with
properties. Trees can be imported from text, exported back, diffed and
watched.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		var out io.Writer = os.Stderr
		if cfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
			}
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(out, opts))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVarP(&servers, "servers", "s", "127.0.0.1:2181", "Comma separated list of servers")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for a connection")
	flags.StringVar(&adapter, "adapter", platform.AdapterZK, "Store driver (zk or memory)")
	flags.StringVar(&configPath, "config", "", "Config file (default: nearest .canopy.yaml or canopy.yaml)")
	flags.StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
}

// loadConfig reads the config file, if any, and lets explicit flags win.
func loadConfig(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		found, err := platform.FindConfig(wd)
		if err != nil && !errors.Is(err, platform.ErrNoConfig) {
			return err
		}
		path = found
	}
	if path != "" {
		loaded, err := platform.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("servers") || cfg.Servers == "" {
		cfg.Servers = servers
	}
	if flags.Changed("timeout") || cfg.Timeout == 0 {
		cfg.Timeout = timeout
	}
	if flags.Changed("adapter") || cfg.Adapter == "" {
		cfg.Adapter = adapter
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return nil
}

// connect opens a session with the resolved configuration.
func connect(ctx context.Context) (*canopy.Session, error) {
	opts := append(cfg.Options(), canopy.WithLogger(slog.Default()))
	s, err := canopy.Connect(ctx, cfg.Servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Servers, err)
	}
	return s, nil
}
