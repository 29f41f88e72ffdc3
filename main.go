package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/john/printer_remote/backend"
	"github.com/john/printer_remote/moonraker"
	"github.com/john/printer_remote/printer"
)

var (
	configPath string
	logLevel   string

	cfg *Config
)

var rootCmd = &cobra.Command{
	Use:           "printerctl",
	Short:         "Control and monitor 3D-printer management servers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || loaded.Log.Level == "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log.Level))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(testCmd, estopCmd, restartCmd, firmwareRestartCmd,
		updatesCmd, socketCmd, watchCmd, materialsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("printerctl failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// openPrinter builds the adapter for a configured printer.
func openPrinter(p PrinterConfig) (printer.Printer, error) {
	logger := slog.Default().With("printer", p.Name)
	pr, err := backend.New(p.Connection(),
		moonraker.WithLogger(logger),
		moonraker.WithHTTPClient(&http.Client{Timeout: cfg.Timeouts.RequestTimeout()}),
		moonraker.WithCommandTimeout(cfg.Timeouts.CommandTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("printer %s: %w", p.Name, err)
	}
	return pr, nil
}
