package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	logFile string

	logger    = slog.New(slog.NewTextHandler(io.Discard, nil))
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "memsim",
	Short: "Simulate a word-addressable memory pool",
	Long: `memsim replays allocation scenarios against a word-addressable memory
pool using a pluggable placement strategy, and reports the resulting memory
map, occupancy bitmap and fragmentation.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logs")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().
		StringVar(&logFile, "log-file", "", "Write logs to a size-rotated file instead of stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging builds the logger handed to pools. Logs go to stderr at warn
// level unless --verbose or --log-file is set.
func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	var w io.Writer = cmd.ErrOrStderr()
	if logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		w, logCloser = lj, lj
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

func closeLogging() error {
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	return err
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(rootCmd.OutOrStdout(), format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(rootCmd.OutOrStdout(), format, args...)
	}
}
