package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	totalSize int
	verbose   bool
	quiet     bool
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "buddysim",
	Short: "Simulate a binary buddy memory allocator",
	Long: `buddysim runs allocation scripts against a simulated binary buddy allocator.
Every split, merge, allocation and release is reported as it happens, and the
state of the free lists can be inspected at any point of the script.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&totalSize, "total", "t", 128, "Size of the simulated address space, a power of two")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print the final allocator state in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the structured logger handed to the allocator. Event records go to
// stderr, and only warnings are kept unless verbose mode is enabled.
func newLogger() *slog.Logger {
	if quiet {
		return slog.New(slog.NewTextHandler(io.Discard))
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}
