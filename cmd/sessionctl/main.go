// Command sessionctl repairs stored sessions and probes CSRF-protected
// endpoints through the recovery client.
package main

import (
	"fmt"
	"os"

	"github.com/ahwlsqja/csrf-recovery/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	noColor    bool
	verbose    bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and repair CSRF sessions",
		Long: `Inspect and repair server-side sessions and their anti-forgery tokens.

Configuration is read from the same environment variables as the API server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log recovery steps")

	root.AddCommand(newFixCmd())
	root.AddCommand(newProbeCmd())
	return root
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		errorColor.Fprintln(os.Stderr, "✗ "+err.Error())
		return nil, err
	}
	return cfg, nil
}

func printHeader(format string, args ...any) {
	headerColor.Printf(format+"\n", args...)
}

func printField(name string, value any) {
	fmt.Printf("  %-12s %v\n", name+":", value)
}
