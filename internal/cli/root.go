// Package cli implements the cobra-based CLI commands for wsgi-image.
//
// Each subcommand (render, validate, build, inspect, verify, run, assets,
// list, remove) is defined in its own file within this package. This file
// defines the root command, the global flags, and error and log output.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// Global flag variables shared across all subcommands.
var (
	// jsonOutput switches command output to JSON for machine consumption.
	jsonOutput bool

	// verbose enables debug logging, including the builder's output.
	verbose bool

	// configPath is an explicit config file (--config).
	configPath string
)

// logger writes diagnostics to stderr. stdout is reserved for command
// output so that --json results can be piped.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "wsgi-image",
})

// Set at build time via ldflags from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command with every subcommand
// registered. The root command itself only provides help and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wsgi-image",
		Short: "Build and verify deployment images for WSGI applications",
		Long: `wsgi-image renders a declarative recipe into a Dockerfile, builds the
application image with the Docker Engine, and verifies the contract the image
establishes with its process supervisor: the settings module is set for every
step, static assets are collected at build time, and the entry point the
supervisor serves is recorded in the image environment.

Without a recipe file, the built-in recipe for seed-identity-store is used.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(log.DebugLevel)
			} else {
				logger.SetLevel(log.InfoLevel)
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/wsgi-image/wsgi-image.yaml)")
	pf.StringP("recipe", "f", "", "Recipe file (default: search the context directory)")
	pf.StringP("context", "C", ".", "Application source directory")

	rootCmd.AddCommand(NewRenderCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewInspectCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewAssetsCommand())
	rootCmd.AddCommand(NewListCommand())
	rootCmd.AddCommand(NewRemoveCommand())

	return rootCmd
}

// Execute runs the root command and translates errors into exit codes.
// CLIErrors carry their own code; anything else exits with 1.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(os.Stderr, cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}

	printError(os.Stderr, err.Error(), nil)
	os.Exit(int(model.ExitGeneralError))
}

// printError writes an error message in text or JSON form, depending on
// the --json flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{
			"message": message,
		}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog logs a debug message, shown only with --verbose.
func VerboseLog(format string, args ...any) {
	logger.Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
