// Package commands provides the CLI commands for assistcore.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/assistcore/internal/config"
	"github.com/opencode-ai/assistcore/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "assistcore",
	Short: "assistcore - editor context and model routing core",
	Long: `assistcore captures editor context, routes it to configured model
backends with ordered fallback, and streams the answer back in order.

Run 'assistcore serve' to expose the HTTP API, or 'assistcore ask' for a
one-shot request from the terminal.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, err := GetWorkDir(workDir)
		if err != nil {
			return err
		}
		workDir = dir
		loadEnvFile(dir)
		initLogging(logLevel, printLogs)
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("assistcore %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(checkCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	return os.Getwd()
}

// loadEnvFile loads <dir>/.env into the environment without overriding
// variables that are already set.
func loadEnvFile(dir string) {
	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
	}
}

// initLogging configures the global logger. Without toStderr logs go to a
// file under the state directory only.
func initLogging(level string, toStderr bool) {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	if toStderr {
		cfg.Pretty = true
	} else {
		cfg.Output = io.Discard
		cfg.LogToFile = true
		cfg.LogDir = config.GetPaths().LogDir()
	}
	logging.Init(cfg)
}

// effectiveLogLevel prefers the flag when set explicitly, then the config
// file, then the flag default.
func effectiveLogLevel(cmd *cobra.Command, configured string) string {
	if cmd.Flags().Changed("log-level") || configured == "" {
		return logLevel
	}
	return configured
}
