// Package cmd implements the fanout command line.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/fanout/internal/config"
	"yqhp/fanout/pkg/logger"
)

const (
	// Version is the current release.
	Version = "0.1.0"
	// Banner is printed when a node starts.
	Banner = `
    __
   / _| __ _ _ __   ___  _   _| |_   fanout %s
  | |_ / _' | '_ \ / _ \| | | | __|
  |  _| (_| | | | | (_) | |_| | |_
  |_|  \__,_|_| |_|\___/ \__,_|\__|
`
)

var (
	cfgFile string
	debug   bool
	quiet   bool

	// cfg is loaded once per invocation before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Distributed map over a pool of workers",
	Long: `fanout runs a master that splits an array into fragments, fans them out
to registered workers, and returns the reassembled result to the client.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress banner and progress output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd returns the root command (used in tests).
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func initConfig() error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	loaded, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	logger.Init(cfg.LoggerOptions())
	return nil
}

// waitForSignal blocks until SIGINT or SIGTERM arrives or done is closed.
func waitForSignal(done <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		if !quiet {
			fmt.Println()
		}
	case <-done:
	}
}

func printf(format string, a ...any) {
	if !quiet {
		fmt.Printf(format, a...)
	}
}
