// Command tally records personal-finance transactions and keeps them in sync
// with the remote service, queueing them locally while offline.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/config"
	"github.com/tallyapp/tally/internal/logging"
)

var (
	configFile   string
	dataDir      string
	forceOffline bool
	logLevel     string
	jsonOutput   bool

	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Offline-first transaction capture",
	Long: `tally records income and expenses against the remote tally service.

While the service is unreachable, new transactions are kept in a local queue
and sent once connectivity returns, either by 'tally sync' or by the
background daemon.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if dataDir != "" {
			overrides["data_dir"] = dataDir
		}
		if logLevel != "" {
			overrides["log.level"] = logLevel
		}

		var err error
		cfg, err = config.Load(config.Options{File: configFile, Overrides: overrides})
		if err != nil {
			return err
		}

		logger, logCloser, err = logging.Setup(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"config":   cfg.Source,
			"data_dir": cfg.DataDir,
		}).Debug("Configuration loaded")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "entry", Title: "Recording transactions:"},
		&cobra.Group{ID: "sync", Title: "Queue and sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/tally/tally.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the offline queue")
	rootCmd.PersistentFlags().BoolVar(&forceOffline, "offline", false, "Treat the remote service as unreachable")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
