package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/config"
	"github.com/tallyapp/tally/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage tally configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	// The file being created cannot be loaded yet.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		path := configFile
		if path == "" {
			path = filepath.Join(config.DefaultDir(), config.FileName+".toml")
		}
		if err := config.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, .env and
TALLY_* environment variables have been applied. Secrets are masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Source != "" {
			fmt.Println(ui.RenderMuted("# " + cfg.Source))
		}
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
