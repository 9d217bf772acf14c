// Command tally-api runs the reference remote transaction service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/api"
	"github.com/tallyapp/tally/internal/config"
	"github.com/tallyapp/tally/internal/logging"
)

var (
	configFile string

	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:          "tally-api",
	Short:        "Reference tally transaction service",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{File: configFile})
		if err != nil {
			return err
		}
		logger, logCloser, err = logging.Setup(cfg.Log, os.Stderr)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the transaction API",
	Long: `Serve the transaction API backed by a SQLite database.

Routes:
  GET  /api/health                  (public)
  POST /api/transactions            create; honours Idempotency-Key
  GET  /api/transactions?limit=N    newest first
  GET  /api/overview?month=YYYY-MM  monthly income, expense and balance

All routes except health require a bearer token from 'tally-api token'.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.API.Addr
		}
		if cfg.API.JWTSecret == "" {
			fatalf("api.jwt_secret is not set (use TALLY_API_JWT_SECRET)")
		}

		store, err := api.OpenStore(cfg.API.DBPath)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		server, err := api.NewServer(store, api.Config{
			JWTSecret: []byte(cfg.API.JWTSecret),
			Logger:    logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := server.ListenAndServe(ctx, addr); err != nil {
			fatalf("%v", err)
		}
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetString("user")
		if cfg.API.JWTSecret == "" {
			fatalf("api.jwt_secret is not set (use TALLY_API_JWT_SECRET)")
		}

		tok, err := api.IssueToken([]byte(cfg.API.JWTSecret), user, cfg.API.TokenTTL)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(tok)
	},
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/tally/tally.toml)")

	serveCmd.Flags().String("addr", "", "Listen address (overrides api.addr)")
	tokenCmd.Flags().StringP("user", "u", "", "User the token is issued to")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
