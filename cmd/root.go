package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pairlink/pairlink/internal/ui"
	"github.com/pairlink/pairlink/internal/version"
)

var (
	flagConfig   string
	flagServer   string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pairlink",
	Short: "Two-party rendezvous server and resilient peer-to-peer sessions",
	Long: `Pairlink pairs exactly two participants through a rendezvous room and keeps a
message session between them alive. It prefers a direct WebRTC data channel,
retries negotiation when it breaks, and falls back to relaying through the
rendezvous server when a direct path cannot be established.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Path to a pairlink.yaml config file")
	pf.StringVar(&flagServer, "server", "", "Rendezvous server websocket URL (e.g. wss://example.com/ws)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}
