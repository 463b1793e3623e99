package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-booru-download/internal/relay"
)

// relayAddrFlag holds the value of the --addr flag
var relayAddrFlag string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a CORS relay in front of the index API and image hosts",
	Long: `Serves /api (forwarded to the configured index URL) and /image?url=<file_url>
with permissive CORS headers, so browser clients and 'download --relay' can
reach the booru through this process.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayAddrFlag, "addr", relay.DefaultAddr, "Listen address (overrides config)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.NewServer(globalConfig.Relay.Addr, globalConfig.IndexURL, globalHttpTransport)
	log.Infof("Relay forwarding /api to %s", globalConfig.IndexURL)
	return srv.Serve(ctx)
}
