package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"go-booru-download/internal/proxy"
	"go-booru-download/internal/session"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Proxy utilities",
}

var proxyFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find a working HTTP proxy from the configured public list",
	Long: `Downloads the proxy list, shuffles it and probes each candidate until one
answers. The working proxy is printed as host:port and can be passed to
'download --proxy'.`,
	RunE: runProxyFind,
}

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.AddCommand(proxyFindCmd)
}

func runProxyFind(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	orch := session.New(session.Services{
		Resolver: proxy.NewResolver(globalConfig.Proxy, globalHttpTransport),
	}, session.Options{Concurrency: 1})
	defer orch.Close()

	p, err := orch.FindProxy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.Address)
	return nil
}
