package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go-booru-download/internal/api"
)

var tagsCmd = &cobra.Command{
	Use:   "tags <prefix>",
	Short: "Suggest tags starting with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)
	tagsCmd.Flags().StringVar(&proxyAddressFlag, "proxy", "", "HTTP proxy as host:port for the request")
}

func runTags(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(globalConfig.APIClientTimeoutSec) * time.Second
	client := api.NewClient(api.NewHTTPClient(globalHttpTransport, activeProxy(globalConfig), timeout), globalConfig)

	suggestions, err := client.Suggest(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No tags found for '%s'\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAG\tLABEL")
	for _, s := range suggestions {
		fmt.Fprintf(w, "%s\t%s\n", s.Value, s.Label)
	}
	return w.Flush()
}
