package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"go-booru-download/internal/api"
	"go-booru-download/internal/config"
	"go-booru-download/internal/paths"
)

var (
	showConfigFormat string
	debugPidFlag     int
)

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)
	debugCmd.AddCommand(debugPrintApiUrlCmd)

	debugShowConfigCmd.Flags().StringVar(&showConfigFormat, "format", "json", "Output format (json, toml)")

	// Reuses the download query flags so loadGlobalConfig sees the same overrides.
	addQueryFlags(debugPrintApiUrlCmd)
	debugPrintApiUrlCmd.Flags().IntVar(&debugPidFlag, "pid", 0, "Page index to print the URL for")
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration or API URLs.`,
}

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration",
	Long: `Loads configuration from defaults, config file, environment and flags
(respecting precedence) and prints the result with the API key masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Redacted(globalConfig)
		switch showConfigFormat {
		case "toml":
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		case "json":
			jsonBytes, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
			return nil
		default:
			return fmt.Errorf("unknown format '%s' (use json or toml)", showConfigFormat)
		}
	},
}

var debugPrintApiUrlCmd = &cobra.Command{
	Use:   "print-api-url [tags...]",
	Short: "Print the index API URLs a download would request",
	Long: `Builds the count request and one page request for the given tags using
the loaded configuration, and prints them with the destination directory.`,
	Annotations: map[string]string{"tagArgs": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		query := buildQuery(globalConfig)
		if err := query.Validate(); err != nil {
			return err
		}
		client := api.NewClient(nil, globalConfig)
		expr := query.Expression()

		countURL, err := client.PageURL(expr, 0, 0)
		if err != nil {
			return err
		}
		pageURL, err := client.PageURL(expr, client.PageSize, debugPidFlag)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "count: %s\n", countURL)
		fmt.Fprintf(out, "page:  %s\n", pageURL)
		fmt.Fprintf(out, "dest:  %s\n", paths.Destination(globalConfig.SavePath, query))
		return nil
	},
}
