package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-booru-download/internal/api"
	"go-booru-download/internal/config"
	"go-booru-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

var (
	logLevel  string
	logFormat string
)

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

var (
	apiTimeoutFlag int
	pageDelayFlag  int
	apiKeyFlag     string
	userIDFlag     string
	relayURLFlag   string
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "booru-downloader",
	Short: "Search a booru by tags and bulk download the results",
	Long: `Booru Downloader counts the posts matching a tag query, pages through
the index API and downloads every file into a per-query directory.`,
	PersistentPreRunE: loadGlobalConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		api.CloseAllLoggingTransports()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")

	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Base directory for downloads (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", config.DefaultAPIClientTimeoutSec, "Timeout for index API requests in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&pageDelayFlag, "page-delay", config.DefaultPageDelayMs, "Minimum delay between index page requests in ms (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Index API key, used together with --user-id")
	rootCmd.PersistentFlags().StringVar(&userIDFlag, "user-id", "", "Index API user id, used together with --api-key")
	rootCmd.PersistentFlags().StringVar(&relayURLFlag, "relay", "", "Base URL of a relay exposing /api and /image (overrides config)")
}

// initLogging configures logrus from level and format names.
func initLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig collects the flags the user actually set, loads the
// configuration and prepares the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging(logLevel, logFormat)

	flags := config.CliFlags{
		ConfigFilePath:      changed(cmd, "config", &cfgFile),
		LogLevel:            changed(cmd, "log-level", &logLevel),
		LogFormat:           changed(cmd, "log-format", &logFormat),
		LogApiRequests:      changed(cmd, "log-api", &logApiFlag),
		SavePath:            changed(cmd, "save-path", &savePathFlag),
		APIClientTimeoutSec: changed(cmd, "api-timeout", &apiTimeoutFlag),
		PageDelayMs:         changed(cmd, "page-delay", &pageDelayFlag),
		APIKey:              changed(cmd, "api-key", &apiKeyFlag),
		UserID:              changed(cmd, "user-id", &userIDFlag),
		RelayURL:            changed(cmd, "relay", &relayURLFlag),
		Proxy: &config.CliProxyFlags{
			Address: changed(cmd, "proxy", &proxyAddressFlag),
			Auto:    changed(cmd, "auto-proxy", &autoProxyFlag),
		},
		Download: &config.CliDownloadFlags{
			DenyTags:         changed(cmd, "deny", &denyTagsFlag),
			Concurrency:      changed(cmd, "concurrency", &concurrencyFlag),
			TimeoutSec:       changed(cmd, "timeout", &downloadTimeoutFlag),
			FilterAI:         changed(cmd, "filter-ai", &filterAIFlag),
			AtomicWrites:     changed(cmd, "atomic", &atomicWritesFlag),
			SkipConfirmation: changed(cmd, "yes", &skipConfirmFlag),
		},
		Relay: &config.CliRelayFlags{
			Addr: changed(cmd, "addr", &relayAddrFlag),
		},
	}
	if len(args) > 0 && cmd.Annotations["tagArgs"] == "true" {
		flags.Download.Tags = &args
	}

	cfg, transport, err := config.Initialize(flags)
	if err != nil {
		return err
	}
	initLogging(cfg.LogLevel, cfg.LogFormat)

	globalConfig = cfg
	globalHttpTransport = transport
	log.Debugf("Global HTTP transport type: %T", globalHttpTransport)
	return nil
}

// changed returns val when the named flag exists on cmd and was set on
// the command line, nil otherwise.
func changed[T any](cmd *cobra.Command, name string, val *T) *T {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return val
	}
	return nil
}

// activeProxy returns the statically configured proxy, nil for a direct connection.
func activeProxy(cfg models.Config) *models.Proxy {
	if cfg.Proxy.Address == "" {
		return nil
	}
	return &models.Proxy{Address: cfg.Proxy.Address}
}
