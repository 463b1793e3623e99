package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-booru-download/internal/api"
	"go-booru-download/internal/models"
	"go-booru-download/internal/proxy"
	"go-booru-download/internal/relay"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultSavePath            = "downloads"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLogApiRequests      = false
	DefaultConfigFilePath      = "config.toml"
	DefaultEnvFilePath         = ".env"
	DefaultAPIClientTimeoutSec = 15
	DefaultPageDelayMs         = 1100
	DefaultPageSize            = api.DefaultPageSize
	MaxPageSize                = 1000

	// Proxy specific defaults
	DefaultConfigProxyListTimeoutSec  = 15
	DefaultConfigProxyProbeTimeoutSec = 10

	// Download specific defaults
	DefaultConfigDownloadConcurrency      = 8
	DefaultConfigDownloadTimeoutSec       = 30
	DefaultConfigDownloadFilterAI         = false
	DefaultConfigDownloadAtomicWrites     = false
	DefaultConfigDownloadSkipConfirmation = false
)

// EnvPrefix is prepended to every environment override (BOORU_APIKEY, BOORU_DOWNLOAD_CONCURRENCY...).
const EnvPrefix = "BOORU"

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("indexurl", api.DefaultIndexURL)
	v.SetDefault("autocompleteurl", api.DefaultAutocompleteURL)
	v.SetDefault("apikey", "")
	v.SetDefault("userid", "")
	v.SetDefault("relayurl", "")
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("pagedelayms", DefaultPageDelayMs)
	v.SetDefault("pagesize", DefaultPageSize)

	// Proxy defaults
	v.SetDefault("proxy.address", "")
	v.SetDefault("proxy.auto", false)
	v.SetDefault("proxy.listurl", proxy.DefaultListURL)
	v.SetDefault("proxy.probeurl", proxy.DefaultProbeURL)
	v.SetDefault("proxy.listtimeoutsec", DefaultConfigProxyListTimeoutSec)
	v.SetDefault("proxy.probetimeoutsec", DefaultConfigProxyProbeTimeoutSec)

	// Download defaults
	v.SetDefault("download.tags", []string{})
	v.SetDefault("download.denytags", []string{})
	v.SetDefault("download.concurrency", DefaultConfigDownloadConcurrency)
	v.SetDefault("download.timeoutsec", DefaultConfigDownloadTimeoutSec)
	v.SetDefault("download.filterai", DefaultConfigDownloadFilterAI)
	v.SetDefault("download.atomicwrites", DefaultConfigDownloadAtomicWrites)
	v.SetDefault("download.skipconfirmation", DefaultConfigDownloadSkipConfirmation)

	// Relay defaults
	v.SetDefault("relay.addr", relay.DefaultAddr)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	// Global/Persistent Flags
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	SavePath            *string // --save-path
	APIClientTimeoutSec *int    // --api-timeout
	PageDelayMs         *int    // --page-delay
	APIKey              *string // --api-key
	UserID              *string // --user-id
	RelayURL            *string // --relay

	// Command-specific flags nested
	Proxy    *CliProxyFlags
	Download *CliDownloadFlags
	Relay    *CliRelayFlags
}

// CliProxyFlags holds proxy selection flags.
type CliProxyFlags struct {
	Address *string // --proxy
	Auto    *bool   // --auto-proxy
}

// CliDownloadFlags holds flags specific to the download command.
type CliDownloadFlags struct {
	Tags             *[]string
	DenyTags         *[]string // --deny
	Concurrency      *int      // -c
	TimeoutSec       *int      // --timeout
	FilterAI         *bool     // --filter-ai
	AtomicWrites     *bool     // --atomic
	SkipConfirmation *bool     // -y
}

// CliRelayFlags holds flags specific to the relay command.
type CliRelayFlags struct {
	Addr *string // --addr
}

// Initialize merges defaults, the .env file, the TOML config file,
// BOORU_* environment variables and CLI flags (highest precedence) and
// prepares the base HTTP transport.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	// .env only provides variables that are not already set
	if err := godotenv.Load(DefaultEnvFilePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("[Initialize] No %s file found.", DefaultEnvFilePath)
		} else {
			log.WithError(err).Warnf("[Initialize] Failed to load %s", DefaultEnvFilePath)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)

	// Determine config file path
	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults and CLI flags only.", actualConfigFilePath)
		} else {
			log.Warnf("[Initialize] Error reading config file '%s': %v. Using defaults and CLI flags only.", actualConfigFilePath, err)
		}
	} else {
		log.Infof("[Initialize] Successfully read config file: %s", v.ConfigFileUsed())
	}

	var finalCfg models.Config
	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&finalCfg, flags)

	if err := Validate(finalCfg); err != nil {
		return models.Config{}, nil, err
	}

	transport := setupTransport(finalCfg)

	log.Debugf("[Initialize] Final config: %+v", Redacted(finalCfg))
	return finalCfg, transport, nil
}

// applyFlags overrides cfg with every flag that was set.
func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.SavePath != nil {
		log.Debugf("[Initialize] Overriding SavePath from flag: '%s'", *flags.SavePath)
		cfg.SavePath = *flags.SavePath
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIClientTimeoutSec != nil {
		cfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.PageDelayMs != nil {
		log.Debugf("[Initialize] Overriding PageDelayMs from flag: %d", *flags.PageDelayMs)
		cfg.PageDelayMs = *flags.PageDelayMs
	}
	if flags.APIKey != nil {
		log.Debug("[Initialize] Overriding ApiKey from flag.")
		cfg.APIKey = *flags.APIKey
	}
	if flags.UserID != nil {
		cfg.UserID = *flags.UserID
	}
	if flags.RelayURL != nil {
		log.Debugf("[Initialize] Overriding RelayURL from flag: '%s'", *flags.RelayURL)
		cfg.RelayURL = *flags.RelayURL
	}

	if flags.Proxy != nil {
		if flags.Proxy.Address != nil {
			cfg.Proxy.Address = *flags.Proxy.Address
			log.Debugf("[Initialize] CLI Override: Proxy.Address = '%s'", cfg.Proxy.Address)
		}
		if flags.Proxy.Auto != nil {
			cfg.Proxy.Auto = *flags.Proxy.Auto
		}
	}

	if flags.Download != nil {
		if flags.Download.Tags != nil && len(*flags.Download.Tags) > 0 {
			cfg.Download.Tags = *flags.Download.Tags
			log.Debugf("[Initialize] CLI Override: Download.Tags = %v", cfg.Download.Tags)
		}
		if flags.Download.DenyTags != nil && len(*flags.Download.DenyTags) > 0 {
			cfg.Download.DenyTags = *flags.Download.DenyTags
			log.Debugf("[Initialize] CLI Override: Download.DenyTags = %v", cfg.Download.DenyTags)
		}
		if flags.Download.Concurrency != nil {
			cfg.Download.Concurrency = *flags.Download.Concurrency
			log.Debugf("[Initialize] CLI Override: Download.Concurrency = %d", cfg.Download.Concurrency)
		}
		if flags.Download.TimeoutSec != nil {
			cfg.Download.TimeoutSec = *flags.Download.TimeoutSec
		}
		if flags.Download.FilterAI != nil {
			cfg.Download.FilterAI = *flags.Download.FilterAI
		}
		if flags.Download.AtomicWrites != nil {
			cfg.Download.AtomicWrites = *flags.Download.AtomicWrites
		}
		if flags.Download.SkipConfirmation != nil {
			cfg.Download.SkipConfirmation = *flags.Download.SkipConfirmation
		}
	}

	if flags.Relay != nil && flags.Relay.Addr != nil {
		cfg.Relay.Addr = *flags.Relay.Addr
	}
}

// Validate rejects configurations that cannot work.
func Validate(cfg models.Config) error {
	var problems []string
	if cfg.SavePath == "" {
		problems = append(problems, "SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		problems = append(problems, fmt.Sprintf("PageSize must be between 1 and %d, got %d", MaxPageSize, cfg.PageSize))
	}
	if cfg.PageDelayMs < 0 {
		problems = append(problems, fmt.Sprintf("PageDelayMs cannot be negative, got %d", cfg.PageDelayMs))
	}
	if cfg.Download.Concurrency < 1 {
		problems = append(problems, fmt.Sprintf("Download.Concurrency must be at least 1, got %d", cfg.Download.Concurrency))
	}
	if cfg.APIClientTimeoutSec <= 0 || cfg.Download.TimeoutSec <= 0 {
		problems = append(problems, "timeouts must be positive")
	}
	if cfg.Proxy.Address != "" && cfg.Proxy.Auto {
		problems = append(problems, "Proxy.Address and Proxy.Auto are mutually exclusive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// setupTransport returns the base transport, wrapped with API request
// logging when enabled.
func setupTransport(cfg models.Config) http.RoundTripper {
	baseTransport := http.DefaultTransport
	if !cfg.LogApiRequests {
		return baseTransport
	}

	logFilePath := "api.log"
	if _, statErr := os.Stat(cfg.SavePath); statErr == nil {
		logFilePath = filepath.Join(cfg.SavePath, logFilePath)
	} else {
		log.Warnf("SavePath '%s' not found, saving api.log to current directory.", cfg.SavePath)
	}
	log.Infof("API logging to file: %s", logFilePath)

	loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
	if err != nil {
		log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		return baseTransport
	}
	return loggingTransport
}

// Redacted returns a copy of cfg with credentials masked.
func Redacted(cfg models.Config) models.Config {
	if cfg.APIKey != "" {
		cfg.APIKey = "********"
	}
	return cfg
}
