package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-booru-download/internal/api"
	"go-booru-download/internal/downloader"
	"go-booru-download/internal/helpers"
	"go-booru-download/internal/models"
	"go-booru-download/internal/paths"
	"go-booru-download/internal/proxy"
	"go-booru-download/internal/session"
)

// Download and query flags
var (
	denyTagsFlag        []string
	filterAIFlag        bool
	proxyAddressFlag    string
	autoProxyFlag       bool
	concurrencyFlag     int
	downloadTimeoutFlag int
	atomicWritesFlag    bool
	skipConfirmFlag     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [tags...]",
	Short: "Download every post matching a tag query",
	Long: `Counts the posts matching the given tags, collects their file URLs page
by page and downloads them into <save-path>/<tag_directory>. Files that
already exist are skipped. Prefix a tag with '-' to exclude it.`,
	Annotations: map[string]string{"tagArgs": "true"},
	RunE:        runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	addQueryFlags(downloadCmd)
	addProxyFlags(downloadCmd)
	downloadCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 8, "Number of parallel downloads (overrides config)")
	downloadCmd.Flags().IntVar(&downloadTimeoutFlag, "timeout", 30, "Per-file download timeout in seconds (overrides config)")
	downloadCmd.Flags().BoolVar(&atomicWritesFlag, "atomic", false, "Write to a temporary file and rename on success")
	downloadCmd.Flags().BoolVarP(&skipConfirmFlag, "yes", "y", false, "Skip the confirmation prompt")
}

// addQueryFlags registers the flags that shape a tag query.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&denyTagsFlag, "deny", nil, "Tags to exclude (comma separated or repeated)")
	cmd.Flags().BoolVar(&filterAIFlag, "filter-ai", false, "Exclude AI generated and AI assisted posts")
}

func addProxyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&proxyAddressFlag, "proxy", "", "HTTP proxy as host:port for every request")
	cmd.Flags().BoolVar(&autoProxyFlag, "auto-proxy", false, "Find a working proxy from the public list before searching")
}

// buildQuery assembles the tag query from the loaded configuration.
func buildQuery(cfg models.Config) models.TagQuery {
	return models.NewTagQuery(cfg.Download.Tags, cfg.Download.DenyTags, cfg.Download.FilterAI)
}

// newServices wires the real index client, downloader and proxy resolver.
func newServices(cfg models.Config) session.Services {
	apiTimeout := time.Duration(cfg.APIClientTimeoutSec) * time.Second
	downloadTimeout := time.Duration(cfg.Download.TimeoutSec) * time.Second
	return session.Services{
		Resolver: proxy.NewResolver(cfg.Proxy, globalHttpTransport),
		NewIndex: func(p *models.Proxy) session.URLSource {
			return api.NewClient(api.NewHTTPClient(globalHttpTransport, p, apiTimeout), cfg)
		},
		NewFetcher: func(p *models.Proxy) session.FileFetcher {
			return downloader.NewDownloader(api.NewHTTPClient(globalHttpTransport, p, downloadTimeout), cfg.RelayURL, cfg.Download.AtomicWrites)
		},
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	query := buildQuery(cfg)
	if err := query.Validate(); err != nil {
		return err
	}
	destination := paths.Destination(cfg.SavePath, query)

	if !cfg.Download.SkipConfirmation {
		if !confirmDownload(cmd.InOrStdin(), cmd.OutOrStdout(), cfg, query, destination) {
			log.Info("Operation canceled by user.")
			return nil
		}
	} else {
		log.Info("Skipping confirmation due to --yes flag or config setting.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan session.Event, 64)
	orch := session.New(newServices(cfg), session.Options{
		Concurrency: cfg.Download.Concurrency,
		Events:      events,
	})
	defer orch.Close()
	if p := activeProxy(cfg); p != nil {
		orch.SetProxy(p)
	}

	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		showProgress(cmd.OutOrStdout(), events)
	}()

	s, err := orch.Run(ctx, session.Request{
		Query:        query,
		Destination:  destination,
		ResolveProxy: cfg.Proxy.Auto,
	})
	close(events)
	<-displayDone

	if err != nil {
		return err
	}

	var written int64
	for _, o := range s.Outcomes {
		written += o.Bytes
	}
	if written > 0 {
		log.Infof("Wrote %s to %s", helpers.BytesToSize(uint64(written)), s.Destination)
	}
	if s.Progress.Failed > 0 {
		log.Warnf("%d downloads failed, run the same query again to retry them", s.Progress.Failed)
	}
	return nil
}

// confirmDownload prints the effective settings and asks for a y/N answer.
func confirmDownload(in io.Reader, out io.Writer, cfg models.Config, query models.TagQuery, destination string) bool {
	summary := struct {
		Query       models.TagQuery `json:"query"`
		Expression  string          `json:"expression"`
		Destination string          `json:"destination"`
		Concurrency int             `json:"concurrency"`
		Proxy       string          `json:"proxy"`
		AutoProxy   bool            `json:"autoProxy"`
		Relay       string          `json:"relay,omitempty"`
	}{
		Query:       query,
		Expression:  query.Expression(),
		Destination: destination,
		Concurrency: cfg.Download.Concurrency,
		Proxy:       activeProxy(cfg).String(),
		AutoProxy:   cfg.Proxy.Auto,
		Relay:       cfg.RelayURL,
	}
	summaryJSON, _ := json.MarshalIndent(summary, "  ", "  ")
	fmt.Fprintln(out, "\n  --- Download Settings ---")
	fmt.Fprintln(out, "  "+string(summaryJSON))

	reader := bufio.NewReader(in)
	fmt.Fprint(out, "\nProceed with these settings? (y/N): ")
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// showProgress renders session events on a live-updating line until
// events is closed.
func showProgress(out io.Writer, events <-chan session.Event) {
	writer := uilive.New()
	writer.Out = out
	writer.Start()
	defer writer.Stop()

	state := models.StateIdle
	var progress models.SessionProgress
	for ev := range events {
		switch ev.Type {
		case session.EventState:
			state = ev.State
		case session.EventProgress:
			progress = ev.Progress
		case session.EventOutcome:
			continue
		}
		if state == models.StateDownloading || progress.Total > 0 {
			fmt.Fprintf(writer, "[%s] %d/%d (downloaded %d, skipped %d, failed %d)\n",
				state, progress.Completed, progress.Total, progress.Downloaded, progress.Skipped, progress.Failed)
		} else {
			fmt.Fprintf(writer, "[%s]\n", state)
		}
	}
}
