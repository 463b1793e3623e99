package models

import (
	"encoding/xml"
	"net/url"
	"time"
)

type (
	// Config holds the application's configuration settings.
	Config struct {
		SavePath            string         `toml:"SavePath" json:"SavePath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		IndexURL            string         `toml:"IndexURL" json:"IndexURL"`
		AutocompleteURL     string         `toml:"AutocompleteURL" json:"AutocompleteURL"`
		APIKey              string         `toml:"ApiKey" json:"ApiKey"`
		UserID              string         `toml:"UserID" json:"UserID"`
		RelayURL            string         `toml:"RelayURL" json:"RelayURL"` // Base URL of a relay exposing /api and /image
		Proxy               ProxyConfig    `toml:"Proxy" json:"Proxy"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
		Relay               RelayConfig    `toml:"Relay" json:"Relay"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		PageDelayMs         int            `toml:"PageDelayMs" json:"PageDelayMs"`
		PageSize            int            `toml:"PageSize" json:"PageSize"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ProxyConfig holds settings for static and automatically discovered proxies.
	ProxyConfig struct {
		Address         string `toml:"Address" json:"Address"` // host:port, empty means direct connection
		ListURL         string `toml:"ListURL" json:"ListURL"`
		ProbeURL        string `toml:"ProbeURL" json:"ProbeURL"`
		ListTimeoutSec  int    `toml:"ListTimeoutSec" json:"ListTimeoutSec"`
		ProbeTimeoutSec int    `toml:"ProbeTimeoutSec" json:"ProbeTimeoutSec"`
		Auto            bool   `toml:"Auto" json:"Auto"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		// Slices first
		Tags     []string `toml:"Tags" json:"Tags"`
		DenyTags []string `toml:"DenyTags" json:"DenyTags"`
		// Integers
		Concurrency int `toml:"Concurrency" json:"Concurrency"`
		TimeoutSec  int `toml:"TimeoutSec" json:"TimeoutSec"`
		// Bools
		FilterAI         bool `toml:"FilterAI" json:"FilterAI"`
		AtomicWrites     bool `toml:"AtomicWrites" json:"AtomicWrites"`
		SkipConfirmation bool `toml:"SkipConfirmation" json:"SkipConfirmation"`
	}

	// RelayConfig holds settings for the 'relay' command.
	RelayConfig struct {
		Addr string `toml:"Addr" json:"Addr"`
	}

	// Proxy is an HTTP proxy used for every outbound request of a session.
	// A nil *Proxy means a direct connection.
	Proxy struct {
		Address string `json:"address"` // host:port
	}

	// PostRecord is the subset of post metadata needed downstream.
	PostRecord struct {
		FileURL string `xml:"file_url,attr"`
	}

	// PostsResponse is the XML document returned by the index endpoint.
	// The root element name varies ("posts" on success, "response" on failure).
	PostsResponse struct {
		XMLName xml.Name
		Count   string       `xml:"count,attr"`
		Success string       `xml:"success,attr"`
		Reason  string       `xml:"reason,attr"`
		Message string       `xml:",chardata"`
		Posts   []PostRecord `xml:"post"`
	}

	// Suggestion is a single autocomplete entry.
	Suggestion struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}

	// DownloadJob is a single (source URL, destination path) pair.
	DownloadJob struct {
		URL         string
		Destination string
	}

	// DownloadOutcome is the terminal report of one DownloadJob.
	DownloadOutcome struct {
		Job      DownloadJob
		Status   DownloadStatus
		Digest   string // BLAKE3 hex of the bytes written, empty unless completed
		Err      error
		Bytes    int64
		Duration time.Duration
	}

	// SessionProgress tracks download completion for one session.
	SessionProgress struct {
		Total      int `json:"total"`
		Completed  int `json:"completed"`
		Downloaded int `json:"downloaded"`
		Skipped    int `json:"skipped"`
		Failed     int `json:"failed"`
	}
)

// DownloadStatus is the terminal state of a DownloadJob.
type DownloadStatus string

const (
	StatusSkipped   DownloadStatus = "skipped"
	StatusCompleted DownloadStatus = "completed"
	StatusFailed    DownloadStatus = "failed"
)

// URL returns the proxy address as an http:// URL suitable for http.ProxyURL.
func (p *Proxy) URL() *url.URL {
	if p == nil || p.Address == "" {
		return nil
	}
	return &url.URL{Scheme: "http", Host: p.Address}
}

func (p *Proxy) String() string {
	if p == nil || p.Address == "" {
		return "direct"
	}
	return p.Address
}

// Record counts one reported outcome. Every status counts towards Completed.
func (sp *SessionProgress) Record(status DownloadStatus) {
	switch status {
	case StatusCompleted:
		sp.Downloaded++
	case StatusSkipped:
		sp.Skipped++
	default:
		sp.Failed++
	}
	sp.Completed++
}

// Done reports whether every expected download has reported an outcome.
func (sp SessionProgress) Done() bool {
	return sp.Completed >= sp.Total
}
