package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-booru-download/internal/models"
	"go-booru-download/internal/paths"
)

// createTempConfig writes content to a config.toml in a fresh temp dir.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCommand executes the root command in-process with stdin and returns stdout.
func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of c and its children to its default so
// values from an earlier run do not leak into the next one.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace([]string{})
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func parseShowConfigOutput(t *testing.T, stdout string) models.Config {
	t.Helper()
	var cfg models.Config
	require.NoError(t, json.Unmarshal([]byte(stdout), &cfg), "show-config output is not JSON: %s", stdout)
	return cfg
}

func TestShowConfig_Defaults(t *testing.T) {
	cfgPath := createTempConfig(t, "")

	stdout, err := runCommand(t, "", "--config", cfgPath, "debug", "show-config")
	require.NoError(t, err)

	cfg := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "downloads", cfg.SavePath)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 1100, cfg.PageDelayMs)
	assert.Equal(t, 8, cfg.Download.Concurrency)
	assert.Equal(t, ":8787", cfg.Relay.Addr)
	assert.Empty(t, cfg.Proxy.Address)
}

func TestShowConfig_FileAndFlagOverride(t *testing.T) {
	cfgPath := createTempConfig(t, `
SavePath = "/tmp/from-file"
ApiKey = "secret"
UserID = "42"
PageDelayMs = 2000

[Download]
Concurrency = 3
DenyTags = ["sketch"]
`)

	stdout, err := runCommand(t, "", "--config", cfgPath, "--page-delay", "0", "debug", "show-config")
	require.NoError(t, err)

	cfg := parseShowConfigOutput(t, stdout)
	assert.Equal(t, "/tmp/from-file", cfg.SavePath)
	assert.Equal(t, 0, cfg.PageDelayMs, "flag should override the config file")
	assert.Equal(t, 3, cfg.Download.Concurrency)
	assert.Equal(t, []string{"sketch"}, cfg.Download.DenyTags)
	assert.Equal(t, "********", cfg.APIKey, "API key must be masked")
	assert.Equal(t, "42", cfg.UserID)
}

func TestShowConfig_TOML(t *testing.T) {
	cfgPath := createTempConfig(t, `SavePath = "/tmp/toml-out"`)

	stdout, err := runCommand(t, "", "--config", cfgPath, "debug", "show-config", "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, stdout, `SavePath = "/tmp/toml-out"`)
	assert.Contains(t, stdout, "[Download]")
}

func TestShowConfig_InvalidConfig(t *testing.T) {
	cfgPath := createTempConfig(t, "PageSize = 5000\n")

	_, err := runCommand(t, "", "--config", cfgPath, "debug", "show-config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PageSize")
}

func TestPrintApiUrl(t *testing.T) {
	cfgPath := createTempConfig(t, `
SavePath = "/data"
IndexURL = "https://booru.example/index.php?page=dapi&s=post&q=index"
`)

	stdout, err := runCommand(t, "", "--config", cfgPath, "debug", "print-api-url",
		"cat_ears", "--deny", "monochrome", "--filter-ai", "--pid", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "limit=0")
	assert.Contains(t, lines[0], "pid=0")
	assert.Contains(t, lines[1], "limit=1000")
	assert.Contains(t, lines[1], "pid=2")
	assert.Contains(t, lines[1], "page=dapi")
	assert.Contains(t, lines[1], "tags=cat_ears+-monochrome+-ai_generated+-ai_assisted")
	assert.NotContains(t, lines[1], "api_key")
	assert.Equal(t, "dest:  "+filepath.Join("/data", "cat_ears"), lines[2])
}

func TestPrintApiUrl_EmptyQuery(t *testing.T) {
	cfgPath := createTempConfig(t, "")

	_, err := runCommand(t, "", "--config", cfgPath, "debug", "print-api-url", "--", "-dog")
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

// fakeBooru serves a two-post index, the matching images and autocomplete.
type fakeBooru struct {
	*httptest.Server
	indexHits atomic.Int32
	imageHits atomic.Int32
}

func newFakeBooru(t *testing.T) *fakeBooru {
	t.Helper()
	fb := &fakeBooru{}
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		fb.indexHits.Add(1)
		q := r.URL.Query()
		w.Header().Set("Content-Type", "text/xml")
		switch {
		case q.Get("limit") == "0":
			fmt.Fprint(w, `<posts count="2" offset="0"></posts>`)
		case q.Get("pid") == "0":
			fmt.Fprintf(w, `<posts count="2" offset="0"><post file_url="%[1]s/images/a.jpg"/><post file_url="%[1]s/images/b.png"/></posts>`, fb.URL)
		default:
			fmt.Fprint(w, `<posts count="2" offset="1000"></posts>`)
		}
	})
	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		fb.imageHits.Add(1)
		fmt.Fprint(w, "image bytes for "+r.URL.Path)
	})
	mux.HandleFunc("/autocomplete.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"label":"%[1]s_ears (120)","value":"%[1]s_ears"}]`, r.URL.Query().Get("q"))
	})
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBooru) config(t *testing.T, savePath string) string {
	return createTempConfig(t, fmt.Sprintf(`
SavePath = %q
IndexURL = "%s/index.php?page=dapi&s=post&q=index"
AutocompleteURL = "%s/autocomplete.php"
PageDelayMs = 0
`, savePath, fb.URL, fb.URL))
}

func TestDownload_EndToEnd(t *testing.T) {
	fb := newFakeBooru(t)
	saveDir := t.TempDir()

	stdout, err := runCommand(t, "", "--config", fb.config(t, saveDir), "download", "cat", "-y", "-c", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Complete")

	dest := paths.Destination(saveDir, models.NewTagQuery([]string{"cat"}, nil, false))
	for _, name := range []string{"a.jpg", "b.png"} {
		data, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err, "expected %s to be downloaded", name)
		assert.Equal(t, "image bytes for /images/"+name, string(data))
	}
	assert.Equal(t, int32(2), fb.indexHits.Load(), "one count request and one page request")

	assert.Equal(t, int32(2), fb.imageHits.Load())

	// A second run skips the existing files without fetching them.
	stdout, err = runCommand(t, "", "--config", fb.config(t, saveDir), "download", "cat", "-y")
	require.NoError(t, err)
	assert.Contains(t, stdout, "2/2 (downloaded 0, skipped 2, failed 0)")
	assert.Equal(t, int32(2), fb.imageHits.Load(), "existing files must not be fetched again")
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDownload_ConfirmationDeclined(t *testing.T) {
	fb := newFakeBooru(t)
	saveDir := t.TempDir()

	stdout, err := runCommand(t, "n\n", "--config", fb.config(t, saveDir), "download", "cat")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Proceed with these settings?")
	assert.Equal(t, int32(0), fb.indexHits.Load())
	_, statErr := os.Stat(filepath.Join(saveDir, "cat"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_NoTags(t *testing.T) {
	fb := newFakeBooru(t)

	_, err := runCommand(t, "", "--config", fb.config(t, t.TempDir()), "download", "-y")
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
	assert.Equal(t, int32(0), fb.indexHits.Load())
}

func TestTags(t *testing.T) {
	fb := newFakeBooru(t)

	stdout, err := runCommand(t, "", "--config", fb.config(t, t.TempDir()), "tags", "cat")
	require.NoError(t, err)
	assert.Contains(t, stdout, "TAG")
	assert.Contains(t, stdout, "cat_ears")
	assert.Contains(t, stdout, "cat_ears (120)")
}

func TestProxyFind_NoWorkingProxy(t *testing.T) {
	list := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "127.0.0.1:1")
	}))
	defer list.Close()

	cfgPath := createTempConfig(t, fmt.Sprintf(`
[Proxy]
ListURL = "%s"
ProbeURL = "http://probe.invalid/"
ProbeTimeoutSec = 1
`, list.URL))

	_, err := runCommand(t, "", "--config", cfgPath, "proxy", "find")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy")
}
