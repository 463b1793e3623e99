package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-booru-download/internal/api"
	"go-booru-download/internal/helpers"
	"go-booru-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Custom Downloader Errors
var (
	ErrFileSystem      = errors.New("filesystem error") // Covers stat, create, write, rename
	ErrInvalidFilename = errors.New("cannot derive filename from URL")
)

// DefaultChunkSize is the read/write buffer used while streaming a file.
const DefaultChunkSize = 8192

// Downloader fetches single files into a destination directory.
type Downloader struct {
	client       *http.Client
	relayURL     string // when set, files are fetched through <relay>/image?url=
	chunkSize    int
	atomicWrites bool
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, relayURL string, atomicWrites bool) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &Downloader{
		client:       client,
		relayURL:     strings.TrimRight(relayURL, "/"),
		chunkSize:    DefaultChunkSize,
		atomicWrites: atomicWrites,
	}
}

// FilenameFromURL returns the last path segment of rawURL, still
// percent-encoded, with any query string or fragment removed.
func FilenameFromURL(rawURL string) (string, error) {
	var p string
	if u, err := url.Parse(rawURL); err == nil {
		p = u.EscapedPath()
	} else {
		p = rawURL
		if i := strings.IndexAny(p, "?#"); i != -1 {
			p = p[:i]
		}
	}

	name := path.Base(p)
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %s", ErrInvalidFilename, rawURL)
	}
	return name, nil
}

// sourceURL returns the URL actually requested for rawURL.
func (d *Downloader) sourceURL(rawURL string) string {
	if d.relayURL == "" {
		return rawURL
	}
	return d.relayURL + "/image?url=" + url.QueryEscape(rawURL)
}

// Download fetches rawURL into destDir. A file already present at the
// target path is reported as skipped without any network request.
func (d *Downloader) Download(ctx context.Context, rawURL, destDir string) models.DownloadOutcome {
	start := time.Now()
	outcome := models.DownloadOutcome{Job: models.DownloadJob{URL: rawURL}}

	finish := func(status models.DownloadStatus, err error) models.DownloadOutcome {
		outcome.Status = status
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome
	}

	name, err := FilenameFromURL(rawURL)
	if err != nil {
		return finish(models.StatusFailed, err)
	}
	target := filepath.Join(destDir, name)
	outcome.Job.Destination = target

	if _, err := os.Stat(target); err == nil {
		log.Debugf("File %s already exists, skipping.", target)
		return finish(models.StatusSkipped, nil)
	} else if !os.IsNotExist(err) {
		return finish(models.StatusFailed, fmt.Errorf("%w: checking %s: %w", ErrFileSystem, target, err))
	}

	resp, err := api.Get(ctx, d.client, d.sourceURL(rawURL), nil)
	if err != nil {
		return finish(models.StatusFailed, err)
	}
	defer resp.Body.Close()

	written, digest, err := d.writeBody(resp.Body, rawURL, target)
	outcome.Bytes = written
	if err != nil {
		return finish(models.StatusFailed, err)
	}

	outcome.Digest = digest
	log.Debugf("Saved %s (%s, blake3 %s)", target, helpers.BytesToSize(uint64(written)), digest)
	return finish(models.StatusCompleted, nil)
}

// writeBody streams body into target and returns the byte count and the
// BLAKE3 digest of what was written.
func (d *Downloader) writeBody(body io.Reader, rawURL, target string) (int64, string, error) {
	var (
		file *os.File
		err  error
	)
	if d.atomicWrites {
		file, err = os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	} else {
		// #nosec G304
		file, err = os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	}
	if err != nil {
		return 0, "", fmt.Errorf("%w: creating %s: %w", ErrFileSystem, target, err)
	}

	hasher := blake3.New()
	counter := &helpers.CounterWriter{Writer: io.MultiWriter(file, hasher)}
	src := &trackingReader{r: body}

	_, copyErr := io.CopyBuffer(counter, src, make([]byte, d.chunkSize))
	closeErr := file.Close()
	written := int64(counter.Total)

	switch {
	case copyErr != nil && src.err != nil:
		err = &api.TransportError{URL: rawURL, Err: fmt.Errorf("reading body: %w", src.err)}
	case copyErr != nil:
		err = fmt.Errorf("%w: writing %s: %w", ErrFileSystem, file.Name(), copyErr)
	case closeErr != nil:
		err = fmt.Errorf("%w: closing %s: %w", ErrFileSystem, file.Name(), closeErr)
	}

	if err != nil {
		if d.atomicWrites {
			if removeErr := os.Remove(file.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", file.Name())
			}
		} else {
			log.Warnf("Partial file left at %s after %s", target, helpers.BytesToSize(uint64(written)))
		}
		return written, "", err
	}

	if d.atomicWrites {
		if err := os.Rename(file.Name(), target); err != nil {
			_ = os.Remove(file.Name())
			return written, "", fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, file.Name(), target, err)
		}
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// trackingReader remembers the first read error so transport failures can be
// told apart from write failures after a copy.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
