package api

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-booru-download/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultIndexURL        = "https://api.rule34.xxx/index.php?page=dapi&s=post&q=index"
	DefaultAutocompleteURL = "https://api.rule34.xxx/autocomplete.php"
	DefaultPageSize        = 1000
	DefaultPageDelay       = 1100 * time.Millisecond
)

// Client queries the post index and autocomplete endpoints.
type Client struct {
	IndexURL        string
	AutocompleteURL string
	APIKey          string
	UserID          string
	PageSize        int
	PageDelay       time.Duration
	HttpClient      *http.Client
}

// NewClient creates an index client from cfg. When a relay is configured
// the index is reached through <relay>/api.
func NewClient(httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	c := &Client{
		IndexURL:        cfg.IndexURL,
		AutocompleteURL: cfg.AutocompleteURL,
		APIKey:          cfg.APIKey,
		UserID:          cfg.UserID,
		PageSize:        cfg.PageSize,
		PageDelay:       time.Duration(cfg.PageDelayMs) * time.Millisecond,
		HttpClient:      httpClient,
	}
	if c.IndexURL == "" {
		c.IndexURL = DefaultIndexURL
	}
	if c.AutocompleteURL == "" {
		c.AutocompleteURL = DefaultAutocompleteURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if cfg.RelayURL != "" {
		c.IndexURL = strings.TrimRight(cfg.RelayURL, "/") + "/api"
		log.Debugf("Index requests go through relay %s", c.IndexURL)
	}
	return c
}

// IndexParams returns the query parameters for one index request.
func (c *Client) IndexParams(expr string, limit, pid int) url.Values {
	values := url.Values{}
	values.Set("tags", expr)
	values.Set("limit", strconv.Itoa(limit))
	values.Set("pid", strconv.Itoa(pid))
	if c.APIKey != "" && c.UserID != "" {
		values.Set("api_key", c.APIKey)
		values.Set("user_id", c.UserID)
	}
	return values
}

// PageURL returns the full URL of one index request.
func (c *Client) PageURL(expr string, limit, pid int) (string, error) {
	return BuildURL(c.IndexURL, c.IndexParams(expr, limit, pid))
}

// CountPosts returns the number of posts matching expr.
func (c *Client) CountPosts(ctx context.Context, expr string) (int, error) {
	resp, err := c.fetchIndex(ctx, c.IndexParams(expr, 0, 0))
	if err != nil {
		return 0, err
	}
	if resp.Count == "" {
		return 0, &ParseError{Err: errors.New("response has no count attribute")}
	}
	count, err := strconv.Atoi(strings.TrimSpace(resp.Count))
	if err != nil || count < 0 {
		return 0, &ParseError{Snippet: resp.Count, Err: fmt.Errorf("invalid count attribute: %q", resp.Count)}
	}
	return count, nil
}

// CollectURLs walks pages of PageSize posts starting at pid 0 until total
// URLs were collected or a page comes back empty. Requests are spaced by
// PageDelay. Any failure discards what was collected so far.
func (c *Client) CollectURLs(ctx context.Context, expr string, total int) ([]string, error) {
	limiter := c.pageLimiter()
	urls := []string{}

	for pid := 0; len(urls) < total; pid++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := c.fetchIndex(ctx, c.IndexParams(expr, c.PageSize, pid))
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", pid, err)
		}
		if len(page.Posts) == 0 {
			log.Infof("Page %d returned no posts, stopping at %d of %d URLs", pid, len(urls), total)
			break
		}

		for _, post := range page.Posts {
			if post.FileURL != "" {
				urls = append(urls, post.FileURL)
			}
		}
		log.Infof("Fetched %d / %d URLs...", len(urls), total)
	}

	return urls, nil
}

// FetchAllURLs validates q, counts its matches and collects every file URL.
func (c *Client) FetchAllURLs(ctx context.Context, q models.TagQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	expr := q.Expression()

	total, err := c.CountPosts(ctx, expr)
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d posts for %q", total, expr)
	if total == 0 {
		return []string{}, nil
	}
	return c.CollectURLs(ctx, expr, total)
}

func (c *Client) pageLimiter() *rate.Limiter {
	if c.PageDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.PageDelay), 1)
}

func (c *Client) fetchIndex(ctx context.Context, params url.Values) (*models.PostsResponse, error) {
	resp, err := Get(ctx, c.HttpClient, c.IndexURL, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: redactURL(resp.Request.URL.String()), Err: fmt.Errorf("reading response body: %w", err)}
	}
	return ParsePostsResponse(body)
}

// ParsePostsResponse classifies an index response body.
func ParsePostsResponse(body []byte) (*models.PostsResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) >= 5 && strings.EqualFold(string(trimmed[:5]), "error") {
		return nil, &ApiError{Message: snippet(trimmed)}
	}

	var resp models.PostsResponse
	if err := xml.Unmarshal(trimmed, &resp); err != nil {
		return nil, &ParseError{Snippet: snippet(trimmed), Err: err}
	}

	if strings.EqualFold(resp.Success, "false") {
		msg := resp.Reason
		if msg == "" {
			msg = strings.TrimSpace(resp.Message)
		}
		if msg == "" {
			msg = "request rejected"
		}
		return nil, &ApiError{Message: msg}
	}
	return &resp, nil
}
