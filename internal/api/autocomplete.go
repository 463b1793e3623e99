package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go-booru-download/internal/models"
)

// Suggest returns tag completions for prefix.
func (c *Client) Suggest(ctx context.Context, prefix string) ([]models.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, &models.ValidationError{Message: "autocomplete needs a non-empty prefix"}
	}

	resp, err := Get(ctx, c.HttpClient, c.AutocompleteURL, url.Values{"q": {prefix}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: c.AutocompleteURL, Err: fmt.Errorf("reading response body: %w", err)}
	}

	var suggestions []models.Suggestion
	if err := json.Unmarshal(body, &suggestions); err != nil {
		return nil, &ParseError{Snippet: snippet(body), Err: err}
	}
	return suggestions, nil
}
