// Package scrape turns web pages into markdown, either through the hosted scrape API or by
// fetching the page directly.
package scrape

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/apiclient"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

type Page struct {
	URL      string
	Title    string
	Markdown string
}

type SearchResult struct {
	URL         string
	Title       string
	Description string
}

// Scraper fetches a page as markdown.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// Client talks to the hosted scrape API (/v1/scrape, /v1/search, /v1/map).
type Client struct {
	apiKey string
	api    *apiclient.Client
}

func NewClient(cfg config.ScrapeConfig) *Client {
	return NewClientWithRetry(cfg, retry.Config{
		MaxAttempts:    2,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	})
}

func NewClientWithRetry(cfg config.ScrapeConfig, retryCfg retry.Config) *Client {
	api := apiclient.New("scrape", apiclient.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		Idempotent: true,
		Retry:      retryCfg,
	})

	logger.Info("Scrape client initialized", zap.String("base_url", cfg.BaseURL))

	return &Client{apiKey: cfg.APIKey, api: api}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) Scrape(ctx context.Context, url string) (*Page, error) {
	if err := config.RequireKey("scrape.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	req := map[string]any{
		"url":             url,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Markdown string `json:"markdown"`
			Metadata struct {
				Title     string `json:"title"`
				SourceURL string `json:"sourceURL"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := c.api.Post(ctx, "/v1/scrape", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", url, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to scrape %s: %s", url, resp.Error)
	}

	logger.Debug("Page scraped", zap.String("url", url), zap.Int("markdown_length", len(resp.Data.Markdown)))

	return &Page{URL: url, Title: resp.Data.Metadata.Title, Markdown: resp.Data.Markdown}, nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if err := config.RequireKey("scrape.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"data"`
	}
	if err := c.api.Post(ctx, "/v1/search", map[string]any{"query": query, "limit": limit}, &resp); err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to search: %s", resp.Error)
	}

	results := make([]SearchResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		results = append(results, SearchResult{URL: d.URL, Title: d.Title, Description: d.Description})
	}

	logger.Info("Web search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// Map lists URLs of siteURL, narrowed to those relevant to search.
func (c *Client) Map(ctx context.Context, siteURL, search string, limit int) ([]string, error) {
	if err := config.RequireKey("scrape.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	req := map[string]any{"url": siteURL, "limit": limit}
	if search != "" {
		req["search"] = search
	}
	var resp struct {
		Success bool     `json:"success"`
		Error   string   `json:"error"`
		Links   []string `json:"links"`
	}
	if err := c.api.Post(ctx, "/v1/map", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", siteURL, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to map %s: %s", siteURL, resp.Error)
	}
	return resp.Links, nil
}
