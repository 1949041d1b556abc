package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/logger"
)

const maxPageBytes = 2 << 20

// Fetcher downloads pages itself and converts them to markdown.
type Fetcher struct {
	httpClient  *http.Client
	userAgent   string
	mdConverter *converter.Converter
}

func NewFetcher(userAgent string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (f *Fetcher) Scrape(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, iframe, svg").Remove()

	// mailto links often carry the only contact address on the page
	var mailtos []string
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if addr != "" {
			mailtos = append(mailtos, addr)
		}
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	markdown, err := f.mdConverter.ConvertString(body, converter.WithDomain(url))
	if err != nil || strings.TrimSpace(markdown) == "" {
		logger.Debug("Markdown conversion fell back to text", zap.String("url", url), zap.Error(err))
		markdown = strings.TrimSpace(doc.Find("body").Text())
	}
	if len(mailtos) > 0 {
		markdown += "\n\n" + strings.Join(mailtos, "\n")
	}

	return &Page{URL: url, Title: title, Markdown: strings.TrimSpace(markdown)}, nil
}

// Chain tries each scraper in order and returns the first success.
type Chain []Scraper

func (c Chain) Scrape(ctx context.Context, url string) (*Page, error) {
	var lastErr error
	for _, s := range c {
		if s == nil {
			continue
		}
		page, err := s.Scrape(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		logger.Debug("Scraper failed, trying next", zap.String("url", url), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no scraper configured for %s", url)
	}
	return nil, lastErr
}
