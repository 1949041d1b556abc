// Package newsroom watches the carrier's newsroom for fiber launch announcements and tags the
// leads in the ZIP codes those articles name.
package newsroom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/graph/neo4j"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/scrape"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
)

const mapLinkLimit = 200

// Source finds and fetches newsroom pages.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]scrape.SearchResult, error)
	Map(ctx context.Context, siteURL, search string, limit int) ([]string, error)
	Scrape(ctx context.Context, url string) (*scrape.Page, error)
}

type Store interface {
	ScannedURLs(ctx context.Context, urls []string) (map[string]bool, error)
	UpsertScan(ctx context.Context, scan *models.ScanRecord) error
	TagFiberLaunchZips(ctx context.Context, zips []string, source string) (int, error)
}

// SignalGraph is optional; a nil graph skips graph writes.
type SignalGraph interface {
	RecordArticle(ctx context.Context, a neo4j.ArticleSignal) error
}

type ArticleSummary struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	PublishDate string   `json:"publishDate,omitempty"`
	Locations   []string `json:"locations"`
	PlaceNames  []string `json:"placeNames,omitempty"`
	ZipCodes    []string `json:"zipCodes"`
	LeadsTagged int      `json:"leadsTagged"`
}

type Result struct {
	ArticlesFound      int
	NewArticlesScanned int
	AlreadyScanned     int
	TotalZipCodesFound int
	Articles           []ArticleSummary
	Errors             []string
}

type Scanner struct {
	source   Source
	resolver *Resolver
	store    Store
	graph    SignalGraph
	cfg      config.NewsroomConfig
	now      func() time.Time
}

func NewScanner(source Source, resolver *Resolver, store Store, graph SignalGraph, cfg config.NewsroomConfig) *Scanner {
	return &Scanner{
		source:   source,
		resolver: resolver,
		store:    store,
		graph:    graph,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Scan runs one newsroom pass. A missing scrape or geocoding credential aborts the pass; any
// other per-article failure is collected and the pass continues.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := s.scan(ctx)
	metrics.ObserveJob("newsroom", start, err)
	return res, err
}

func (s *Scanner) scan(ctx context.Context) (*Result, error) {
	res := &Result{}

	candidates, err := s.discover(ctx, res)
	if err != nil {
		return res, err
	}
	res.ArticlesFound = len(candidates)

	scanned, err := s.store.ScannedURLs(ctx, candidates)
	if err != nil {
		return res, fmt.Errorf("failed to load scanned urls: %w", err)
	}

	var fresh []string
	for _, u := range candidates {
		if scanned[u] {
			res.AlreadyScanned++
			continue
		}
		fresh = append(fresh, u)
	}
	if s.cfg.ArticleBatch > 0 && len(fresh) > s.cfg.ArticleBatch {
		fresh = fresh[:s.cfg.ArticleBatch]
	}

	logger.Info("Newsroom scan starting",
		zap.Int("candidates", len(candidates)),
		zap.Int("already_scanned", res.AlreadyScanned),
		zap.Int("batch", len(fresh)),
	)

	for _, u := range fresh {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		summary, err := s.scanArticle(ctx, u)
		if err != nil {
			if errors.Is(err, config.ErrMissingCredential) {
				return res, err
			}
			res.Errors = append(res.Errors, err.Error())
			logger.Warn("Article scan failed", zap.String("url", u), zap.Error(err))
			continue
		}

		res.NewArticlesScanned++
		res.TotalZipCodesFound += len(summary.ZipCodes)
		res.Articles = append(res.Articles, *summary)
		metrics.ArticlesScanned.Inc()
		metrics.FiberZipsFound.Add(float64(len(summary.ZipCodes)))
	}

	logger.Info("Newsroom scan completed",
		zap.Int("scanned", res.NewArticlesScanned),
		zap.Int("zip_codes", res.TotalZipCodesFound),
	)
	return res, nil
}

// discover merges search results and the site map, keeping article-looking links.
func (s *Scanner) discover(ctx context.Context, res *Result) ([]string, error) {
	var links []string

	results, err := s.source.Search(ctx, s.cfg.SearchQuery, s.cfg.SearchLimit)
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			return nil, err
		}
		res.Errors = append(res.Errors, fmt.Sprintf("search: %v", err))
		logger.Warn("Newsroom search failed", zap.Error(err))
	}
	for _, r := range results {
		links = append(links, r.URL)
	}

	if s.cfg.SiteURL != "" {
		mapped, err := s.source.Map(ctx, s.cfg.SiteURL, s.cfg.MapSearch, mapLinkLimit)
		if err != nil {
			if errors.Is(err, config.ErrMissingCredential) {
				return nil, err
			}
			res.Errors = append(res.Errors, fmt.Sprintf("map: %v", err))
			logger.Warn("Newsroom site map failed", zap.Error(err))
		}
		links = append(links, mapped...)
	}

	seen := make(map[string]bool, len(links))
	var out []string
	for _, l := range links {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		if !IsArticleURL(linkPath(l)) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func linkPath(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	return u.Path
}

func (s *Scanner) scanArticle(ctx context.Context, articleURL string) (*ArticleSummary, error) {
	page, err := s.source.Scrape(ctx, articleURL)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", articleURL, err)
	}

	article := ExtractArticle(articleURL, page.Title, page.Markdown)

	zips := article.ZipCodes
	locationZips := make(map[string][]string)
	if len(zips) == 0 && s.resolver != nil {
		seen := make(map[string]bool)
		for i, loc := range article.Locations {
			if s.cfg.MaxLocations > 0 && i >= s.cfg.MaxLocations {
				break
			}
			resolved, err := s.resolver.Resolve(ctx, loc)
			if err != nil {
				if errors.Is(err, config.ErrMissingCredential) {
					return nil, err
				}
				logger.Warn("Location resolution failed", zap.String("location", loc), zap.Error(err))
				continue
			}
			locationZips[loc] = resolved
			for _, z := range resolved {
				if !seen[z] {
					seen[z] = true
					zips = append(zips, z)
				}
			}
		}
	}

	tagged, err := s.store.TagFiberLaunchZips(ctx, zips, article.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to tag leads for %s: %w", articleURL, err)
	}

	record := &models.ScanRecord{
		URL:         articleURL,
		Title:       article.Title,
		PublishDate: article.PublishDate,
		Locations:   article.Locations,
		PlaceNames:  article.PlaceNames,
		ZipCodes:    zips,
		LeadsTagged: tagged,
		ScannedAt:   s.now(),
	}
	if err := s.store.UpsertScan(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save scan for %s: %w", articleURL, err)
	}

	if s.graph != nil {
		signal := neo4j.ArticleSignal{
			URL:          articleURL,
			Title:        article.Title,
			PublishDate:  article.PublishDate,
			ZipCodes:     article.ZipCodes,
			Locations:    article.Locations,
			PlaceNames:   article.PlaceNames,
			LocationZips: locationZips,
		}
		if err := s.graph.RecordArticle(ctx, signal); err != nil {
			logger.Warn("Signal graph write failed", zap.String("url", articleURL), zap.Error(err))
		}
	}

	logger.Info("Article scanned",
		zap.String("url", articleURL),
		zap.String("title", article.Title),
		zap.Int("zips", len(zips)),
		zap.Int("leads_tagged", tagged),
	)

	return &ArticleSummary{
		URL:         articleURL,
		Title:       article.Title,
		PublishDate: article.PublishDate,
		Locations:   nonNil(article.Locations),
		PlaceNames:  article.PlaceNames,
		ZipCodes:    nonNil(zips),
		LeadsTagged: tagged,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
