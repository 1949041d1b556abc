// Package neo4j keeps the newsroom signal graph: which fiber-launch articles mention which
// locations and ZIP codes.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/circuitbreaker"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// ArticleSignal is one scanned article and everything it was attributed to.
type ArticleSignal struct {
	URL          string
	Title        string
	PublishDate  string
	ZipCodes     []string
	Locations    []string
	PlaceNames   []string
	LocationZips map[string][]string
}

type ArticleRef struct {
	URL         string
	Title       string
	PublishDate string
}

func NewClient(cfg config.Neo4jConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// RecordArticle merges the article node and its MENTIONS edges. Re-recording an article is a no-op.
func (c *Client) RecordArticle(ctx context.Context, a ArticleSignal) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			if _, err := tx.Run(ctx, `
				MERGE (a:Article {url: $url})
				SET a.title = $title,
				    a.publish_date = $publish_date,
				    a.scanned_at = timestamp()
			`, map[string]any{
				"url":          a.URL,
				"title":        a.Title,
				"publish_date": a.PublishDate,
			}); err != nil {
				return nil, err
			}

			if len(a.ZipCodes) > 0 {
				if _, err := tx.Run(ctx, `
					MATCH (a:Article {url: $url})
					UNWIND $zips AS code
					MERGE (z:Zip {code: code})
					MERGE (a)-[:MENTIONS_ZIP]->(z)
				`, map[string]any{"url": a.URL, "zips": a.ZipCodes}); err != nil {
					return nil, err
				}
			}

			locations := make([]map[string]any, 0, len(a.Locations)+len(a.PlaceNames))
			for _, name := range a.Locations {
				locations = append(locations, map[string]any{"name": name, "kind": "location", "zips": a.LocationZips[name]})
			}
			for _, name := range a.PlaceNames {
				locations = append(locations, map[string]any{"name": name, "kind": "place", "zips": a.LocationZips[name]})
			}
			if len(locations) > 0 {
				if _, err := tx.Run(ctx, `
					MATCH (a:Article {url: $url})
					UNWIND $locations AS loc
					MERGE (l:Location {name: loc.name})
					SET l.kind = coalesce(l.kind, loc.kind)
					MERGE (a)-[:MENTIONS_LOCATION]->(l)
					WITH l, loc
					UNWIND loc.zips AS code
					MERGE (z:Zip {code: code})
					MERGE (l)-[:RESOLVES_TO]->(z)
				`, map[string]any{"url": a.URL, "locations": locations}); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record article signal: %w", err)
	}

	logger.Debug("Article signal recorded",
		zap.String("url", a.URL),
		zap.Int("zips", len(a.ZipCodes)),
		zap.Int("locations", len(a.Locations)+len(a.PlaceNames)),
	)

	return nil
}

// ArticlesForZip returns the articles that name zip directly or through a resolved location, newest first.
func (c *Client) ArticlesForZip(ctx context.Context, zip string) ([]ArticleRef, error) {
	var refs []ArticleRef

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		refs = refs[:0]
		result, err := session.Run(ctx, `
			MATCH (z:Zip {code: $zip})
			OPTIONAL MATCH (direct:Article)-[:MENTIONS_ZIP]->(z)
			OPTIONAL MATCH (via:Article)-[:MENTIONS_LOCATION]->(:Location)-[:RESOLVES_TO]->(z)
			WITH collect(DISTINCT direct) + collect(DISTINCT via) AS articles
			UNWIND articles AS a
			WITH DISTINCT a
			WHERE a IS NOT NULL
			RETURN a.url, a.title, a.publish_date
			ORDER BY a.publish_date DESC
			LIMIT 20
		`, map[string]any{"zip": zip})
		if err != nil {
			return fmt.Errorf("failed to query articles: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			url, _ := record.Get("a.url")
			title, _ := record.Get("a.title")
			date, _ := record.Get("a.publish_date")

			refs = append(refs, ArticleRef{
				URL:         asString(url),
				Title:       asString(title),
				PublishDate: asString(date),
			})
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Signal graph lookup completed", zap.String("zip", zip), zap.Int("articles", len(refs)))
	return refs, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
