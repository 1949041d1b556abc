package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/logger"
)

// UpsertScan stores a newsroom article scan. A re-scan of the same URL refreshes the extracted data.
func (c *Client) UpsertScan(ctx context.Context, scan *models.ScanRecord) error {
	locationsJSON, _ := json.Marshal(nonNil(scan.Locations))
	placesJSON, _ := json.Marshal(nonNil(scan.PlaceNames))
	zipsJSON, _ := json.Marshal(nonNil(scan.ZipCodes))

	scannedAt := scan.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = c.now()
	}

	query := `
		INSERT INTO discovery_scans (url, title, publish_date, locations, place_names, zip_codes, leads_tagged, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			publish_date = excluded.publish_date,
			locations = excluded.locations,
			place_names = excluded.place_names,
			zip_codes = excluded.zip_codes,
			leads_tagged = excluded.leads_tagged,
			scanned_at = excluded.scanned_at
	`

	_, err := c.db.ExecContext(ctx, query,
		scan.URL,
		nullString(scan.Title),
		nullString(scan.PublishDate),
		string(locationsJSON),
		string(placesJSON),
		string(zipsJSON),
		scan.LeadsTagged,
		scannedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scan: %w", err)
	}

	logger.Debug("Scan record upserted", zap.String("url", scan.URL), zap.Int("zip_codes", len(scan.ZipCodes)))
	return nil
}

func (c *Client) GetScan(ctx context.Context, url string) (*models.ScanRecord, error) {
	var (
		s                       models.ScanRecord
		title, date             sql.NullString
		locations, places, zips sql.NullString
		scannedAt               int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT url, title, publish_date, locations, place_names, zip_codes, leads_tagged, scanned_at
		FROM discovery_scans WHERE url = ?
	`, url).Scan(&s.URL, &title, &date, &locations, &places, &zips, &s.LeadsTagged, &scannedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	s.Title = title.String
	s.PublishDate = date.String
	s.Locations = decodeStrings(locations)
	s.PlaceNames = decodeStrings(places)
	s.ZipCodes = decodeStrings(zips)
	s.ScannedAt = time.Unix(scannedAt, 0)
	return &s, nil
}

// ScannedURLs returns which of the given URLs already have a scan record.
func (c *Client) ScannedURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(urls) == 0 {
		return seen, nil
	}

	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT url FROM discovery_scans WHERE url IN (`+placeholders(len(urls))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scanned urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		seen[u] = true
	}
	return seen, rows.Err()
}

// RecentFiberZips returns distinct ZIPs from the most recent scans, newest first, capped at limit.
func (c *Client) RecentFiberZips(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT zip_codes FROM discovery_scans
		WHERE zip_codes IS NOT NULL AND zip_codes <> '[]'
		ORDER BY scanned_at DESC, id DESC
		LIMIT 50
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fiber zips: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var zips []string
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for _, z := range decodeStrings(raw) {
			if seen[z] {
				continue
			}
			seen[z] = true
			zips = append(zips, z)
			if len(zips) == limit {
				return zips, nil
			}
		}
	}
	return zips, rows.Err()
}

func decodeStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
