package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadflow/backend/internal/storage/models"
)

// GetSweepState returns the persisted geo-sweep cursor. A missing row yields the zero state.
func (c *Client) GetSweepState(ctx context.Context) (*models.SweepState, error) {
	var (
		s        models.SweepState
		category sql.NullString
		lastRun  sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT next_index, run_count, active_category, last_run_at, last_zips_searched, last_inserted
		FROM sweep_state WHERE id = 1
	`).Scan(&s.NextIndex, &s.RunCount, &category, &lastRun, &s.LastZipsSearched, &s.LastInserted)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SweepState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep state: %w", err)
	}

	s.ActiveCategory = category.String
	s.LastRunAt = timePtr(lastRun)
	return &s, nil
}

func (c *Client) SaveSweepState(ctx context.Context, s *models.SweepState) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sweep_state (id, next_index, run_count, active_category, last_run_at, last_zips_searched, last_inserted)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			next_index = excluded.next_index,
			run_count = excluded.run_count,
			active_category = excluded.active_category,
			last_run_at = excluded.last_run_at,
			last_zips_searched = excluded.last_zips_searched,
			last_inserted = excluded.last_inserted
	`,
		s.NextIndex,
		s.RunCount,
		nullString(s.ActiveCategory),
		nullTime(s.LastRunAt),
		s.LastZipsSearched,
		s.LastInserted,
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep state: %w", err)
	}
	return nil
}
