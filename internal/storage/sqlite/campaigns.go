package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leadflow/backend/internal/storage/models"
)

func (c *Client) CreateCampaignRun(ctx context.Context, run *models.CampaignRun) error {
	now := c.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = run.CreatedAt
	if run.Status == "" {
		run.Status = "active"
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, name, status, total_emails_sent, leads_discovered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Name, run.Status, run.TotalEmailsSent, run.LeadsDiscovered, run.CreatedAt.Unix(), run.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create campaign run: %w", err)
	}
	return nil
}

func (c *Client) GetCampaignRun(ctx context.Context, id string) (*models.CampaignRun, error) {
	var r models.CampaignRun
	var createdAt, updatedAt int64

	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, status, total_emails_sent, leads_discovered, created_at, updated_at
		FROM campaign_runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &r.Status, &r.TotalEmailsSent, &r.LeadsDiscovered, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign run: %w", err)
	}

	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

// AddCampaignEmails accumulates sent emails into a run's running total.
func (c *Client) AddCampaignEmails(ctx context.Context, runID string, sent int) error {
	return c.bumpCampaign(ctx, runID, "total_emails_sent", sent)
}

func (c *Client) AddCampaignLeads(ctx context.Context, runID string, discovered int) error {
	return c.bumpCampaign(ctx, runID, "leads_discovered", discovered)
}

func (c *Client) bumpCampaign(ctx context.Context, runID, column string, n int) error {
	if n == 0 {
		return nil
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE campaign_runs SET `+column+` = `+column+` + ?, updated_at = ? WHERE id = ?`,
		n, c.now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign run: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("campaign run %s: %w", runID, ErrNotFound)
	}
	return nil
}
