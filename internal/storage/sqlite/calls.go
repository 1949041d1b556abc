package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/logger"
)

const callColumns = `id, lead_id, direction, from_number, to_number, customer_name, customer_email,
	duration_seconds, recording_url, transcript, summary, call_sid, conversation_id, status, created_at, updated_at`

func scanCall(row rowScanner) (*models.CallRecord, error) {
	var r models.CallRecord
	var leadID, from, to, name, email, recording, transcript, summary, sid, conversation sql.NullString
	var duration sql.NullInt64
	var direction, status string
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &leadID, &direction, &from, &to, &name, &email,
		&duration, &recording, &transcript, &summary, &sid, &conversation, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.LeadID = leadID.String
	r.Direction = models.CallDirection(direction)
	r.FromNumber = from.String
	r.ToNumber = to.String
	r.CustomerName = name.String
	r.CustomerEmail = email.String
	r.DurationSeconds = int(duration.Int64)
	r.RecordingURL = recording.String
	r.Transcript = transcript.String
	r.Summary = summary.String
	r.CallSID = sid.String
	r.ConversationID = conversation.String
	r.Status = models.CallStatus(status)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

func (c *Client) InsertCallRecord(ctx context.Context, record *models.CallRecord) error {
	query := `
		INSERT INTO call_records (id, lead_id, direction, from_number, to_number, customer_name, customer_email,
			duration_seconds, recording_url, transcript, summary, call_sid, conversation_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	created := record.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	status := record.Status
	if status == "" {
		status = models.CallInitiated
	}
	var duration sql.NullInt64
	if record.DurationSeconds > 0 {
		duration = sql.NullInt64{Int64: int64(record.DurationSeconds), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		nullString(record.LeadID),
		string(record.Direction),
		nullString(record.FromNumber),
		nullString(record.ToNumber),
		nullString(record.CustomerName),
		nullString(record.CustomerEmail),
		duration,
		nullString(record.RecordingURL),
		nullString(record.Transcript),
		nullString(record.Summary),
		nullString(record.CallSID),
		nullString(record.ConversationID),
		string(status),
		created.Unix(),
		created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	logger.Debug("Call record inserted",
		zap.String("call_id", record.ID),
		zap.String("lead_id", record.LeadID),
		zap.String("call_sid", record.CallSID),
	)
	return nil
}

func (c *Client) GetCallRecord(ctx context.Context, id string) (*models.CallRecord, error) {
	return c.getCall(ctx, `id = ?`, id)
}

func (c *Client) GetCallBySID(ctx context.Context, sid string) (*models.CallRecord, error) {
	return c.getCall(ctx, `call_sid = ?`, sid)
}

func (c *Client) GetCallByConversation(ctx context.Context, conversationID string) (*models.CallRecord, error) {
	return c.getCall(ctx, `conversation_id = ?`, conversationID)
}

func (c *Client) getCall(ctx context.Context, where string, arg string) (*models.CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM call_records WHERE ` + where + ` ORDER BY created_at DESC LIMIT 1`

	record, err := scanCall(c.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call record %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return record, nil
}

func (c *Client) ListCallsForLead(ctx context.Context, leadID string) ([]models.CallRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE lead_id = ? ORDER BY created_at ASC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		r, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// UpdateCallBySID applies a provider callback to every call record with the SID. A terminal status is
// never replaced; empty fields in upd leave stored values untouched. It reports whether any record matched.
func (c *Client) UpdateCallBySID(ctx context.Context, sid string, upd models.CallUpdate) (bool, error) {
	return c.updateCall(ctx, `call_sid = ?`, sid, upd)
}

func (c *Client) UpdateCallByID(ctx context.Context, id string, upd models.CallUpdate) (bool, error) {
	return c.updateCall(ctx, `id = ?`, id, upd)
}

func (c *Client) UpdateCallByConversation(ctx context.Context, conversationID string, upd models.CallUpdate) (bool, error) {
	return c.updateCall(ctx, `conversation_id = ?`, conversationID, upd)
}

func (c *Client) updateCall(ctx context.Context, where, arg string, upd models.CallUpdate) (bool, error) {
	var duration sql.NullInt64
	if upd.DurationSeconds > 0 {
		duration = sql.NullInt64{Int64: int64(upd.DurationSeconds), Valid: true}
	}

	status := nullString(string(upd.Status))
	args := []any{status}
	for _, s := range models.TerminalCallStatuses {
		args = append(args, string(s))
	}
	args = append(args,
		status,
		duration,
		nullString(upd.RecordingURL),
		nullString(upd.Transcript),
		nullString(upd.Summary),
		c.now().Unix(),
		arg,
	)

	query := `
		UPDATE call_records SET
			status = CASE
				WHEN ? IS NULL THEN status
				WHEN status IN (` + placeholders(len(models.TerminalCallStatuses)) + `) THEN status
				ELSE ?
			END,
			duration_seconds = COALESCE(?, duration_seconds),
			recording_url = COALESCE(NULLIF(?, ''), recording_url),
			transcript = COALESCE(NULLIF(?, ''), transcript),
			summary = COALESCE(NULLIF(?, ''), summary),
			updated_at = ?
		WHERE ` + where

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update call record: %w", err)
	}
	return rowsChanged(res)
}
