package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/logger"
)

const leadColumns = `id, place_id, business_name, business_type, address, city, state, zip, phone, email,
	website, latitude, longitude, campaign_status, drip_step, last_email_sent_at, last_call_at,
	call_outcome, call_recording_url, call_sid, opening_variant, is_fiber_launch_area, fiber_launch_source,
	discovery_batch, gatekeeper_encountered, gatekeeper_name, decision_maker_name, decision_maker_title,
	objections, qualifying_answers, notes, callback_at, converted_order_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var l models.Lead
	var businessType, address, city, state, zip, phone, email sql.NullString
	var website, outcome, recordingURL, callSID, variant sql.NullString
	var fiberSource, batch, gatekeeperName, dmName, dmTitle sql.NullString
	var objections, answers, notes, orderID sql.NullString
	var lat, lng sql.NullFloat64
	var lastEmail, lastCall, callbackAt sql.NullInt64
	var status string
	var fiberArea, gatekeeper int
	var createdAt, updatedAt int64

	err := row.Scan(
		&l.ID, &l.PlaceID, &l.BusinessName, &businessType, &address, &city, &state, &zip, &phone, &email,
		&website, &lat, &lng, &status, &l.DripStep, &lastEmail, &lastCall,
		&outcome, &recordingURL, &callSID, &variant, &fiberArea, &fiberSource,
		&batch, &gatekeeper, &gatekeeperName, &dmName, &dmTitle,
		&objections, &answers, &notes, &callbackAt, &orderID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.BusinessType = businessType.String
	l.Address = address.String
	l.City = city.String
	l.State = state.String
	l.Zip = zip.String
	l.Phone = phone.String
	l.Email = email.String
	l.Website = website.String
	l.Latitude = floatPtr(lat)
	l.Longitude = floatPtr(lng)
	l.CampaignStatus = models.CampaignStatus(status)
	l.LastEmailSentAt = timePtr(lastEmail)
	l.LastCallAt = timePtr(lastCall)
	l.CallOutcome = models.CallOutcome(outcome.String)
	l.CallRecordingURL = recordingURL.String
	l.CallSID = callSID.String
	l.OpeningVariant = models.OpeningVariant(variant.String)
	l.IsFiberLaunchArea = fiberArea == 1
	l.FiberLaunchSource = fiberSource.String
	l.DiscoveryBatch = batch.String
	l.GatekeeperEncountered = gatekeeper == 1
	l.GatekeeperName = gatekeeperName.String
	l.DecisionMakerName = dmName.String
	l.DecisionMakerTitle = dmTitle.String
	l.Notes = notes.String
	l.CallbackAt = timePtr(callbackAt)
	l.ConvertedOrderID = orderID.String
	l.CreatedAt = time.Unix(createdAt, 0)
	l.UpdatedAt = time.Unix(updatedAt, 0)

	if objections.Valid && objections.String != "" {
		if err := json.Unmarshal([]byte(objections.String), &l.Objections); err != nil {
			logger.Warn("Malformed objections column", zap.String("lead_id", l.ID), zap.Error(err))
		}
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &l.QualifyingAnswers); err != nil {
			logger.Warn("Malformed qualifying_answers column", zap.String("lead_id", l.ID), zap.Error(err))
		}
	}

	return &l, nil
}

func scanLeads(rows *sql.Rows) ([]models.Lead, error) {
	defer rows.Close()

	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return leads, nil
}

// InsertLeadIgnore inserts a lead unless its place id is already stored. Only the place id conflict
// is ignored; any other constraint failure is returned. The bool reports whether a row was written.
func (c *Client) InsertLeadIgnore(ctx context.Context, lead *models.Lead) (bool, error) {
	query := `
		INSERT INTO leads (id, place_id, business_name, business_type, address, city, state, zip,
			phone, email, website, latitude, longitude, campaign_status, drip_step, opening_variant,
			discovery_batch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(place_id) DO NOTHING
	`

	status := lead.CampaignStatus
	if status == "" {
		status = models.StatusNew
	}
	created := lead.CreatedAt
	if created.IsZero() {
		created = c.now()
	}

	res, err := c.db.ExecContext(ctx, query,
		lead.ID,
		lead.PlaceID,
		lead.BusinessName,
		nullString(lead.BusinessType),
		nullString(lead.Address),
		nullString(lead.City),
		nullString(lead.State),
		nullString(lead.Zip),
		nullString(lead.Phone),
		nullString(lead.Email),
		nullString(lead.Website),
		nullFloat(lead.Latitude),
		nullFloat(lead.Longitude),
		string(status),
		lead.DripStep,
		nullString(string(lead.OpeningVariant)),
		nullString(lead.DiscoveryBatch),
		created.Unix(),
		created.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert lead: %w", err)
	}

	inserted, err := rowsChanged(res)
	if err != nil {
		return false, err
	}

	logger.Debug("Lead upserted",
		zap.String("place_id", lead.PlaceID),
		zap.Bool("inserted", inserted),
	)
	return inserted, nil
}

func (c *Client) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = ?`

	lead, err := scanLead(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

func (c *Client) GetLeadByPlaceID(ctx context.Context, placeID string) (*models.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE place_id = ?`

	lead, err := scanLead(c.db.QueryRowContext(ctx, query, placeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead with place %s: %w", placeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

func (c *Client) CountLeads(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return n, nil
}

// ListDripEligible returns leads with an email, status new or email_sent and drip_step below 5,
// oldest first.
func (c *Client) ListDripEligible(ctx context.Context, filter models.DripFilter) ([]models.Lead, error) {
	var (
		where = []string{
			`email IS NOT NULL AND email <> ''`,
			`campaign_status IN (?, ?)`,
			`drip_step < 5`,
		}
		args = []any{string(models.StatusNew), string(models.StatusEmailSent)}
	)

	if len(filter.LeadIDs) > 0 {
		where = append(where, `id IN (`+placeholders(len(filter.LeadIDs))+`)`)
		for _, id := range filter.LeadIDs {
			args = append(args, id)
		}
	}
	if filter.DiscoveryBatch != "" {
		where = append(where, `discovery_batch = ?`)
		args = append(args, filter.DiscoveryBatch)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, id ASC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drip leads: %w", err)
	}
	return scanLeads(rows)
}

// AdvanceDripStep moves a lead from expectedStep to expectedStep+1. It only succeeds when the stored
// step still equals expectedStep, so concurrent runs cannot double-advance the same lead.
func (c *Client) AdvanceDripStep(ctx context.Context, leadID string, expectedStep int, sentAt time.Time) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT campaign_status FROM leads WHERE id = ?`, leadID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lead status: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE leads SET
			drip_step = drip_step + 1,
			campaign_status = ?,
			last_email_sent_at = MAX(COALESCE(last_email_sent_at, 0), ?),
			updated_at = ?
		WHERE id = ? AND drip_step = ? AND drip_step < 5 AND campaign_status IN (?, ?)
	`,
		string(models.StatusEmailSent),
		sentAt.Unix(),
		c.now().Unix(),
		leadID,
		expectedStep,
		string(models.StatusNew), string(models.StatusEmailSent),
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance drip step: %w", err)
	}

	advanced, err := rowsChanged(res)
	if err != nil || !advanced {
		return false, err
	}

	if status != string(models.StatusEmailSent) {
		if err := c.insertHistory(ctx, tx, leadID, models.CampaignStatus(status), models.StatusEmailSent, "drip"); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit drip step: %w", err)
	}
	return true, nil
}

// ListDialEligible returns callable leads: a phone, a non-terminal status, outside the cooldown and
// past any requested callback time. Fiber-launch leads come first, then the longest since last call.
func (c *Client) ListDialEligible(ctx context.Context, filter models.DialFilter) ([]models.Lead, error) {
	now := filter.Now
	if now.IsZero() {
		now = c.now()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	cutoff := now.Add(-filter.Cooldown).Unix()

	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE phone IS NOT NULL AND phone <> ''
			AND campaign_status NOT IN (?, ?, ?)
			AND (last_call_at IS NULL OR last_call_at < ?)
			AND (callback_at IS NULL OR callback_at <= ?)
		ORDER BY is_fiber_launch_area DESC, COALESCE(last_call_at, 0) ASC, created_at ASC
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query,
		string(models.StatusConverted), string(models.StatusNotInterested), string(models.StatusDNC),
		cutoff,
		now.Unix(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dial leads: %w", err)
	}
	return scanLeads(rows)
}

// MarkLeadCalled records a dispatched call. New and emailed leads move to called; leads further along
// keep their status.
func (c *Client) MarkLeadCalled(ctx context.Context, leadID, callSID string, at time.Time) error {
	return c.touchCall(ctx, leadID, at, "dialer", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE leads SET call_sid = COALESCE(NULLIF(?, ''), call_sid) WHERE id = ?`, callSID, leadID)
		return err
	})
}

// ApplyCallOutcome folds a terminal provider call status into the lead: call_outcome is set,
// last_call_at never moves backwards and new or emailed leads become called.
func (c *Client) ApplyCallOutcome(ctx context.Context, leadID string, outcome models.CallOutcome, at time.Time) error {
	return c.touchCall(ctx, leadID, at, "call_status", func(tx *sql.Tx) error {
		if outcome == models.OutcomeNone {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE leads SET call_outcome = ? WHERE id = ?`, string(outcome), leadID)
		return err
	})
}

func (c *Client) touchCall(ctx context.Context, leadID string, at time.Time, source string, extra func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT campaign_status FROM leads WHERE id = ?`, leadID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read lead status: %w", err)
	}

	next := models.CampaignStatus(status)
	if next == models.StatusNew || next == models.StatusEmailSent {
		next = models.StatusCalled
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE leads SET
			campaign_status = ?,
			last_call_at = MAX(COALESCE(last_call_at, 0), ?),
			updated_at = ?
		WHERE id = ?
	`, string(next), at.Unix(), c.now().Unix(), leadID)
	if err != nil {
		return fmt.Errorf("failed to update lead call state: %w", err)
	}

	if err := extra(tx); err != nil {
		return fmt.Errorf("failed to update lead call state: %w", err)
	}

	if string(next) != status {
		if err := c.insertHistory(ctx, tx, leadID, models.CampaignStatus(status), next, source); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lead call state: %w", err)
	}
	return nil
}

// SetLeadStatus moves a lead to a new campaign status and logs the change. A self-transition is a
// no-op and reports false; a transition out of a terminal status returns ErrInvalidTransition.
func (c *Client) SetLeadStatus(ctx context.Context, leadID string, to models.CampaignStatus, source string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := c.setStatusTx(ctx, tx, leadID, to, source)
	if err != nil || !changed {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit status change: %w", err)
	}
	return true, nil
}

func (c *Client) setStatusTx(ctx context.Context, tx *sql.Tx, leadID string, to models.CampaignStatus, source string) (bool, error) {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT campaign_status FROM leads WHERE id = ?`, leadID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lead status: %w", err)
	}

	from := models.CampaignStatus(current)
	if from == to {
		return false, nil
	}
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET campaign_status = ?, updated_at = ? WHERE id = ? AND campaign_status = ?`,
		string(to), c.now().Unix(), leadID, current,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update lead status: %w", err)
	}
	changed, err := rowsChanged(res)
	if err != nil || !changed {
		return false, err
	}

	if err := c.insertHistory(ctx, tx, leadID, from, to, source); err != nil {
		return false, err
	}

	logger.Info("Lead status changed",
		zap.String("lead_id", leadID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("source", source),
	)
	return true, nil
}

func (c *Client) insertHistory(ctx context.Context, tx *sql.Tx, leadID string, from, to models.CampaignStatus, source string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO lead_status_history (lead_id, from_status, to_status, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		leadID, string(from), string(to), nullString(source), c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

func (c *Client) StatusHistory(ctx context.Context, leadID string) ([]models.StatusChange, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT lead_id, from_status, to_status, source, created_at
		FROM lead_status_history
		WHERE lead_id = ?
		ORDER BY id ASC
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	defer rows.Close()

	var changes []models.StatusChange
	for rows.Next() {
		var (
			sc        models.StatusChange
			from, to  string
			source    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&sc.LeadID, &from, &to, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sc.From = models.CampaignStatus(from)
		sc.To = models.CampaignStatus(to)
		sc.Source = source.String
		sc.CreatedAt = time.Unix(createdAt, 0)
		changes = append(changes, sc)
	}
	return changes, rows.Err()
}

func (c *Client) updateLead(ctx context.Context, op, leadID, set string, args ...any) error {
	args = append(args, c.now().Unix(), leadID)
	res, err := c.db.ExecContext(ctx, `UPDATE leads SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}
	return nil
}

func (c *Client) RecordGatekeeper(ctx context.Context, leadID, name string) error {
	return c.updateLead(ctx, "record gatekeeper", leadID,
		`gatekeeper_encountered = 1, gatekeeper_name = COALESCE(NULLIF(?, ''), gatekeeper_name)`, name)
}

func (c *Client) RecordDecisionMaker(ctx context.Context, leadID, name, title string) error {
	return c.updateLead(ctx, "record decision maker", leadID,
		`decision_maker_name = COALESCE(NULLIF(?, ''), decision_maker_name),
		decision_maker_title = COALESCE(NULLIF(?, ''), decision_maker_title)`, name, title)
}

// AppendObjection appends to the objections JSON array in a single statement.
func (c *Client) AppendObjection(ctx context.Context, leadID, objection string) error {
	return c.updateLead(ctx, "append objection", leadID,
		`objections = json_insert(COALESCE(objections, '[]'), '$[#]', ?)`, objection)
}

// SetQualifyingAnswer merges one key into the qualifying_answers JSON object.
func (c *Client) SetQualifyingAnswer(ctx context.Context, leadID, key, value string) error {
	path := `$."` + strings.ReplaceAll(key, `"`, ``) + `"`
	return c.updateLead(ctx, "set qualifying answer", leadID,
		`qualifying_answers = json_set(COALESCE(qualifying_answers, '{}'), ?, ?)`, path, value)
}

func (c *Client) AppendNote(ctx context.Context, leadID, note string) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	return c.updateLead(ctx, "append note", leadID,
		`notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || char(10) || ? END`, note, note)
}

func (c *Client) SetCallOutcome(ctx context.Context, leadID string, outcome models.CallOutcome) error {
	return c.updateLead(ctx, "set call outcome", leadID, `call_outcome = ?`, string(outcome))
}

func (c *Client) SetCallbackAt(ctx context.Context, leadID string, at *time.Time) error {
	return c.updateLead(ctx, "set callback time", leadID, `callback_at = ?`, nullTime(at))
}

func (c *Client) SetLeadRecording(ctx context.Context, leadID, recordingURL string) error {
	return c.updateLead(ctx, "set recording url", leadID,
		`call_recording_url = COALESCE(NULLIF(?, ''), call_recording_url)`, recordingURL)
}

// TagFiberLaunchZips marks every lead in the given ZIPs as a fiber-launch lead citing source.
func (c *Client) TagFiberLaunchZips(ctx context.Context, zips []string, source string) (int, error) {
	if len(zips) == 0 {
		return 0, nil
	}

	args := []any{nullString(source), c.now().Unix()}
	for _, z := range zips {
		args = append(args, z)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE leads SET is_fiber_launch_area = 1, fiber_launch_source = ?, updated_at = ?
		WHERE zip IN (`+placeholders(len(zips))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to tag fiber launch leads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
