package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/logger"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a campaign status change is not allowed from the stored status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// SetClock replaces the clock used for updated_at and history timestamps.
func (c *Client) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		place_id TEXT UNIQUE NOT NULL,
		business_name TEXT NOT NULL,
		business_type TEXT,
		address TEXT,
		city TEXT,
		state TEXT,
		zip TEXT,
		phone TEXT,
		email TEXT,
		website TEXT,
		latitude REAL,
		longitude REAL,
		campaign_status TEXT NOT NULL DEFAULT 'new',
		drip_step INTEGER NOT NULL DEFAULT 0 CHECK (drip_step BETWEEN 0 AND 5),
		last_email_sent_at INTEGER,
		last_call_at INTEGER,
		call_outcome TEXT,
		call_recording_url TEXT,
		call_sid TEXT,
		opening_variant TEXT,
		is_fiber_launch_area INTEGER NOT NULL DEFAULT 0,
		fiber_launch_source TEXT,
		discovery_batch TEXT,
		gatekeeper_encountered INTEGER NOT NULL DEFAULT 0,
		gatekeeper_name TEXT,
		decision_maker_name TEXT,
		decision_maker_title TEXT,
		objections TEXT,
		qualifying_answers TEXT,
		notes TEXT,
		callback_at INTEGER,
		converted_order_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(campaign_status);
	CREATE INDEX IF NOT EXISTS idx_leads_zip ON leads(zip);
	CREATE INDEX IF NOT EXISTS idx_leads_batch ON leads(discovery_batch);
	CREATE INDEX IF NOT EXISTS idx_leads_last_call ON leads(last_call_at);
	CREATE INDEX IF NOT EXISTS idx_leads_created ON leads(created_at);

	CREATE TABLE IF NOT EXISTS lead_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lead_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		source TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (lead_id) REFERENCES leads(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_status_history_lead ON lead_status_history(lead_id);

	CREATE TABLE IF NOT EXISTS call_records (
		id TEXT PRIMARY KEY,
		lead_id TEXT,
		direction TEXT NOT NULL,
		from_number TEXT,
		to_number TEXT,
		customer_name TEXT,
		customer_email TEXT,
		duration_seconds INTEGER,
		recording_url TEXT,
		transcript TEXT,
		summary TEXT,
		call_sid TEXT,
		conversation_id TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (lead_id) REFERENCES leads(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_lead ON call_records(lead_id);
	CREATE INDEX IF NOT EXISTS idx_calls_sid ON call_records(call_sid);
	CREATE INDEX IF NOT EXISTS idx_calls_conversation ON call_records(conversation_id);

	CREATE TABLE IF NOT EXISTS discovery_scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		title TEXT,
		publish_date TEXT,
		locations TEXT,
		place_names TEXT,
		zip_codes TEXT,
		leads_tagged INTEGER NOT NULL DEFAULT 0,
		scanned_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scans_scanned ON discovery_scans(scanned_at);

	CREATE TABLE IF NOT EXISTS sweep_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_index INTEGER NOT NULL DEFAULT 0,
		run_count INTEGER NOT NULL DEFAULT 0,
		active_category TEXT,
		last_run_at INTEGER,
		last_zips_searched INTEGER NOT NULL DEFAULT 0,
		last_inserted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		lead_id TEXT,
		customer_name TEXT NOT NULL,
		customer_email TEXT,
		customer_phone TEXT,
		service_address TEXT,
		service_type TEXT,
		plan TEXT,
		notes TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (lead_id) REFERENCES leads(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_lead ON orders(lead_id);

	CREATE TABLE IF NOT EXISTS campaign_runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		total_emails_sent INTEGER NOT NULL DEFAULT 0,
		leads_discovered INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowsChanged reports whether an UPDATE touched at least one row.
func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
