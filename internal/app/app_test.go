package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leadflow/backend/internal/api"
	rediscache "github.com/leadflow/backend/internal/cache/redis"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "app.db")

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestRoutesAreWired(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.Store.InsertLeadIgnore(ctx, &models.Lead{ID: "l1", PlaceID: "p1", BusinessName: "Deli", Zip: "12207"}); err != nil {
		t.Fatal(err)
	}

	server, stop := api.NewRouter(a.Config.Server, a.Handlers())
	defer stop()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", "GET", "/health", "", 200},
		{"ready", "GET", "/ready", "", 200},
		{"metrics", "GET", "/metrics", "", 200},
		{"unknown drip action", "POST", "/api/v1/drip", `{"action":"blast"}`, 400},
		{"tool without lead", "POST", "/api/v1/voice/tools", `{"tool_name":"log_dnc","parameters":{}}`, 400},
		{"tool for missing lead", "POST", "/api/v1/voice/tools", `{"tool_name":"log_dnc","parameters":{"lead_id":"ghost"}}`, 404},
		{"tool", "POST", "/api/v1/voice/tools", `{"tool_name":"log-objection","parameters":{"lead_id":"l1","objection":"price"}}`, 200},
		{"call without phone", "POST", "/api/v1/voice?action=call&lead_id=l1", "", 400},
		{"signals without graph", "GET", "/api/v1/newsroom/signals/12207", "", 503},
		{"events needs upgrade", "GET", "/api/v1/events", "", 426},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := server.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	lead, err := a.Store.GetLead(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lead.Objections) != 1 || lead.Objections[0] != "price" {
		t.Errorf("objections = %v", lead.Objections)
	}
}

func TestRunLockedExcludesOverlap(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	err := a.RunLocked(ctx, "drip", func() error {
		return a.RunLocked(ctx, "drip", func() error { return nil })
	})
	if !errors.Is(err, rediscache.ErrLocked) {
		t.Fatalf("nested run err = %v", err)
	}
	if err := a.RunLocked(ctx, "drip", func() error { return nil }); err != nil {
		t.Errorf("lock not released: %v", err)
	}
}
