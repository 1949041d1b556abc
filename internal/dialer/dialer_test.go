package dialer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/internal/voice"
	"github.com/leadflow/backend/pkg/config"
)

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"(518) 555-0100", "+15185550100", true},
		{"518.555.0100 x204", "+15185550100", true},
		{"1-518-555-0100", "+15185550100", true},
		{"+44 20 7946 0958", "+442079460958", true},
		{"555-0100", "", false},
		{"(018) 555-0100", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeE164(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeE164(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

type fakeCaller struct {
	mu    sync.Mutex
	dials []voice.CallRequest
	err   error
}

func (f *fakeCaller) OutboundCall(ctx context.Context, req voice.CallRequest) (*voice.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.dials = append(f.dials, req)
	n := len(f.dials)
	return &voice.CallResult{CallSID: fmt.Sprintf("CA%d", n), ConversationID: fmt.Sprintf("conv_%d", n)}, nil
}

func openStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "dialer.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func addLead(t *testing.T, c *sqlite.Client, id, zip, phone string) {
	t.Helper()
	lead := &models.Lead{ID: id, PlaceID: "p-" + id, BusinessName: "Biz " + id, Zip: zip, Phone: phone, OpeningVariant: models.VariantFor(id)}
	if _, err := c.InsertLeadIgnore(context.Background(), lead); err != nil {
		t.Fatal(err)
	}
}

func testConfig() config.DialerConfig {
	return config.DialerConfig{
		CooldownHours:  72,
		FetchWindow:    20,
		MaxCallsPerRun: 5,
		WindowStart:    8,
		WindowEnd:      22,
	}
}

// noon in New York, 9am in Los Angeles, 6am in Honolulu
var sweepNow = time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

func newDialer(store Store, caller Caller, cfg config.DialerConfig) *Dialer {
	d := NewDialer(store, caller, cfg)
	d.now = func() time.Time { return sweepNow }
	return d
}

func TestSweepRespectsWindowCooldownAndPhone(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	addLead(t, store, "albany", "12201", "(518) 555-0100")
	addLead(t, store, "la", "90210", "310-555-0199")
	addLead(t, store, "honolulu", "96813", "808-555-0123")
	addLead(t, store, "nophone", "12201", "")
	addLead(t, store, "badphone", "43201", "555-01")
	addLead(t, store, "recent", "12201", "518-555-0111")
	if err := store.MarkLeadCalled(ctx, "recent", "CAold", sweepNow.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	caller := &fakeCaller{}
	res, err := newDialer(store, caller, testConfig()).Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}

	want := SweepResult{Called: 2, Failed: 1, TotalEligible: 4, WithinCallingHours: 3}
	if *res != want {
		t.Errorf("result = %+v, want %+v", *res, want)
	}

	lead, err := store.GetLead(ctx, "albany")
	if err != nil {
		t.Fatal(err)
	}
	if lead.CampaignStatus != models.StatusCalled || lead.CallSID == "" || lead.LastCallAt == nil || !lead.LastCallAt.Equal(sweepNow) {
		t.Errorf("albany = %+v", lead)
	}

	calls, err := store.ListCallsForLead(ctx, "albany")
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].Status != models.CallInitiated || calls[0].ToNumber != "+15185550100" || calls[0].Direction != models.DirectionOutbound {
		t.Errorf("call records = %+v", calls)
	}

	for _, d := range caller.dials {
		if d.Variables["lead_id"] == "honolulu" {
			t.Error("dialed outside local calling hours")
		}
		if d.Variables["opening_variant"] == "" {
			t.Errorf("missing opening variant in %v", d.Variables)
		}
	}
}

func TestSweepCapsDispatchAndPrefersFiberLaunchLeads(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		addLead(t, store, id, "12201", "518-555-0100")
	}
	addLead(t, store, "fiber", "43201", "614-555-0100")
	if _, err := store.TagFiberLaunchZips(ctx, []string{"43201"}, "Ohio launch"); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.MaxCallsPerRun = 2
	caller := &fakeCaller{}
	res, err := newDialer(store, caller, cfg).Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Called != 2 || res.WithinCallingHours != 4 {
		t.Errorf("result = %+v", res)
	}
	if caller.dials[0].Variables["lead_id"] != "fiber" || caller.dials[0].Variables["is_fiber_launch_area"] != "true" {
		t.Errorf("first dial = %v", caller.dials[0].Variables)
	}
}

func TestSweepCountsProviderFailures(t *testing.T) {
	store := openStore(t)
	addLead(t, store, "a", "12201", "518-555-0100")
	addLead(t, store, "b", "12201", "518-555-0101")

	res, err := newDialer(store, &fakeCaller{err: errors.New("provider 500")}, testConfig()).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Called != 0 || res.Failed != 2 {
		t.Errorf("result = %+v", res)
	}
	lead, _ := store.GetLead(context.Background(), "a")
	if lead.LastCallAt != nil || lead.CampaignStatus != models.StatusNew {
		t.Errorf("failed dial mutated lead: %+v", lead)
	}
}

func TestCallLead(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addLead(t, store, "ok", "12201", "518-555-0100")
	addLead(t, store, "nophone", "12201", "")
	addLead(t, store, "dnc", "12201", "518-555-0102")
	if _, err := store.SetLeadStatus(ctx, "dnc", models.StatusDNC, "test"); err != nil {
		t.Fatal(err)
	}

	d := newDialer(store, &fakeCaller{}, testConfig())

	res, err := d.CallLead(ctx, "ok")
	if err != nil || res.CallSID != "CA1" || res.ConversationID != "conv_1" {
		t.Fatalf("CallLead = %+v, %v", res, err)
	}
	if _, err := d.CallLead(ctx, "missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("missing lead err = %v", err)
	}
	if _, err := d.CallLead(ctx, "nophone"); !errors.Is(err, ErrNoPhone) {
		t.Errorf("no phone err = %v", err)
	}
	if _, err := d.CallLead(ctx, "dnc"); !errors.Is(err, ErrLeadClosed) {
		t.Errorf("dnc err = %v", err)
	}
}
