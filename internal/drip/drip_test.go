package drip

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadflow/backend/internal/email"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/pkg/config"
)

func TestCatalogRendersAllSteps(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	lead := &models.Lead{BusinessName: "Corner Deli", City: "Albany", State: "NY", IsFiberLaunchArea: true}

	subjects := make(map[string]bool)
	for step := 1; step <= MaxStep; step++ {
		r, err := c.Render(step, lead)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if r.Subject == "" || subjects[r.Subject] {
			t.Errorf("step %d subject %q empty or repeated", step, r.Subject)
		}
		subjects[r.Subject] = true
		if !strings.Contains(r.HTML, "Corner Deli") || !strings.Contains(r.Text, "Corner Deli") {
			t.Errorf("step %d missing business name", step)
		}
	}

	first, _ := c.Render(1, lead)
	if !strings.Contains(first.Subject, "Albany, NY") || !strings.Contains(first.Text, "first launch area") {
		t.Errorf("step 1 = %+v", first)
	}
	if _, err := c.Render(6, lead); err == nil {
		t.Error("expected error for step 6")
	}
}

func TestCatalogSanitisesLeadFields(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	lead := &models.Lead{BusinessName: `Tom & Jerry's<script>alert(1)</script>`, City: "<b>Troy</b>"}

	r, err := c.Render(1, lead)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(r.HTML, "<script>") || strings.Contains(r.HTML, "alert(1)") || strings.Contains(r.HTML, "<b>") {
		t.Errorf("markup leaked into html: %s", r.HTML)
	}
	if !strings.Contains(r.HTML, "Tom &amp; Jerry") {
		t.Errorf("html not escaped once: %s", r.HTML)
	}
	if !strings.Contains(r.Text, "Tom & Jerry's team") || !strings.Contains(r.Subject, "Troy") {
		t.Errorf("text = %q subject = %q", r.Text, r.Subject)
	}
}

func TestParseCatalogRequiresEveryStep(t *testing.T) {
	_, err := ParseCatalog([]byte("steps:\n  - step: 1\n    name: only\n    subject: hi\n    html: hi\n    text: hi\n"))
	if err == nil || !strings.Contains(err.Error(), "missing step 2") {
		t.Fatalf("err = %v", err)
	}
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []email.Message
	failTo map[string]bool
	err    error
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.failTo[msg.To] {
		return "", errors.New("provider 502")
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg_%d", len(f.sent)), nil
}

func openStore(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "drip.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func addLead(t *testing.T, c *sqlite.Client, id, email string, created time.Time, batch string) {
	t.Helper()
	lead := &models.Lead{
		ID: id, PlaceID: "p-" + id, BusinessName: "Biz " + id, City: "Columbus", State: "OH", Zip: "43201",
		Email: email, DiscoveryBatch: batch, CreatedAt: created,
	}
	if _, err := c.InsertLeadIgnore(context.Background(), lead); err != nil {
		t.Fatal(err)
	}
}

func newEngine(t *testing.T, store *sqlite.Client, sender Sender) *Engine {
	t.Helper()
	catalog, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(store, sender, catalog, config.DripConfig{BatchSize: 50})
}

func TestDripStepIsMonotonicAndCapped(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	addLead(t, store, "a", "a@biz.test", base, "")
	addLead(t, store, "b", "b@biz.test", base.Add(time.Minute), "")

	sender := &fakeSender{}
	e := newEngine(t, store, sender)

	for run := 1; run <= 7; run++ {
		res, err := e.SendNextStep(ctx, Request{})
		if err != nil {
			t.Fatal(err)
		}
		wantSent := 2
		if run > MaxStep {
			wantSent = 0
		}
		if res.Sent != wantSent {
			t.Errorf("run %d sent = %d, want %d", run, res.Sent, wantSent)
		}

		lead, err := store.GetLead(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		wantStep := run
		if wantStep > MaxStep {
			wantStep = MaxStep
		}
		if lead.DripStep != wantStep || lead.CampaignStatus != models.StatusEmailSent {
			t.Errorf("run %d: step=%d status=%s", run, lead.DripStep, lead.CampaignStatus)
		}
	}

	if len(sender.sent) != 2*MaxStep {
		t.Errorf("emails sent = %d, want %d", len(sender.sent), 2*MaxStep)
	}
	if sender.sent[0].To != "a@biz.test" || sender.sent[0].Tags["step"] != "1" {
		t.Errorf("first email = %+v", sender.sent[0])
	}
}

func TestDripFailureLeavesStepUnchanged(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()
	addLead(t, store, "ok", "ok@biz.test", now, "")
	addLead(t, store, "bad", "bad@biz.test", now.Add(time.Second), "")

	e := newEngine(t, store, &fakeSender{failTo: map[string]bool{"bad@biz.test": true}})
	res, err := e.SendNextStep(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	bad, _ := store.GetLead(ctx, "bad")
	if bad.DripStep != 0 || bad.CampaignStatus != models.StatusNew || bad.LastEmailSentAt != nil {
		t.Errorf("failed lead changed: %+v", bad)
	}
}

func TestDripExcludesTerminalAndEmaillessLeads(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()
	addLead(t, store, "live", "live@biz.test", now, "")
	addLead(t, store, "noemail", "", now, "")
	for _, id := range []string{"dnc", "converted", "lost"} {
		addLead(t, store, id, id+"@biz.test", now, "")
	}
	for id, status := range map[string]models.CampaignStatus{
		"dnc": models.StatusDNC, "converted": models.StatusConverted, "lost": models.StatusNotInterested,
	} {
		if _, err := store.SetLeadStatus(ctx, id, status, "test"); err != nil {
			t.Fatal(err)
		}
	}

	sender := &fakeSender{}
	res, err := newEngine(t, store, sender).SendNextStep(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || len(sender.sent) != 1 || sender.sent[0].To != "live@biz.test" {
		t.Errorf("result = %+v, sent = %+v", res, sender.sent)
	}
}

func TestDripCampaignRunScopesAndCredits(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()
	if err := store.CreateCampaignRun(ctx, &models.CampaignRun{ID: "run-1", Name: "spring"}); err != nil {
		t.Fatal(err)
	}
	addLead(t, store, "in1", "in1@biz.test", now, "run-1")
	addLead(t, store, "in2", "in2@biz.test", now, "run-1")
	addLead(t, store, "out", "out@biz.test", now, "other")

	e := newEngine(t, store, &fakeSender{})
	res, err := e.SendNextStep(ctx, Request{CampaignRunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 {
		t.Errorf("sent = %d", res.Sent)
	}
	run, err := store.GetCampaignRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.TotalEmailsSent != 2 {
		t.Errorf("total_emails_sent = %d", run.TotalEmailsSent)
	}

	res, err = e.SendNextStep(ctx, Request{LeadIDs: []string{"out"}})
	if err != nil || res.Sent != 1 {
		t.Fatalf("explicit ids = %+v, %v", res, err)
	}
}

type conflictStore struct {
	*sqlite.Client
}

func (c conflictStore) AdvanceDripStep(ctx context.Context, leadID string, expectedStep int, sentAt time.Time) (bool, error) {
	// another run got there first
	if _, err := c.Client.AdvanceDripStep(ctx, leadID, expectedStep, sentAt); err != nil {
		return false, err
	}
	return c.Client.AdvanceDripStep(ctx, leadID, expectedStep, sentAt)
}

func TestDripCompareAndSwapPreventsDoubleAdvance(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	addLead(t, store, "a", "a@biz.test", time.Now(), "")

	catalog, _ := LoadCatalog()
	e := NewEngine(conflictStore{store}, &fakeSender{}, catalog, config.DripConfig{BatchSize: 50})
	res, err := e.SendNextStep(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Sent != 0 {
		t.Errorf("result = %+v", res)
	}
	lead, _ := store.GetLead(ctx, "a")
	if lead.DripStep != 1 {
		t.Errorf("drip_step = %d, want 1", lead.DripStep)
	}
}

func TestDripMissingCredentialAbortsRun(t *testing.T) {
	store := openStore(t)
	addLead(t, store, "a", "a@biz.test", time.Now(), "")

	e := newEngine(t, store, &fakeSender{err: fmt.Errorf("%w: email.apiKey", config.ErrMissingCredential)})
	if _, err := e.SendNextStep(context.Background(), Request{}); !errors.Is(err, config.ErrMissingCredential) {
		t.Fatalf("err = %v", err)
	}
}
