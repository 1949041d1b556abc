package outcome

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/internal/voice"
)

var testNow = time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(filepath.Join(t.TempDir(), "outcome.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.InitSchema(); err != nil {
		t.Fatal(err)
	}
	c.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { c.Close() })
	return c
}

func seedLead(t *testing.T, c *sqlite.Client, id string) {
	t.Helper()
	lead := &models.Lead{
		ID:           id,
		PlaceID:      "place-" + id,
		BusinessName: "Biz " + id,
		Address:      "1 Main St, Albany, NY 12207",
		Zip:          "12207",
		Phone:        "+15185550100",
		Email:        id + "@biz.test",
	}
	if _, err := c.InsertLeadIgnore(context.Background(), lead); err != nil {
		t.Fatal(err)
	}
}

type fakeConvos struct {
	conv *voice.Conversation
	err  error
}

func (f *fakeConvos) GetConversation(ctx context.Context, id string) (*voice.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conv, nil
}

type fakeSummarizer struct {
	calls    int
	business string
}

func (f *fakeSummarizer) Configured() bool { return true }

func (f *fakeSummarizer) SummarizeCall(ctx context.Context, business, transcript string) (string, error) {
	f.calls++
	f.business = business
	return "Owner asked for pricing.", nil
}

func newRecorder(store Store, convos ConversationFetcher, sum Summarizer, pub events.Publisher) *Recorder {
	r := NewRecorder(store, convos, sum, pub)
	r.now = func() time.Time { return testNow }
	r.newID = func() string { return "order-1" }
	return r
}

func tool(name string, p map[string]any) ToolCall {
	return ToolCall{ToolName: name, Parameters: p}
}

func TestToolValidationHappensBeforeStoreAccess(t *testing.T) {
	// a nil store panics on any access
	r := newRecorder(nil, nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call ToolCall
	}{
		{"missing lead id", tool("log_objection", map[string]any{"objection": "price"})},
		{"empty lead id", tool("log_objection", map[string]any{"lead_id": "  "})},
		{"unknown tool", tool("log_weather", map[string]any{"lead_id": "a"})},
		{"empty tool", tool("", map[string]any{"lead_id": "a"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.HandleTool(ctx, tt.call)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestToolUnknownLead(t *testing.T) {
	store := openTestDB(t)
	r := newRecorder(store, nil, nil, nil)
	_, err := r.HandleTool(context.Background(), tool("log_gatekeeper", map[string]any{"lead_id": "ghost"}))
	if !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogObjectionAppends(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	r := newRecorder(store, nil, nil, nil)

	for _, obj := range []string{"price", "contract_length"} {
		if _, err := r.HandleTool(ctx, tool("log-objection", map[string]any{"lead_id": "a", "objection": obj})); err != nil {
			t.Fatal(err)
		}
	}

	lead, _ := store.GetLead(ctx, "a")
	if !reflect.DeepEqual(lead.Objections, []string{"price", "contract_length"}) {
		t.Errorf("objections = %v", lead.Objections)
	}
}

func TestToolsUpdateLead(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	hub := events.NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()
	r := newRecorder(store, nil, nil, hub)

	calls := []ToolCall{
		tool("log_gatekeeper", map[string]any{"lead_id": "a", "name": "Pat"}),
		tool("log_decision_maker", map[string]any{"lead_id": "a", "name": "Ana Ruiz", "title": "Owner"}),
		tool("log_qualifying_answer", map[string]any{"lead_id": "a", "question": "employees", "answer": 12.0}),
		tool("log_callback", map[string]any{"lead_id": "a", "callback_time": "2024-05-03T14:00:00Z"}),
	}
	for _, c := range calls {
		if _, err := r.HandleTool(ctx, c); err != nil {
			t.Fatalf("%s: %v", c.ToolName, err)
		}
	}

	lead, _ := store.GetLead(ctx, "a")
	if !lead.GatekeeperEncountered || lead.GatekeeperName != "Pat" {
		t.Errorf("gatekeeper = %v %q", lead.GatekeeperEncountered, lead.GatekeeperName)
	}
	if lead.DecisionMakerName != "Ana Ruiz" || lead.DecisionMakerTitle != "Owner" {
		t.Errorf("decision maker = %q %q", lead.DecisionMakerName, lead.DecisionMakerTitle)
	}
	if lead.QualifyingAnswers["employees"] != "12" {
		t.Errorf("answers = %v", lead.QualifyingAnswers)
	}
	want := time.Date(2024, 5, 3, 14, 0, 0, 0, time.UTC)
	if lead.CampaignStatus != models.StatusCallback || lead.CallbackAt == nil || !lead.CallbackAt.Equal(want) {
		t.Errorf("callback = %s %v", lead.CampaignStatus, lead.CallbackAt)
	}
	if lead.CallOutcome != models.OutcomeCallbackRequested {
		t.Errorf("outcome = %s", lead.CallOutcome)
	}
	if len(ch) != len(calls) {
		t.Errorf("published %d events, want %d", len(ch), len(calls))
	}
}

func TestLogOutcome(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	r := newRecorder(store, nil, nil, nil)

	tests := []struct {
		outcome string
		status  models.CampaignStatus
	}{
		{"interested", models.StatusQualified},
		{"sale", models.StatusQualified},
		{"not-interested", models.StatusNotInterested},
		{"voicemail", models.StatusNew},
	}
	for _, tt := range tests {
		seedLead(t, store, tt.outcome)
		if _, err := r.HandleTool(ctx, tool("log_outcome", map[string]any{"lead_id": tt.outcome, "outcome": tt.outcome})); err != nil {
			t.Fatalf("%s: %v", tt.outcome, err)
		}
		lead, _ := store.GetLead(ctx, tt.outcome)
		if lead.CampaignStatus != tt.status {
			t.Errorf("%s: status = %s, want %s", tt.outcome, lead.CampaignStatus, tt.status)
		}
	}

	seedLead(t, store, "bad")
	_, err := r.HandleTool(ctx, tool("log_outcome", map[string]any{"lead_id": "bad", "outcome": "maybe"}))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("invalid outcome err = %v", err)
	}
}

func TestLogDNCIsTerminal(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	r := newRecorder(store, nil, nil, nil)

	if _, err := r.HandleTool(ctx, tool("log_dnc", map[string]any{"lead_id": "a", "reason": "asked twice"})); err != nil {
		t.Fatal(err)
	}
	lead, _ := store.GetLead(ctx, "a")
	if lead.CampaignStatus != models.StatusDNC || lead.Notes != "Do not call: asked twice" {
		t.Errorf("lead = %s %q", lead.CampaignStatus, lead.Notes)
	}

	// an interested outcome later cannot reopen the lead
	if _, err := r.HandleTool(ctx, tool("log_outcome", map[string]any{"lead_id": "a", "outcome": "interested"})); err != nil {
		t.Fatal(err)
	}
	lead, _ = store.GetLead(ctx, "a")
	if lead.CampaignStatus != models.StatusDNC {
		t.Errorf("status = %s", lead.CampaignStatus)
	}
}

func TestSubmitOrder(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	r := newRecorder(store, nil, nil, nil)

	if _, err := r.HandleTool(ctx, tool("submit_order", map[string]any{"lead_id": "a"})); err == nil {
		t.Fatal("order without plan accepted")
	}

	res, err := r.HandleTool(ctx, tool("submit_order", map[string]any{"lead_id": "a", "plan": "1 Gig"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID != "order-1" {
		t.Errorf("order id = %q", res.OrderID)
	}

	lead, _ := store.GetLead(ctx, "a")
	if lead.CampaignStatus != models.StatusConverted || lead.ConvertedOrderID != "order-1" {
		t.Errorf("lead = %s %q", lead.CampaignStatus, lead.ConvertedOrderID)
	}
	order, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if order.CustomerName != "Biz a" || order.ServiceAddress != "1 Main St, Albany, NY 12207" || order.Plan != "1 Gig" {
		t.Errorf("order = %+v", order)
	}
}

func TestHandleStatus(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	if err := store.InsertCallRecord(ctx, &models.CallRecord{
		ID: "call-1", LeadID: "a", Direction: models.DirectionOutbound, CallSID: "CA1", ConversationID: "conv-1",
	}); err != nil {
		t.Fatal(err)
	}
	r := newRecorder(store, nil, nil, nil)

	err := r.HandleStatus(ctx, StatusCallback{CallSID: "CA1", CallStatus: "no-answer", DurationSeconds: 0, LeadID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	// a late completed callback cannot replace a terminal status
	err = r.HandleStatus(ctx, StatusCallback{CallSID: "CA1", CallStatus: "completed", DurationSeconds: 31, RecordingURL: "https://rec/1"})
	if err != nil {
		t.Fatal(err)
	}

	call, _ := store.GetCallRecord(ctx, "call-1")
	if call.Status != models.CallNoAnswer || call.DurationSeconds != 31 || call.RecordingURL != "https://rec/1" {
		t.Errorf("call = %+v", call)
	}
	lead, _ := store.GetLead(ctx, "a")
	if lead.CallOutcome != models.OutcomeNoAnswer || lead.CampaignStatus != models.StatusCalled {
		t.Errorf("lead = %s %s", lead.CallOutcome, lead.CampaignStatus)
	}
	if lead.LastCallAt == nil || !lead.LastCallAt.Equal(testNow) {
		t.Errorf("last call = %v", lead.LastCallAt)
	}

	// unknown SIDs and leads are acknowledged
	if err := r.HandleStatus(ctx, StatusCallback{CallSID: "CA404", CallStatus: "busy", LeadID: "ghost"}); err != nil {
		t.Errorf("unknown lead err = %v", err)
	}
}

func TestHandleRecording(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	store.InsertCallRecord(ctx, &models.CallRecord{ID: "call-1", LeadID: "a", Direction: models.DirectionOutbound, CallSID: "CA1"})
	r := newRecorder(store, nil, nil, nil)

	if err := r.HandleRecording(ctx, RecordingCallback{CallSID: "CA1"}); err == nil {
		t.Error("recording without url accepted")
	}
	if err := r.HandleRecording(ctx, RecordingCallback{CallSID: "CA1", RecordingURL: "https://rec/2", LeadID: "a"}); err != nil {
		t.Fatal(err)
	}
	call, _ := store.GetCallRecord(ctx, "call-1")
	lead, _ := store.GetLead(ctx, "a")
	if call.RecordingURL != "https://rec/2" || lead.CallRecordingURL != "https://rec/2" {
		t.Errorf("recording = %q / %q", call.RecordingURL, lead.CallRecordingURL)
	}
}

func TestEnrich(t *testing.T) {
	store := openTestDB(t)
	seedLead(t, store, "a")
	ctx := context.Background()
	store.InsertCallRecord(ctx, &models.CallRecord{
		ID: "call-1", LeadID: "a", Direction: models.DirectionOutbound, CallSID: "CA1", ConversationID: "conv-1",
		Summary: "Existing summary",
	})

	convos := &fakeConvos{conv: &voice.Conversation{
		ConversationID:  "conv-1",
		Status:          "done",
		DurationSeconds: 95,
		HasAudio:        true,
		Transcript: []voice.TranscriptTurn{
			{Role: "agent", Message: "Hi, is the owner available?"},
			{Role: "user", Message: "Speaking."},
		},
	}}
	sum := &fakeSummarizer{}
	r := newRecorder(store, convos, sum, nil)

	res, err := r.Enrich(ctx, EnrichRequest{ConversationID: "conv-1"})
	if err != nil {
		t.Fatal(err)
	}
	want := EnrichResult{Status: "done", HasTranscript: true, HasSummary: true, HasAudio: true, DurationSeconds: 95}
	if *res != want {
		t.Errorf("result = %+v", *res)
	}
	if sum.calls != 1 || sum.business != "Biz a" {
		t.Errorf("summarizer calls = %d business = %q", sum.calls, sum.business)
	}

	call, _ := store.GetCallRecord(ctx, "call-1")
	if call.Status != models.CallCompleted || call.DurationSeconds != 95 || call.Transcript != "agent: Hi, is the owner available?\nuser: Speaking." {
		t.Errorf("call = %+v", call)
	}
	if call.Summary != "Owner asked for pricing." {
		t.Errorf("summary = %q", call.Summary)
	}

	// an empty second fetch never blanks stored fields
	convos.conv = &voice.Conversation{ConversationID: "conv-1", Status: "done"}
	if _, err := r.Enrich(ctx, EnrichRequest{CallRecordID: "call-1", ConversationID: "conv-1"}); err != nil {
		t.Fatal(err)
	}
	call, _ = store.GetCallRecord(ctx, "call-1")
	if call.Transcript == "" || call.Summary == "" || call.DurationSeconds != 95 {
		t.Errorf("enrichment blanked fields: %+v", call)
	}
}

func TestEnrichMissingRecordAndValidation(t *testing.T) {
	store := openTestDB(t)
	convos := &fakeConvos{conv: &voice.Conversation{ConversationID: "conv-9", Status: "processing", Summary: "Provider summary"}}
	r := newRecorder(store, convos, nil, nil)

	res, err := r.Enrich(context.Background(), EnrichRequest{ConversationID: "conv-9"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasSummary || res.HasTranscript {
		t.Errorf("result = %+v", res)
	}

	_, err = r.Enrich(context.Background(), EnrichRequest{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("missing conversation err = %v", err)
	}
}
