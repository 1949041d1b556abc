package outcome

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/pkg/logger"
)

const (
	ToolLogGatekeeper       = "log_gatekeeper"
	ToolLogDecisionMaker    = "log_decision_maker"
	ToolLogObjection        = "log_objection"
	ToolLogCallback         = "log_callback"
	ToolLogOutcome          = "log_outcome"
	ToolLogDNC              = "log_dnc"
	ToolLogQualifyingAnswer = "log_qualifying_answer"
	ToolSubmitOrder         = "submit_order"
)

// ToolCall is one tool invocation from the live voice agent.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type ToolResult struct {
	Message string
	OrderID string
}

type toolFunc func(r *Recorder, ctx context.Context, lead *models.Lead, p params) (*ToolResult, error)

var tools = map[string]toolFunc{
	ToolLogGatekeeper:       (*Recorder).logGatekeeper,
	ToolLogDecisionMaker:    (*Recorder).logDecisionMaker,
	ToolLogObjection:        (*Recorder).logObjection,
	ToolLogCallback:         (*Recorder).logCallback,
	ToolLogOutcome:          (*Recorder).logOutcome,
	ToolLogDNC:              (*Recorder).logDNC,
	ToolLogQualifyingAnswer: (*Recorder).logQualifyingAnswer,
	ToolSubmitOrder:         (*Recorder).submitOrder,
}

// ToolNames lists the accepted tool vocabulary.
func ToolNames() []string {
	return []string{
		ToolLogGatekeeper, ToolLogDecisionMaker, ToolLogObjection, ToolLogCallback,
		ToolLogOutcome, ToolLogDNC, ToolLogQualifyingAnswer, ToolSubmitOrder,
	}
}

func normaliseToolName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// HandleTool validates the call before touching the store: a missing lead_id or unknown tool is a
// ValidationError, a lead that does not exist wraps sqlite.ErrNotFound.
func (r *Recorder) HandleTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	name := normaliseToolName(call.ToolName)
	p := params(call.Parameters)

	res, err := r.handleTool(ctx, name, p)
	metrics.ToolInvocations.WithLabelValues(metricToolName(name), toolResultLabel(err)).Inc()
	if err != nil {
		logger.Warn("Tool call failed",
			zap.String("tool", call.ToolName),
			zap.String("lead_id", p.str("lead_id")),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Info("Tool call recorded", zap.String("tool", name), zap.String("lead_id", p.str("lead_id")))
	data := map[string]any{"tool": name, "message": res.Message}
	if res.OrderID != "" {
		data["order_id"] = res.OrderID
	}
	r.events.Publish(events.Event{Type: EventLeadTool, LeadID: p.str("lead_id"), Data: data})
	return res, nil
}

func (r *Recorder) handleTool(ctx context.Context, name string, p params) (*ToolResult, error) {
	if name == "" {
		return nil, invalid("tool_name", "is required")
	}
	fn, ok := tools[name]
	if !ok {
		return nil, invalid("tool_name", "unknown tool %q", name)
	}
	leadID := p.str("lead_id")
	if leadID == "" {
		return nil, invalid("lead_id", "is required")
	}

	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return fn(r, ctx, lead, p)
}

func (r *Recorder) logGatekeeper(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	name := p.str("name", "gatekeeper_name")
	if err := r.store.RecordGatekeeper(ctx, lead.ID, name); err != nil {
		return nil, err
	}
	if err := r.store.SetCallOutcome(ctx, lead.ID, models.OutcomeGatekeeper); err != nil {
		return nil, err
	}
	if notes := p.str("notes"); notes != "" {
		if err := r.store.AppendNote(ctx, lead.ID, "Gatekeeper: "+notes); err != nil {
			return nil, err
		}
	}
	return &ToolResult{Message: "Gatekeeper logged"}, nil
}

func (r *Recorder) logDecisionMaker(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	name := p.str("name", "decision_maker_name")
	title := p.str("title", "decision_maker_title", "role")
	if name == "" && title == "" {
		return nil, invalid("name", "name or title is required")
	}
	if err := r.store.RecordDecisionMaker(ctx, lead.ID, name, title); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Decision maker logged"}, nil
}

func (r *Recorder) logObjection(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	objection := p.str("objection", "objection_type", "reason")
	if objection == "" {
		return nil, invalid("objection", "is required")
	}
	if err := r.store.AppendObjection(ctx, lead.ID, objection); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Objection logged"}, nil
}

var callbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseCallbackTime(s string) (time.Time, bool) {
	for _, layout := range callbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// logCallback moves the lead to callback. A time the agent phrased in words is kept as a note.
func (r *Recorder) logCallback(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	raw := p.str("callback_time", "callback_at", "preferred_time")

	var at *time.Time
	if raw != "" {
		if t, ok := parseCallbackTime(raw); ok {
			at = &t
		}
	}

	if _, err := r.store.SetLeadStatus(ctx, lead.ID, models.StatusCallback, "tool:"+ToolLogCallback); err != nil {
		return nil, err
	}
	if err := r.store.SetCallOutcome(ctx, lead.ID, models.OutcomeCallbackRequested); err != nil {
		return nil, err
	}
	if at != nil {
		if err := r.store.SetCallbackAt(ctx, lead.ID, at); err != nil {
			return nil, err
		}
	}

	note := p.str("notes")
	if at == nil && raw != "" {
		note = strings.TrimSpace("Callback requested: " + raw + ". " + note)
	}
	if err := r.store.AppendNote(ctx, lead.ID, note); err != nil {
		return nil, err
	}

	if at != nil {
		return &ToolResult{Message: "Callback scheduled for " + at.Format(time.RFC3339)}, nil
	}
	return &ToolResult{Message: "Callback requested"}, nil
}

// logOutcome records the tag and moves the lead along when the tag implies a status. A lead already
// closed keeps its status.
func (r *Recorder) logOutcome(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	raw := p.str("outcome", "result")
	if raw == "" {
		return nil, invalid("outcome", "is required")
	}
	outcome, err := models.ParseCallOutcome(raw)
	if err != nil {
		return nil, invalid("outcome", "%v", err)
	}

	if err := r.store.SetCallOutcome(ctx, lead.ID, outcome); err != nil {
		return nil, err
	}

	if next := outcome.NextStatus(); next != "" {
		_, err := r.store.SetLeadStatus(ctx, lead.ID, next, "tool:"+ToolLogOutcome)
		if errors.Is(err, sqlite.ErrInvalidTransition) {
			logger.Info("Outcome left closed lead status unchanged",
				zap.String("lead_id", lead.ID),
				zap.String("status", string(lead.CampaignStatus)),
				zap.String("outcome", string(outcome)),
			)
		} else if err != nil {
			return nil, err
		}
	}

	if err := r.store.AppendNote(ctx, lead.ID, p.str("notes")); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Outcome logged: " + string(outcome)}, nil
}

func (r *Recorder) logDNC(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	if _, err := r.store.SetLeadStatus(ctx, lead.ID, models.StatusDNC, "tool:"+ToolLogDNC); err != nil {
		return nil, err
	}
	if err := r.store.SetCallOutcome(ctx, lead.ID, models.OutcomeDNC); err != nil {
		return nil, err
	}

	note := "Do not call"
	if reason := p.str("reason", "notes"); reason != "" {
		note += ": " + reason
	}
	if err := r.store.AppendNote(ctx, lead.ID, note); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Lead marked do not call"}, nil
}

func (r *Recorder) logQualifyingAnswer(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	question := p.str("question", "key")
	answer := p.str("answer", "value")
	if question == "" {
		return nil, invalid("question", "is required")
	}
	if answer == "" {
		return nil, invalid("answer", "is required")
	}
	if err := r.store.SetQualifyingAnswer(ctx, lead.ID, question, answer); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Answer recorded"}, nil
}

// submitOrder converts the lead, defaulting customer fields from the lead row.
func (r *Recorder) submitOrder(ctx context.Context, lead *models.Lead, p params) (*ToolResult, error) {
	plan := p.str("plan", "package")
	if plan == "" {
		return nil, invalid("plan", "is required")
	}

	order := &models.Order{
		ID:             r.newID(),
		LeadID:         lead.ID,
		CustomerName:   firstNonEmpty(p.str("customer_name", "contact_name"), lead.DecisionMakerName, lead.BusinessName),
		CustomerEmail:  firstNonEmpty(p.str("customer_email", "email"), lead.Email),
		CustomerPhone:  firstNonEmpty(p.str("customer_phone", "phone"), lead.Phone),
		ServiceAddress: firstNonEmpty(p.str("service_address", "address"), lead.Address),
		ServiceType:    firstNonEmpty(p.str("service_type"), "business"),
		Plan:           plan,
		Notes:          p.str("notes"),
		CreatedAt:      r.now(),
	}

	if err := r.store.ConvertLead(ctx, order); err != nil {
		return nil, err
	}
	if err := r.store.SetCallOutcome(ctx, lead.ID, models.OutcomeSale); err != nil {
		return nil, err
	}
	return &ToolResult{Message: "Order " + order.ID + " submitted", OrderID: order.ID}, nil
}

// params reads loosely typed agent parameters.
type params map[string]any

// str returns the first non-empty value among keys, stringifying numbers and bools.
func (p params) str(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func metricToolName(name string) string {
	if _, ok := tools[name]; ok {
		return name
	}
	return "unknown"
}

func toolResultLabel(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, sqlite.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
