// Package outcome folds voice provider callbacks and in-call agent tool events back into lead and call state.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/internal/voice"
	"github.com/leadflow/backend/pkg/logger"
)

const (
	EventCallStatus    = "call.status"
	EventCallRecording = "call.recording"
	EventCallEnriched  = "call.enriched"
	EventLeadTool      = "lead.tool"
)

type Store interface {
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	SetLeadStatus(ctx context.Context, leadID string, to models.CampaignStatus, source string) (bool, error)
	SetCallOutcome(ctx context.Context, leadID string, outcome models.CallOutcome) error
	ApplyCallOutcome(ctx context.Context, leadID string, outcome models.CallOutcome, at time.Time) error
	SetLeadRecording(ctx context.Context, leadID, recordingURL string) error
	SetCallbackAt(ctx context.Context, leadID string, at *time.Time) error
	RecordGatekeeper(ctx context.Context, leadID, name string) error
	RecordDecisionMaker(ctx context.Context, leadID, name, title string) error
	AppendObjection(ctx context.Context, leadID, objection string) error
	SetQualifyingAnswer(ctx context.Context, leadID, key, value string) error
	AppendNote(ctx context.Context, leadID, note string) error
	ConvertLead(ctx context.Context, order *models.Order) error

	GetCallRecord(ctx context.Context, id string) (*models.CallRecord, error)
	GetCallByConversation(ctx context.Context, conversationID string) (*models.CallRecord, error)
	UpdateCallBySID(ctx context.Context, sid string, upd models.CallUpdate) (bool, error)
	UpdateCallByID(ctx context.Context, id string, upd models.CallUpdate) (bool, error)
	UpdateCallByConversation(ctx context.Context, conversationID string, upd models.CallUpdate) (bool, error)
}

type ConversationFetcher interface {
	GetConversation(ctx context.Context, conversationID string) (*voice.Conversation, error)
}

// Summarizer writes a summary when the provider did not return one.
type Summarizer interface {
	Configured() bool
	SummarizeCall(ctx context.Context, businessName, transcript string) (string, error)
}

// ValidationError is a caller mistake; nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Recorder struct {
	store      Store
	convos     ConversationFetcher
	summarizer Summarizer
	events     events.Publisher
	now        func() time.Time
	newID      func() string
}

func NewRecorder(store Store, convos ConversationFetcher, summarizer Summarizer, pub events.Publisher) *Recorder {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Recorder{
		store:      store,
		convos:     convos,
		summarizer: summarizer,
		events:     pub,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// StatusCallback is the provider's form-encoded call progress webhook.
type StatusCallback struct {
	CallSID         string
	CallStatus      string
	DurationSeconds int
	RecordingURL    string
	To              string
	From            string
	LeadID          string
}

// HandleStatus updates the call record matching the SID and, when the callback names a lead, the lead's
// outcome and last call time. An unknown SID or lead is logged and acknowledged.
func (r *Recorder) HandleStatus(ctx context.Context, cb StatusCallback) error {
	status := models.CallStatusFromProvider(cb.CallStatus)
	metrics.CallCallbacks.WithLabelValues(string(status)).Inc()

	logger.Info("Call status callback",
		zap.String("call_sid", cb.CallSID),
		zap.String("provider_status", cb.CallStatus),
		zap.String("status", string(status)),
		zap.String("lead_id", cb.LeadID),
	)

	if cb.CallSID != "" {
		matched, err := r.store.UpdateCallBySID(ctx, cb.CallSID, models.CallUpdate{
			Status:          status,
			DurationSeconds: cb.DurationSeconds,
			RecordingURL:    cb.RecordingURL,
		})
		if err != nil {
			logger.Warn("Failed to update call record", zap.String("call_sid", cb.CallSID), zap.Error(err))
		} else if !matched {
			logger.Debug("No call record for SID", zap.String("call_sid", cb.CallSID))
		}
	}

	if cb.LeadID != "" {
		if err := r.store.ApplyCallOutcome(ctx, cb.LeadID, status.Outcome(), r.now()); err != nil {
			if !errors.Is(err, sqlite.ErrNotFound) {
				return fmt.Errorf("failed to apply call outcome: %w", err)
			}
			logger.Warn("Status callback for unknown lead", zap.String("lead_id", cb.LeadID))
		} else if cb.RecordingURL != "" {
			if err := r.store.SetLeadRecording(ctx, cb.LeadID, cb.RecordingURL); err != nil {
				return fmt.Errorf("failed to store lead recording: %w", err)
			}
		}
	}

	r.events.Publish(events.Event{
		Type:    EventCallStatus,
		LeadID:  cb.LeadID,
		CallSID: cb.CallSID,
		Data: map[string]any{
			"status":           string(status),
			"duration_seconds": cb.DurationSeconds,
		},
	})
	return nil
}

type RecordingCallback struct {
	CallSID         string
	RecordingURL    string
	DurationSeconds int
	LeadID          string
}

func (r *Recorder) HandleRecording(ctx context.Context, cb RecordingCallback) error {
	if cb.RecordingURL == "" {
		return invalid("RecordingUrl", "is required")
	}

	if cb.CallSID != "" {
		if _, err := r.store.UpdateCallBySID(ctx, cb.CallSID, models.CallUpdate{
			RecordingURL:    cb.RecordingURL,
			DurationSeconds: cb.DurationSeconds,
		}); err != nil {
			logger.Warn("Failed to attach recording to call", zap.String("call_sid", cb.CallSID), zap.Error(err))
		}
	}

	if cb.LeadID != "" {
		err := r.store.SetLeadRecording(ctx, cb.LeadID, cb.RecordingURL)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("failed to store lead recording: %w", err)
		}
	}

	logger.Info("Recording stored", zap.String("call_sid", cb.CallSID), zap.String("lead_id", cb.LeadID))
	r.events.Publish(events.Event{
		Type:    EventCallRecording,
		LeadID:  cb.LeadID,
		CallSID: cb.CallSID,
		Data:    map[string]any{"recording_url": cb.RecordingURL},
	})
	return nil
}
