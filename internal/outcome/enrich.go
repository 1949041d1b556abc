package outcome

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/events"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/pkg/logger"
)

type EnrichRequest struct {
	CallRecordID   string `json:"call_record_id"`
	ConversationID string `json:"conversation_id"`
}

type EnrichResult struct {
	Status          string `json:"status"`
	HasTranscript   bool   `json:"has_transcript"`
	HasSummary      bool   `json:"has_summary"`
	HasAudio        bool   `json:"has_audio"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Enrich pulls a finished conversation and writes its transcript, duration and summary onto the call
// record. Stored values are never blanked, and a call record that does not exist yet is not an error.
func (r *Recorder) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	if req.ConversationID == "" {
		return nil, invalid("conversation_id", "is required")
	}

	conv, err := r.convos.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	record, err := r.findCall(ctx, req)
	if err != nil {
		return nil, err
	}

	transcript := conv.TranscriptText()
	summary := conv.Summary
	if summary == "" && transcript != "" && r.summarizer != nil && r.summarizer.Configured() {
		summary, err = r.summarizer.SummarizeCall(ctx, r.businessName(ctx, record), transcript)
		if err != nil {
			logger.Warn("Failed to summarize call", zap.String("conversation_id", req.ConversationID), zap.Error(err))
			summary = ""
		}
	}

	upd := models.CallUpdate{
		DurationSeconds: conv.DurationSeconds,
		Transcript:      transcript,
		Summary:         summary,
	}
	if conv.Status != "" {
		upd.Status = models.CallStatusFromProvider(conv.Status)
	}

	var matched bool
	if record != nil {
		matched, err = r.store.UpdateCallByID(ctx, record.ID, upd)
	} else {
		matched, err = r.store.UpdateCallByConversation(ctx, req.ConversationID, upd)
	}
	if err != nil {
		return nil, err
	}
	if !matched {
		logger.Info("No call record for conversation yet", zap.String("conversation_id", req.ConversationID))
	}

	res := &EnrichResult{
		Status:          conv.Status,
		HasTranscript:   transcript != "",
		HasSummary:      summary != "",
		HasAudio:        conv.HasAudio,
		DurationSeconds: conv.DurationSeconds,
	}

	var leadID string
	if record != nil {
		leadID = record.LeadID
	}
	logger.Info("Call enriched",
		zap.String("conversation_id", req.ConversationID),
		zap.String("status", conv.Status),
		zap.Bool("has_transcript", res.HasTranscript),
		zap.Bool("has_summary", res.HasSummary),
	)
	r.events.Publish(events.Event{
		Type:    EventCallEnriched,
		LeadID:  leadID,
		CallSID: conv.CallSID,
		Data: map[string]any{
			"conversation_id":  req.ConversationID,
			"status":           conv.Status,
			"duration_seconds": conv.DurationSeconds,
			"has_summary":      res.HasSummary,
		},
	})
	return res, nil
}

// findCall resolves the record by id first, then by conversation. A miss returns nil, nil.
func (r *Recorder) findCall(ctx context.Context, req EnrichRequest) (*models.CallRecord, error) {
	var (
		record *models.CallRecord
		err    error
	)
	if req.CallRecordID != "" {
		record, err = r.store.GetCallRecord(ctx, req.CallRecordID)
	} else {
		record, err = r.store.GetCallByConversation(ctx, req.ConversationID)
	}
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find call record: %w", err)
	}
	return record, nil
}

func (r *Recorder) businessName(ctx context.Context, record *models.CallRecord) string {
	if record == nil || record.LeadID == "" {
		return ""
	}
	lead, err := r.store.GetLead(ctx, record.LeadID)
	if err != nil {
		return ""
	}
	return lead.BusinessName
}
