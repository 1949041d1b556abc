package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/outcome"
	"github.com/leadflow/backend/internal/voice"
	"github.com/leadflow/backend/pkg/logger"
)

type LeadCaller interface {
	CallLead(ctx context.Context, leadID string) (*voice.CallResult, error)
}

type OutcomeRecorder interface {
	HandleStatus(ctx context.Context, cb outcome.StatusCallback) error
	HandleRecording(ctx context.Context, cb outcome.RecordingCallback) error
	HandleTool(ctx context.Context, call outcome.ToolCall) (*outcome.ToolResult, error)
	Enrich(ctx context.Context, req outcome.EnrichRequest) (*outcome.EnrichResult, error)
}

type VoiceHandler struct {
	caller   LeadCaller
	recorder OutcomeRecorder
}

func NewVoiceHandler(caller LeadCaller, recorder OutcomeRecorder) *VoiceHandler {
	return &VoiceHandler{
		caller:   caller,
		recorder: recorder,
	}
}

// Handle dispatches on ?action=. Provider callbacks (status, recording) answer in plain text.
func (h *VoiceHandler) Handle(c *fiber.Ctx) error {
	switch c.Query("action") {
	case "call":
		return h.call(c)
	case "status":
		return h.status(c)
	case "recording":
		return h.recording(c)
	default:
		return badRequest(c, "Unknown action: "+c.Query("action"))
	}
}

func (h *VoiceHandler) call(c *fiber.Ctx) error {
	leadID := c.Query("lead_id")
	if leadID == "" {
		return badRequest(c, "lead_id is required")
	}

	res, err := h.caller.CallLead(c.Context(), leadID)
	if err != nil {
		return errorResponse(c, err, "Failed to place call")
	}

	return c.JSON(fiber.Map{
		"success":        true,
		"callSid":        res.CallSID,
		"conversationId": res.ConversationID,
	})
}

func (h *VoiceHandler) status(c *fiber.Ctx) error {
	duration, _ := strconv.Atoi(c.FormValue("CallDuration"))

	err := h.recorder.HandleStatus(c.Context(), outcome.StatusCallback{
		CallSID:         c.FormValue("CallSid"),
		CallStatus:      c.FormValue("CallStatus"),
		DurationSeconds: duration,
		RecordingURL:    c.FormValue("RecordingUrl"),
		To:              c.FormValue("To"),
		From:            c.FormValue("From"),
		LeadID:          c.Query("lead_id"),
	})
	if err != nil {
		logger.Error("Failed to handle status callback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("Error")
	}
	return c.SendString("OK")
}

func (h *VoiceHandler) recording(c *fiber.Ctx) error {
	duration, _ := strconv.Atoi(c.FormValue("RecordingDuration"))

	err := h.recorder.HandleRecording(c.Context(), outcome.RecordingCallback{
		CallSID:         c.FormValue("CallSid"),
		RecordingURL:    c.FormValue("RecordingUrl"),
		DurationSeconds: duration,
		LeadID:          c.Query("lead_id"),
	})
	if err != nil {
		logger.Error("Failed to handle recording callback", zap.Error(err))
		return c.Status(statusFor(err)).SendString("Error")
	}
	return c.SendString("OK")
}

func (h *VoiceHandler) Tools(c *fiber.Ctx) error {
	var call outcome.ToolCall
	if err := c.BodyParser(&call); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	res, err := h.recorder.HandleTool(c.Context(), call)
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status == fiber.StatusInternalServerError {
			logger.Error("Failed to record tool call", zap.String("tool", call.ToolName), zap.Error(err))
			msg = "Failed to record tool call"
		}
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"message": msg,
		})
	}

	resp := fiber.Map{
		"success": true,
		"message": res.Message,
	}
	if res.OrderID != "" {
		resp["order_id"] = res.OrderID
	}
	return c.JSON(resp)
}

func (h *VoiceHandler) Conversation(c *fiber.Ctx) error {
	var req outcome.EnrichRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	res, err := h.recorder.Enrich(c.Context(), req)
	if err != nil {
		return errorResponse(c, err, "Failed to enrich conversation")
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"status":           res.Status,
		"has_transcript":   res.HasTranscript,
		"has_summary":      res.HasSummary,
		"has_audio":        res.HasAudio,
		"duration_seconds": res.DurationSeconds,
	})
}
