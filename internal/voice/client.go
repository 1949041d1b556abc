// Package voice talks to the ElevenLabs conversational agent API: placing outbound calls
// through its Twilio bridge and fetching finished conversations.
package voice

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/apiclient"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

type CallRequest struct {
	ToNumber string
	// Variables are exposed to the agent prompt as dynamic variables.
	Variables map[string]string
}

type CallResult struct {
	CallSID        string
	ConversationID string
}

type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type Conversation struct {
	ConversationID  string
	Status          string
	Transcript      []TranscriptTurn
	Summary         string
	DurationSeconds int
	HasAudio        bool
	CallSID         string
}

// TranscriptText renders the turns as "role: message" lines.
func (c *Conversation) TranscriptText() string {
	var b strings.Builder
	for _, t := range c.Transcript {
		msg := strings.TrimSpace(t.Message)
		if msg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

type Client struct {
	apiKey        string
	agentID       string
	phoneNumberID string
	calls         *apiclient.Client
	reads         *apiclient.Client
}

func NewClient(cfg config.VoiceConfig) *Client {
	return NewClientWithRetry(cfg, retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	})
}

// NewClientWithRetry builds two transports: call placement is never replayed on 5xx, while
// conversation reads are.
func NewClientWithRetry(cfg config.VoiceConfig, retryCfg retry.Config) *Client {
	headers := map[string]string{"xi-api-key": cfg.APIKey}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	calls := apiclient.New("voice_calls", apiclient.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    timeout,
		Headers:    headers,
		Idempotent: false,
		Retry:      retryCfg,
	})
	reads := apiclient.New("voice_reads", apiclient.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    timeout,
		Headers:    headers,
		Idempotent: true,
		Retry:      retryCfg,
	})

	logger.Info("Voice client initialized", zap.String("base_url", cfg.BaseURL), zap.String("agent_id", cfg.AgentID))

	return &Client{
		apiKey:        cfg.APIKey,
		agentID:       cfg.AgentID,
		phoneNumberID: cfg.PhoneNumberID,
		calls:         calls,
		reads:         reads,
	}
}

func (c *Client) requireCallConfig() error {
	if err := config.RequireKey("voice.apiKey", c.apiKey); err != nil {
		return err
	}
	if err := config.RequireKey("voice.agentID", c.agentID); err != nil {
		return err
	}
	return config.RequireKey("voice.phoneNumberID", c.phoneNumberID)
}

type outboundCallRequest struct {
	AgentID            string `json:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id"`
	ToNumber           string `json:"to_number"`
	ClientData         *struct {
		DynamicVariables map[string]string `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data,omitempty"`
}

// OutboundCall asks the agent to dial req.ToNumber.
func (c *Client) OutboundCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	if err := c.requireCallConfig(); err != nil {
		return nil, err
	}

	body := outboundCallRequest{
		AgentID:            c.agentID,
		AgentPhoneNumberID: c.phoneNumberID,
		ToNumber:           req.ToNumber,
	}
	if len(req.Variables) > 0 {
		body.ClientData = &struct {
			DynamicVariables map[string]string `json:"dynamic_variables"`
		}{DynamicVariables: req.Variables}
	}

	var resp struct {
		Success        bool   `json:"success"`
		Message        string `json:"message"`
		ConversationID string `json:"conversation_id"`
		CallSID        string `json:"callSid"`
	}
	if err := c.calls.Post(ctx, "/v1/convai/twilio/outbound-call", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to place outbound call: %w", err)
	}
	if !resp.Success && resp.CallSID == "" {
		return nil, fmt.Errorf("failed to place outbound call: %s", resp.Message)
	}

	logger.Info("Outbound call placed",
		zap.String("call_sid", resp.CallSID),
		zap.String("conversation_id", resp.ConversationID),
	)

	return &CallResult{CallSID: resp.CallSID, ConversationID: resp.ConversationID}, nil
}

// GetConversation fetches a conversation's transcript and analysis.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := config.RequireKey("voice.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	var resp struct {
		ConversationID string           `json:"conversation_id"`
		Status         string           `json:"status"`
		Transcript     []TranscriptTurn `json:"transcript"`
		HasAudio       bool             `json:"has_audio"`
		Metadata       struct {
			CallDurationSecs int `json:"call_duration_secs"`
			Phone            struct {
				CallSID string `json:"call_sid"`
			} `json:"phone_call"`
		} `json:"metadata"`
		Analysis struct {
			TranscriptSummary string `json:"transcript_summary"`
		} `json:"analysis"`
	}
	path := "/v1/convai/conversations/" + url.PathEscape(conversationID)
	if err := c.reads.Get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &Conversation{
		ConversationID:  resp.ConversationID,
		Status:          resp.Status,
		Transcript:      resp.Transcript,
		Summary:         strings.TrimSpace(resp.Analysis.TranscriptSummary),
		DurationSeconds: resp.Metadata.CallDurationSecs,
		HasAudio:        resp.HasAudio,
		CallSID:         resp.Metadata.Phone.CallSID,
	}, nil
}
