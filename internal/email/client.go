// Package email sends transactional mail through the Resend HTTP API.
package email

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/apiclient"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

type Client struct {
	apiKey  string
	from    string
	replyTo string
	api     *apiclient.Client
}

func NewClient(cfg config.EmailConfig) *Client {
	return NewClientWithRetry(cfg, retry.Config{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
		Logger:         logger.GetLogger(),
	})
}

// NewClientWithRetry builds a client whose POSTs are only retried on 429: a 5xx after the
// provider accepted the message would otherwise send it twice.
func NewClientWithRetry(cfg config.EmailConfig, retryCfg retry.Config) *Client {
	api := apiclient.New("email", apiclient.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		Idempotent: false,
		Retry:      retryCfg,
	})

	logger.Info("Email client initialized", zap.String("base_url", cfg.BaseURL), zap.String("from", cfg.From))

	return &Client{apiKey: cfg.APIKey, from: cfg.From, replyTo: cfg.ReplyTo, api: api}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Tags    []tag    `json:"tags,omitempty"`
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Send delivers msg and returns the provider's message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if err := config.RequireKey("email.apiKey", c.apiKey); err != nil {
		return "", err
	}
	if msg.To == "" {
		return "", fmt.Errorf("failed to send email: empty recipient")
	}

	req := sendRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: c.replyTo,
	}
	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Tags = append(req.Tags, tag{Name: name, Value: msg.Tags[name]})
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.api.Post(ctx, "/emails", req, &resp); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	logger.Debug("Email sent", zap.String("to", msg.To), zap.String("id", resp.ID))
	return resp.ID, nil
}
