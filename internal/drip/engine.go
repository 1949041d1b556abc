// Package drip advances leads through the five-step outbound email sequence.
package drip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/email"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
)

type Store interface {
	ListDripEligible(ctx context.Context, filter models.DripFilter) ([]models.Lead, error)
	AdvanceDripStep(ctx context.Context, leadID string, expectedStep int, sentAt time.Time) (bool, error)
	AddCampaignEmails(ctx context.Context, runID string, sent int) error
}

type Sender interface {
	Send(ctx context.Context, msg email.Message) (string, error)
}

type Request struct {
	LeadIDs []string
	// CampaignRunID credits the run and, without LeadIDs, limits the batch to leads it discovered.
	CampaignRunID string
}

type Result struct {
	Sent    int
	Failed  int
	Skipped int
}

type Engine struct {
	store     Store
	sender    Sender
	catalog   *Catalog
	batchSize int
	now       func() time.Time
}

func NewEngine(store Store, sender Sender, catalog *Catalog, cfg config.DripConfig) *Engine {
	return &Engine{
		store:     store,
		sender:    sender,
		catalog:   catalog,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// SendNextStep sends each eligible lead its next template. The email goes out first and the
// step is committed afterwards with a compare-and-swap, so a failed send leaves the lead on the
// same step and a concurrent run cannot advance it twice.
func (e *Engine) SendNextStep(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	filter := models.DripFilter{LeadIDs: req.LeadIDs, Limit: e.batchSize}
	if len(req.LeadIDs) == 0 {
		filter.DiscoveryBatch = req.CampaignRunID
	}

	leads, err := e.store.ListDripEligible(ctx, filter)
	if err != nil {
		metrics.ObserveJob("drip", start, err)
		return nil, fmt.Errorf("failed to list drip leads: %w", err)
	}

	logger.Info("Drip run starting", zap.Int("eligible", len(leads)), zap.String("campaign_run_id", req.CampaignRunID))

	res := &Result{}
	for i := range leads {
		if err := ctx.Err(); err != nil {
			e.credit(ctx, req.CampaignRunID, res.Sent)
			metrics.ObserveJob("drip", start, err)
			return res, err
		}

		if err := e.sendOne(ctx, &leads[i], res); err != nil {
			e.credit(ctx, req.CampaignRunID, res.Sent)
			metrics.ObserveJob("drip", start, err)
			return res, err
		}
	}

	e.credit(ctx, req.CampaignRunID, res.Sent)
	metrics.ObserveJob("drip", start, nil)

	logger.Info("Drip run completed",
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// sendOne only returns an error that should end the whole run.
func (e *Engine) sendOne(ctx context.Context, lead *models.Lead, res *Result) error {
	step := lead.DripStep + 1
	stepLabel := strconv.Itoa(step)
	if step > MaxStep || lead.Email == "" {
		res.Skipped++
		return nil
	}

	msg, err := e.catalog.Render(step, lead)
	if err != nil {
		res.Failed++
		metrics.EmailsSent.WithLabelValues(stepLabel, "error").Inc()
		logger.Error("Drip template failed", zap.String("lead_id", lead.ID), zap.Int("step", step), zap.Error(err))
		return nil
	}

	_, err = e.sender.Send(ctx, email.Message{
		To:      lead.Email,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    map[string]string{"lead_id": lead.ID, "step": stepLabel, "template": msg.Name},
	})
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			return err
		}
		res.Failed++
		metrics.EmailsSent.WithLabelValues(stepLabel, "error").Inc()
		logger.Warn("Drip email failed", zap.String("lead_id", lead.ID), zap.Int("step", step), zap.Error(err))
		return nil
	}

	advanced, err := e.store.AdvanceDripStep(ctx, lead.ID, lead.DripStep, e.now())
	if err != nil {
		// the email is out; the next run will resend this step
		res.Failed++
		metrics.EmailsSent.WithLabelValues(stepLabel, "commit_error").Inc()
		logger.Error("Drip step commit failed", zap.String("lead_id", lead.ID), zap.Int("step", step), zap.Error(err))
		return nil
	}
	if !advanced {
		res.Skipped++
		metrics.EmailsSent.WithLabelValues(stepLabel, "conflict").Inc()
		logger.Warn("Drip step already advanced by another run", zap.String("lead_id", lead.ID), zap.Int("step", step))
		return nil
	}

	res.Sent++
	metrics.EmailsSent.WithLabelValues(stepLabel, "sent").Inc()
	logger.Debug("Drip email sent", zap.String("lead_id", lead.ID), zap.Int("step", step))
	return nil
}

func (e *Engine) credit(ctx context.Context, runID string, sent int) {
	if runID == "" || sent == 0 {
		return
	}
	if err := e.store.AddCampaignEmails(context.WithoutCancel(ctx), runID, sent); err != nil {
		logger.Warn("Failed to credit campaign run", zap.String("campaign_run_id", runID), zap.Error(err))
	}
}
