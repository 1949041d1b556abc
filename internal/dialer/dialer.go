// Package dialer places outbound agent calls to eligible leads inside their local calling hours.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/geo"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/internal/voice"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

var (
	ErrNoPhone      = errors.New("lead has no phone number")
	ErrInvalidPhone = errors.New("lead phone number is not dialable")
	ErrLeadClosed   = errors.New("lead is closed to contact")
)

type Store interface {
	ListDialEligible(ctx context.Context, filter models.DialFilter) ([]models.Lead, error)
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	MarkLeadCalled(ctx context.Context, leadID, callSID string, at time.Time) error
	InsertCallRecord(ctx context.Context, record *models.CallRecord) error
}

type Caller interface {
	OutboundCall(ctx context.Context, req voice.CallRequest) (*voice.CallResult, error)
}

type SweepResult struct {
	Called             int
	Failed             int
	TotalEligible      int
	WithinCallingHours int
}

type Dialer struct {
	store  Store
	caller Caller
	cfg    config.DialerConfig
	delay  time.Duration
	now    func() time.Time
}

func NewDialer(store Store, caller Caller, cfg config.DialerConfig) *Dialer {
	return &Dialer{
		store:  store,
		caller: caller,
		cfg:    cfg,
		delay:  cfg.CallDelay(),
		now:    time.Now,
	}
}

// Sweep calls up to MaxCallsPerRun eligible leads whose local time is inside the calling window.
// A failed dial is counted and the sweep moves on.
func (d *Dialer) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	now := d.now()

	leads, err := d.store.ListDialEligible(ctx, models.DialFilter{
		Now:      now,
		Cooldown: d.cfg.Cooldown(),
		Limit:    d.cfg.FetchWindow,
	})
	if err != nil {
		metrics.ObserveJob("dialer", start, err)
		return nil, fmt.Errorf("failed to list dial leads: %w", err)
	}

	res := &SweepResult{TotalEligible: len(leads)}

	var callable []models.Lead
	for _, l := range leads {
		if geo.WithinCallingHours(l.Zip, now, d.cfg.WindowStart, d.cfg.WindowEnd) {
			callable = append(callable, l)
		}
	}
	res.WithinCallingHours = len(callable)
	if d.cfg.MaxCallsPerRun > 0 && len(callable) > d.cfg.MaxCallsPerRun {
		callable = callable[:d.cfg.MaxCallsPerRun]
	}

	logger.Info("Dialer sweep starting",
		zap.Int("eligible", res.TotalEligible),
		zap.Int("in_window", res.WithinCallingHours),
		zap.Int("dispatching", len(callable)),
	)

	for i := range callable {
		if i > 0 {
			if err := retry.Sleep(ctx, d.delay); err != nil {
				metrics.ObserveJob("dialer", start, err)
				return res, err
			}
		}

		lead := &callable[i]
		if _, err := d.dial(ctx, lead); err != nil {
			if errors.Is(err, config.ErrMissingCredential) {
				metrics.ObserveJob("dialer", start, err)
				return res, err
			}
			res.Failed++
			logger.Warn("Dial failed", zap.String("lead_id", lead.ID), zap.Error(err))
			continue
		}
		res.Called++
	}

	metrics.ObserveJob("dialer", start, nil)
	logger.Info("Dialer sweep completed", zap.Int("called", res.Called), zap.Int("failed", res.Failed))
	return res, nil
}

// CallLead dials a single lead on demand, outside the sweep's window and cooldown checks.
func (d *Dialer) CallLead(ctx context.Context, leadID string) (*voice.CallResult, error) {
	lead, err := d.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Phone == "" {
		return nil, ErrNoPhone
	}
	if lead.CampaignStatus.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrLeadClosed, lead.CampaignStatus)
	}
	return d.dial(ctx, lead)
}

func (d *Dialer) dial(ctx context.Context, lead *models.Lead) (*voice.CallResult, error) {
	phone, ok := NormalizeE164(lead.Phone)
	if !ok {
		metrics.CallsPlaced.WithLabelValues("invalid_phone").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, lead.Phone)
	}

	res, err := d.caller.OutboundCall(ctx, voice.CallRequest{
		ToNumber:  phone,
		Variables: callVariables(lead),
	})
	if err != nil {
		metrics.CallsPlaced.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CallsPlaced.WithLabelValues("placed").Inc()

	// the call is live; store failures below are logged rather than reported as a failed dial
	at := d.now()
	if err := d.store.MarkLeadCalled(ctx, lead.ID, res.CallSID, at); err != nil {
		logger.Error("Failed to mark lead called", zap.String("lead_id", lead.ID), zap.String("call_sid", res.CallSID), zap.Error(err))
	}
	record := &models.CallRecord{
		ID:             uuid.New().String(),
		LeadID:         lead.ID,
		Direction:      models.DirectionOutbound,
		ToNumber:       phone,
		CustomerName:   lead.BusinessName,
		CustomerEmail:  lead.Email,
		CallSID:        res.CallSID,
		ConversationID: res.ConversationID,
		Status:         models.CallInitiated,
		CreatedAt:      at,
	}
	if err := d.store.InsertCallRecord(ctx, record); err != nil {
		logger.Error("Failed to insert call record", zap.String("lead_id", lead.ID), zap.String("call_sid", res.CallSID), zap.Error(err))
	}

	logger.Info("Lead dialed",
		zap.String("lead_id", lead.ID),
		zap.String("call_sid", res.CallSID),
		zap.String("variant", string(lead.OpeningVariant)),
	)
	return res, nil
}

func callVariables(lead *models.Lead) map[string]string {
	vars := map[string]string{
		"lead_id":              lead.ID,
		"business_name":        lead.BusinessName,
		"business_type":        lead.BusinessType,
		"city":                 lead.City,
		"state":                lead.State,
		"opening_variant":      string(lead.OpeningVariant),
		"is_fiber_launch_area": strconv.FormatBool(lead.IsFiberLaunchArea),
		"drip_step":            strconv.Itoa(lead.DripStep),
	}
	if lead.FiberLaunchSource != "" {
		vars["fiber_launch_source"] = lead.FiberLaunchSource
	}
	if lead.DecisionMakerName != "" {
		vars["decision_maker_name"] = lead.DecisionMakerName
	}
	return vars
}
