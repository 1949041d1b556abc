// Package discovery finds business leads by place search over serviceable ZIP codes and keeps
// the geographic sweep cursor that drives the continuous variant.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/geo"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/places"
	"github.com/leadflow/backend/internal/scrape"
	"github.com/leadflow/backend/internal/storage/models"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

var ErrNoServiceableZips = errors.New("no serviceable zip codes")

type PlaceSearcher interface {
	TextSearch(ctx context.Context, query string) ([]places.Place, error)
	Details(ctx context.Context, placeID string) (*places.Details, error)
}

type Store interface {
	InsertLeadIgnore(ctx context.Context, lead *models.Lead) (bool, error)
	GetSweepState(ctx context.Context) (*models.SweepState, error)
	SaveSweepState(ctx context.Context, s *models.SweepState) error
	RecentFiberZips(ctx context.Context, limit int) ([]string, error)
	AddCampaignLeads(ctx context.Context, runID string, discovered int) error
}

type Request struct {
	ZipCodes      []string
	BusinessType  string
	CampaignRunID string
}

type Result struct {
	BatchID       string
	ZipsSearched  []string
	TotalFound    int
	TotalInserted int
	EmailsFound   int
	Skipped       int
	Errors        []string
}

type SweepResult struct {
	Result
	PrefixesSearched        []string
	CursorPosition          int
	BusinessType            string
	FiberLaunchZipsIncluded int
}

type Engine struct {
	store    Store
	places   PlaceSearcher
	scraper  scrape.Scraper
	cfg      config.DiscoveryConfig
	cursor   Cursor
	zipDelay time.Duration
	now      func() time.Time
	newID    func() string
}

// NewEngine builds the engine. scraper may be nil, in which case no emails are collected.
func NewEngine(store Store, placesClient PlaceSearcher, scraper scrape.Scraper, cfg config.DiscoveryConfig) *Engine {
	return &Engine{
		store:    store,
		places:   placesClient,
		scraper:  scraper,
		cfg:      cfg,
		cursor:   Cursor{Prefixes: geo.ServiceablePrefixes(), BatchSize: cfg.PrefixBatchSize},
		zipDelay: cfg.ZipDelay(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Discover searches caller-supplied ZIPs. ZIPs outside the footprint are dropped first and
// ErrNoServiceableZips is returned when none remain.
func (e *Engine) Discover(ctx context.Context, req Request) (*Result, error) {
	zips := geo.FilterServiceable(req.ZipCodes)
	if len(zips) == 0 {
		return nil, ErrNoServiceableZips
	}

	category := strings.TrimSpace(req.BusinessType)
	if category == "" {
		category = e.cfg.DefaultBusinessType
	}
	batchID := req.CampaignRunID
	if batchID == "" {
		batchID = e.newID()
	}

	start := time.Now()
	res, err := e.run(ctx, zips, category, batchID)
	metrics.ObserveJob("discovery", start, err)

	if req.CampaignRunID != "" && res.TotalInserted > 0 {
		if err := e.store.AddCampaignLeads(ctx, req.CampaignRunID, res.TotalInserted); err != nil {
			logger.Warn("Failed to credit campaign run", zap.String("campaign_run_id", req.CampaignRunID), zap.Error(err))
		}
	}
	return res, err
}

// Sweep runs the next cursor window plus recent fiber-launch ZIPs and advances the cursor.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()

	state, err := e.store.GetSweepState(ctx)
	if err != nil {
		logger.Warn("Sweep state unreadable, starting from the top", zap.Error(err))
		state = &models.SweepState{}
	}

	prefixes, next := e.cursor.Window(state.NextIndex)
	category := Category(e.cfg.Categories, state.RunCount)
	if category == "" {
		category = e.cfg.DefaultBusinessType
	}

	fiberZips, err := e.store.RecentFiberZips(ctx, e.cfg.FiberZipCap)
	if err != nil {
		logger.Warn("Failed to load fiber launch zips", zap.Error(err))
		fiberZips = nil
	}

	var rotation []string
	for _, p := range prefixes {
		rotation = append(rotation, SampleZips(p, e.cfg.ZipsPerPrefix)...)
	}
	zips := MergeZips(fiberZips, rotation)

	logger.Info("Starting discovery sweep",
		zap.Int("cursor", state.NextIndex),
		zap.Strings("prefixes", prefixes),
		zap.String("category", category),
		zap.Int("fiber_zips", len(fiberZips)),
	)

	res, runErr := e.run(ctx, zips, category, e.newID())
	out := &SweepResult{
		Result:                  *res,
		PrefixesSearched:        prefixes,
		CursorPosition:          state.NextIndex,
		BusinessType:            category,
		FiberLaunchZipsIncluded: len(fiberZips),
	}

	// an interrupted or misconfigured batch is re-run next time rather than skipped
	if runErr != nil {
		metrics.ObserveJob("sweep", start, runErr)
		return out, runErr
	}

	now := e.now()
	nextState := &models.SweepState{
		NextIndex:        next,
		RunCount:         state.RunCount + 1,
		ActiveCategory:   category,
		LastRunAt:        &now,
		LastZipsSearched: len(res.ZipsSearched),
		LastInserted:     res.TotalInserted,
	}
	if err := e.store.SaveSweepState(ctx, nextState); err != nil {
		metrics.ObserveJob("sweep", start, err)
		return out, fmt.Errorf("failed to save sweep state: %w", err)
	}
	out.CursorPosition = next

	metrics.ObserveJob("sweep", start, nil)
	logger.Info("Discovery sweep completed",
		zap.Int("zips", len(res.ZipsSearched)),
		zap.Int("found", res.TotalFound),
		zap.Int("inserted", res.TotalInserted),
		zap.Int("next_cursor", next),
	)
	return out, nil
}

func (e *Engine) run(ctx context.Context, zips []string, category, batchID string) (*Result, error) {
	res := &Result{BatchID: batchID}

	for i, zip := range zips {
		if i > 0 {
			if err := retry.Sleep(ctx, e.zipDelay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.ZipsSearched = append(res.ZipsSearched, zip)
		if err := e.searchZip(ctx, zip, category, batchID, res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// searchZip records per-place failures in res and only returns configuration errors, which end
// the whole run.
func (e *Engine) searchZip(ctx context.Context, zip, category, batchID string, res *Result) error {
	query := fmt.Sprintf("%s in %s", category, zip)
	found, err := e.places.TextSearch(ctx, query)
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			return fmt.Errorf("failed to search zip %s: %w", zip, err)
		}
		e.fail(res, "search", fmt.Sprintf("zip %s: %v", zip, err))
		return nil
	}

	res.TotalFound += len(found)
	metrics.PlacesFound.Add(float64(len(found)))

	for _, p := range found {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.processPlace(ctx, p, zip, category, batchID, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processPlace(ctx context.Context, p places.Place, searchedZip, category, batchID string, res *Result) error {
	details, err := e.places.Details(ctx, p.PlaceID)
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			return fmt.Errorf("failed to get place details: %w", err)
		}
		e.fail(res, "details", fmt.Sprintf("place %s: %v", p.PlaceID, err))
		return nil
	}

	formatted := details.FormattedAddress
	if formatted == "" {
		formatted = p.FormattedAddress
	}
	addr := geo.ParseAddress(formatted)
	if addr.Zip == "" {
		addr.Zip = searchedZip
	}
	if !geo.IsServiceable(addr.Zip) {
		res.Skipped++
		logger.Debug("Skipping place outside footprint", zap.String("place_id", p.PlaceID), zap.String("zip", addr.Zip))
		return nil
	}

	name := details.Name
	if name == "" {
		name = p.Name
	}

	lead := &models.Lead{
		ID:             e.newID(),
		PlaceID:        p.PlaceID,
		BusinessName:   name,
		BusinessType:   category,
		Address:        formatted,
		City:           addr.City,
		State:          addr.State,
		Zip:            addr.Zip,
		Phone:          details.Phone,
		Website:        details.Website,
		CampaignStatus: models.StatusNew,
		OpeningVariant: models.VariantFor(p.PlaceID),
		DiscoveryBatch: batchID,
		CreatedAt:      e.now(),
	}
	lat, lng := details.Lat, details.Lng
	if lat == 0 && lng == 0 {
		lat, lng = p.Lat, p.Lng
	}
	if lat != 0 || lng != 0 {
		lead.Latitude, lead.Longitude = &lat, &lng
	}

	if details.Website != "" && e.cfg.ScrapeEmails && e.scraper != nil {
		page, err := e.scraper.Scrape(ctx, details.Website)
		if err != nil {
			e.fail(res, "scrape", fmt.Sprintf("website %s: %v", details.Website, err))
		} else if email := ExtractEmail(page.Markdown); email != "" {
			lead.Email = email
			res.EmailsFound++
			metrics.EmailsFound.Inc()
		}
	}

	inserted, err := e.store.InsertLeadIgnore(ctx, lead)
	if err != nil {
		e.fail(res, "store", fmt.Sprintf("place %s: %v", p.PlaceID, err))
		return nil
	}
	if inserted {
		res.TotalInserted++
		metrics.LeadsInserted.Inc()
	}
	return nil
}

func (e *Engine) fail(res *Result, stage, msg string) {
	res.Errors = append(res.Errors, msg)
	metrics.DiscoveryErrors.WithLabelValues(stage).Inc()
	logger.Warn("Discovery step failed", zap.String("stage", stage), zap.String("error", msg))
}
