package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	rediscache "github.com/leadflow/backend/internal/cache/redis"
	"github.com/leadflow/backend/internal/discovery"
	"github.com/leadflow/backend/pkg/logger"
)

type Discoverer interface {
	Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error)
	Sweep(ctx context.Context) (*discovery.SweepResult, error)
}

type DiscoveryHandler struct {
	engine Discoverer
	locks  runLock
}

func NewDiscoveryHandler(engine Discoverer, locker rediscache.Locker, lockTTL time.Duration) *DiscoveryHandler {
	return &DiscoveryHandler{
		engine: engine,
		locks:  runLock{locker: locker, ttl: lockTTL},
	}
}

func (h *DiscoveryHandler) Search(c *fiber.Ctx) error {
	var req struct {
		ZipCodes      []string `json:"zipCodes"`
		BusinessType  string   `json:"businessType"`
		CampaignRunID string   `json:"campaignRunId"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	res, err := h.engine.Discover(c.Context(), discovery.Request{
		ZipCodes:      req.ZipCodes,
		BusinessType:  req.BusinessType,
		CampaignRunID: req.CampaignRunID,
	})
	if err != nil {
		return errorResponse(c, err, "Failed to run discovery")
	}

	resp := fiber.Map{
		"success":              true,
		"batchId":              res.BatchID,
		"spectrumZipsSearched": res.ZipsSearched,
		"totalFound":           res.TotalFound,
		"totalInserted":        res.TotalInserted,
		"emailsFound":          res.EmailsFound,
		"skipped":              res.Skipped,
	}
	if len(res.Errors) > 0 {
		resp["errors"] = res.Errors
	}
	return c.JSON(resp)
}

func (h *DiscoveryHandler) Sweep(c *fiber.Ctx) error {
	var res *discovery.SweepResult
	err := h.locks.run(c.Context(), LockDiscoverySweep, func() error {
		var err error
		res, err = h.engine.Sweep(c.Context())
		return err
	})
	if err != nil {
		return errorResponse(c, err, "Failed to run discovery sweep")
	}

	resp := fiber.Map{
		"success":                 true,
		"batchId":                 res.BatchID,
		"prefixesSearched":        res.PrefixesSearched,
		"zipsSearched":            res.ZipsSearched,
		"totalFound":              res.TotalFound,
		"totalInserted":           res.TotalInserted,
		"totalEmailsFound":        res.EmailsFound,
		"cursorPosition":          res.CursorPosition,
		"businessType":            res.BusinessType,
		"fiberLaunchZipsIncluded": res.FiberLaunchZipsIncluded,
	}
	if len(res.Errors) > 0 {
		resp["errors"] = res.Errors
	}
	return c.JSON(resp)
}
