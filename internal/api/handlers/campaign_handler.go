package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	rediscache "github.com/leadflow/backend/internal/cache/redis"
	"github.com/leadflow/backend/internal/dialer"
	"github.com/leadflow/backend/internal/drip"
	"github.com/leadflow/backend/internal/graph/neo4j"
	"github.com/leadflow/backend/internal/newsroom"
	"github.com/leadflow/backend/pkg/logger"
)

const actionSendNextStep = "send-next-step"

type Scanner interface {
	Scan(ctx context.Context) (*newsroom.Result, error)
}

// SignalReader answers which articles announced service in a ZIP.
type SignalReader interface {
	ArticlesForZip(ctx context.Context, zip string) ([]neo4j.ArticleRef, error)
}

type DripSender interface {
	SendNextStep(ctx context.Context, req drip.Request) (*drip.Result, error)
}

type DialSweeper interface {
	Sweep(ctx context.Context) (*dialer.SweepResult, error)
}

// CampaignHandler serves the scheduled outreach jobs: newsroom scan, drip step and dialer sweep.
type CampaignHandler struct {
	scanner Scanner
	signals SignalReader
	drip    DripSender
	dialer  DialSweeper
	locks   runLock
}

func NewCampaignHandler(scanner Scanner, signals SignalReader, dripEngine DripSender, dialSweeper DialSweeper, locker rediscache.Locker, lockTTL time.Duration) *CampaignHandler {
	return &CampaignHandler{
		scanner: scanner,
		signals: signals,
		drip:    dripEngine,
		dialer:  dialSweeper,
		locks:   runLock{locker: locker, ttl: lockTTL},
	}
}

func (h *CampaignHandler) NewsroomScan(c *fiber.Ctx) error {
	var res *newsroom.Result
	err := h.locks.run(c.Context(), LockNewsroomScan, func() error {
		var err error
		res, err = h.scanner.Scan(c.Context())
		return err
	})
	if err != nil {
		return errorResponse(c, err, "Failed to scan newsroom")
	}

	articles := res.Articles
	if articles == nil {
		articles = []newsroom.ArticleSummary{}
	}
	resp := fiber.Map{
		"success":            true,
		"articlesFound":      res.ArticlesFound,
		"newArticlesScanned": res.NewArticlesScanned,
		"alreadyScanned":     res.AlreadyScanned,
		"totalZipCodesFound": res.TotalZipCodesFound,
		"articles":           articles,
	}
	if len(res.Errors) > 0 {
		resp["errors"] = res.Errors
	}
	return c.JSON(resp)
}

func (h *CampaignHandler) ZipSignals(c *fiber.Ctx) error {
	if h.signals == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "Signal graph is not enabled",
		})
	}

	zip := c.Params("zip")
	if len(zip) != 5 {
		return badRequest(c, "zip must be a 5-digit ZIP code")
	}

	refs, err := h.signals.ArticlesForZip(c.Context(), zip)
	if err != nil {
		return errorResponse(c, err, "Failed to read zip signals")
	}

	articles := make([]fiber.Map, 0, len(refs))
	for _, r := range refs {
		articles = append(articles, fiber.Map{
			"url":         r.URL,
			"title":       r.Title,
			"publishDate": r.PublishDate,
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"zip":      zip,
		"articles": articles,
	})
}

func (h *CampaignHandler) Drip(c *fiber.Ctx) error {
	var req struct {
		Action        string   `json:"action"`
		LeadIDs       []string `json:"leadIds"`
		CampaignRunID string   `json:"campaignRunId"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.Action != actionSendNextStep {
		return badRequest(c, "Unknown action: "+req.Action)
	}

	var res *drip.Result
	err := h.locks.run(c.Context(), LockDrip, func() error {
		var err error
		res, err = h.drip.SendNextStep(c.Context(), drip.Request{
			LeadIDs:       req.LeadIDs,
			CampaignRunID: req.CampaignRunID,
		})
		return err
	})
	if err != nil {
		return errorResponse(c, err, "Failed to send drip step")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"sent":    res.Sent,
		"failed":  res.Failed,
		"skipped": res.Skipped,
	})
}

func (h *CampaignHandler) DialerSweep(c *fiber.Ctx) error {
	var res *dialer.SweepResult
	err := h.locks.run(c.Context(), LockDialerSweep, func() error {
		var err error
		res, err = h.dialer.Sweep(c.Context())
		return err
	})
	if err != nil {
		return errorResponse(c, err, "Failed to run dialer sweep")
	}

	return c.JSON(fiber.Map{
		"success":            true,
		"called":             res.Called,
		"failed":             res.Failed,
		"totalEligible":      res.TotalEligible,
		"withinCallingHours": res.WithinCallingHours,
	})
}
