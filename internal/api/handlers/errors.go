package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	rediscache "github.com/leadflow/backend/internal/cache/redis"
	"github.com/leadflow/backend/internal/dialer"
	"github.com/leadflow/backend/internal/discovery"
	"github.com/leadflow/backend/internal/outcome"
	"github.com/leadflow/backend/internal/storage/sqlite"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
)

func statusFor(err error) int {
	var verr *outcome.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, discovery.ErrNoServiceableZips),
		errors.Is(err, dialer.ErrNoPhone),
		errors.Is(err, dialer.ErrInvalidPhone):
		return fiber.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, rediscache.ErrLocked),
		errors.Is(err, dialer.ErrLeadClosed),
		errors.Is(err, sqlite.ErrInvalidTransition):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// errorResponse writes {"success": false, "error": ...}. Internal failures hide their detail behind
// msg unless the cause is a missing credential the operator has to fix.
func errorResponse(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)

	text := err.Error()
	if status == fiber.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.Path()), zap.Error(err))
		if !errors.Is(err, config.ErrMissingCredential) {
			text = msg
		}
	} else {
		logger.Warn(msg, zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   text,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

// Run lock names, shared with leadctl so scheduled CLI runs and HTTP triggers exclude each other.
const (
	LockDiscoverySweep = "discovery-sweep"
	LockNewsroomScan   = "newsroom-scan"
	LockDrip           = "drip"
	LockDialerSweep    = "dialer-sweep"
)

// runLock keeps two scheduled runs of the same job from overlapping. A nil locker runs unguarded.
type runLock struct {
	locker rediscache.Locker
	ttl    time.Duration
}

func (l runLock) run(ctx context.Context, name string, fn func() error) error {
	if l.locker == nil {
		return fn()
	}
	release, err := l.locker.Acquire(ctx, name, l.ttl)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
