package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/utils"
)

// ErrLocked is returned by Acquire when another run holds the lock.
var ErrLocked = errors.New("run already in progress")

// Locker hands out named run locks. The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

type Client struct {
	client *redis.Client
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// releaseScript deletes the lock only while it still carries our token, so a run that outlived
// its TTL cannot free a lock taken over by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := "lock:" + name
	token := uuid.New().String()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, name)
	}

	logger.Debug("Run lock acquired", zap.String("lock", name), zap.Duration("ttl", ttl))

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, c.client, []string{key}, token).Err(); err != nil {
				logger.Warn("Failed to release run lock", zap.String("lock", name), zap.Error(err))
			}
		})
	}, nil
}

// SetZips caches the ZIP codes resolved for a free-text location.
func (c *Client) SetZips(ctx context.Context, location string, zips []string, ttl time.Duration) error {
	data, err := json.Marshal(zips)
	if err != nil {
		return fmt.Errorf("failed to marshal zips: %w", err)
	}

	if err := c.client.Set(ctx, utils.CacheKey("geozip", location), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set zip cache: %w", err)
	}

	logger.Debug("Location zips cached", zap.String("location", location), zap.Int("zips", len(zips)))
	return nil
}

func (c *Client) GetZips(ctx context.Context, location string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, utils.CacheKey("geozip", location)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("geozip").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get zip cache: %w", err)
	}

	var zips []string
	if err := json.Unmarshal(data, &zips); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal zips: %w", err)
	}

	metrics.CacheHits.WithLabelValues("geozip").Inc()
	return zips, true, nil
}
