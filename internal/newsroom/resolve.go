package newsroom

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/places"
	"github.com/leadflow/backend/pkg/logger"
)

// gridStep is the reverse-geocode grid spacing in degrees around a location's centre.
const gridStep = 0.1

const zipCacheTTL = 30 * 24 * time.Hour

type Geocoder interface {
	Geocode(ctx context.Context, address string) (places.LatLng, bool, error)
	PostalCodes(ctx context.Context, at places.LatLng) ([]string, error)
}

type ZipCache interface {
	GetZips(ctx context.Context, location string) ([]string, bool, error)
	SetZips(ctx context.Context, location string, zips []string, ttl time.Duration) error
}

// Resolver turns a free-text location into the ZIP codes around it.
type Resolver struct {
	geocoder Geocoder
	cache    ZipCache
}

func NewResolver(geocoder Geocoder, cache ZipCache) *Resolver {
	return &Resolver{geocoder: geocoder, cache: cache}
}

// Resolve geocodes location and reverse-geocodes a 3x3 grid around its centre. Per-point
// failures are skipped; a failed forward geocode is returned.
func (r *Resolver) Resolve(ctx context.Context, location string) ([]string, error) {
	if r.cache != nil {
		if zips, ok, err := r.cache.GetZips(ctx, location); err != nil {
			logger.Warn("Zip cache read failed", zap.String("location", location), zap.Error(err))
		} else if ok {
			return zips, nil
		}
	}

	centre, found, err := r.geocoder.Geocode(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode %q: %w", location, err)
	}

	var zips []string
	if found {
		seen := make(map[string]bool)
		for _, dLat := range []float64{0, -gridStep, gridStep} {
			for _, dLng := range []float64{0, -gridStep, gridStep} {
				pt := places.LatLng{Lat: centre.Lat + dLat, Lng: centre.Lng + dLng}
				codes, err := r.geocoder.PostalCodes(ctx, pt)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					logger.Debug("Reverse geocode failed", zap.Float64("lat", pt.Lat), zap.Float64("lng", pt.Lng), zap.Error(err))
					continue
				}
				for _, z := range codes {
					if len(z) == 5 && !seen[z] {
						seen[z] = true
						zips = append(zips, z)
					}
				}
			}
		}
	}

	if r.cache != nil {
		if err := r.cache.SetZips(ctx, location, zips, zipCacheTTL); err != nil {
			logger.Warn("Zip cache write failed", zap.String("location", location), zap.Error(err))
		}
	}

	logger.Debug("Location resolved", zap.String("location", location), zap.Strings("zips", zips))
	return zips, nil
}
