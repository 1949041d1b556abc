// Package places is the place search, place details and geocoding client.
package places

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/pkg/apiclient"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
	"github.com/leadflow/backend/pkg/retry"
)

const detailFields = "place_id,name,formatted_address,formatted_phone_number,international_phone_number,website,geometry"

type Place struct {
	PlaceID          string
	Name             string
	FormattedAddress string
	Lat              float64
	Lng              float64
}

type Details struct {
	Place
	Phone   string
	Website string
}

type LatLng struct {
	Lat float64
	Lng float64
}

type Client struct {
	apiKey string
	api    *apiclient.Client
}

func NewClient(cfg config.PlacesConfig) *Client {
	return NewClientWithRetry(cfg, retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	})
}

func NewClientWithRetry(cfg config.PlacesConfig, retryCfg retry.Config) *Client {
	api := apiclient.New("places", apiclient.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		Idempotent: true,
		Retry:      retryCfg,
	})

	logger.Info("Places client initialized", zap.String("base_url", cfg.BaseURL))

	return &Client{apiKey: cfg.APIKey, api: api}
}

type apiLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type apiPlace struct {
	PlaceID                  string `json:"place_id"`
	Name                     string `json:"name"`
	FormattedAddress         string `json:"formatted_address"`
	FormattedPhoneNumber     string `json:"formatted_phone_number"`
	InternationalPhoneNumber string `json:"international_phone_number"`
	Website                  string `json:"website"`
	Geometry                 struct {
		Location apiLocation `json:"location"`
	} `json:"geometry"`
}

func (p apiPlace) place() Place {
	return Place{
		PlaceID:          p.PlaceID,
		Name:             p.Name,
		FormattedAddress: p.FormattedAddress,
		Lat:              p.Geometry.Location.Lat,
		Lng:              p.Geometry.Location.Lng,
	}
}

// TextSearch runs a free-text place query such as "restaurants in 14604".
func (c *Client) TextSearch(ctx context.Context, query string) ([]Place, error) {
	if err := config.RequireKey("places.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	var resp struct {
		Status       string     `json:"status"`
		ErrorMessage string     `json:"error_message"`
		Results      []apiPlace `json:"results"`
	}
	params := url.Values{"query": {query}, "key": {c.apiKey}}
	if err := c.api.Get(ctx, "/place/textsearch/json", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to search places: %w", err)
	}
	if err := checkStatus(resp.Status, resp.ErrorMessage); err != nil {
		return nil, fmt.Errorf("failed to search places: %w", err)
	}

	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.PlaceID == "" {
			continue
		}
		places = append(places, r.place())
	}

	logger.Debug("Place search completed", zap.String("query", query), zap.Int("results", len(places)))
	return places, nil
}

func (c *Client) Details(ctx context.Context, placeID string) (*Details, error) {
	if err := config.RequireKey("places.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	var resp struct {
		Status       string   `json:"status"`
		ErrorMessage string   `json:"error_message"`
		Result       apiPlace `json:"result"`
	}
	params := url.Values{"place_id": {placeID}, "fields": {detailFields}, "key": {c.apiKey}}
	if err := c.api.Get(ctx, "/place/details/json", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get place details: %w", err)
	}
	if err := checkStatus(resp.Status, resp.ErrorMessage); err != nil {
		return nil, fmt.Errorf("failed to get place details: %w", err)
	}

	d := &Details{
		Place:   resp.Result.place(),
		Phone:   resp.Result.FormattedPhoneNumber,
		Website: resp.Result.Website,
	}
	if d.Phone == "" {
		d.Phone = resp.Result.InternationalPhoneNumber
	}
	if d.PlaceID == "" {
		d.PlaceID = placeID
	}
	return d, nil
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location apiLocation `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode returns the centre of the first match for address. ok is false when nothing matched.
func (c *Client) Geocode(ctx context.Context, address string) (LatLng, bool, error) {
	if err := config.RequireKey("places.apiKey", c.apiKey); err != nil {
		return LatLng{}, false, err
	}

	var resp geocodeResponse
	params := url.Values{"address": {address}, "components": {"country:US"}, "key": {c.apiKey}}
	if err := c.api.Get(ctx, "/geocode/json", params, &resp); err != nil {
		return LatLng{}, false, fmt.Errorf("failed to geocode: %w", err)
	}
	if err := checkStatus(resp.Status, resp.ErrorMessage); err != nil {
		return LatLng{}, false, fmt.Errorf("failed to geocode: %w", err)
	}
	if len(resp.Results) == 0 {
		return LatLng{}, false, nil
	}

	loc := resp.Results[0].Geometry.Location
	return LatLng{Lat: loc.Lat, Lng: loc.Lng}, true, nil
}

// PostalCodes reverse-geocodes a point and returns the postal codes reported for it.
func (c *Client) PostalCodes(ctx context.Context, at LatLng) ([]string, error) {
	if err := config.RequireKey("places.apiKey", c.apiKey); err != nil {
		return nil, err
	}

	var resp geocodeResponse
	params := url.Values{
		"latlng":      {strconv.FormatFloat(at.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(at.Lng, 'f', 5, 64)},
		"result_type": {"postal_code"},
		"key":         {c.apiKey},
	}
	if err := c.api.Get(ctx, "/geocode/json", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to reverse geocode: %w", err)
	}
	if err := checkStatus(resp.Status, resp.ErrorMessage); err != nil {
		return nil, fmt.Errorf("failed to reverse geocode: %w", err)
	}

	var zips []string
	for _, r := range resp.Results {
		for _, comp := range r.AddressComponents {
			for _, t := range comp.Types {
				if t == "postal_code" {
					zips = append(zips, comp.ShortName)
				}
			}
		}
	}
	return zips, nil
}

func checkStatus(status, message string) error {
	switch status {
	case "", "OK", "ZERO_RESULTS":
		return nil
	}
	return fmt.Errorf("places status %s: %s", status, message)
}
