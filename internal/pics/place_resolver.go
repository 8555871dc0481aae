package pics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acm19/sortdate/internal/logger"
	"golang.org/x/time/rate"
)

// DefaultNominatimEndpoint is the public OpenStreetMap reverse geocoder.
const DefaultNominatimEndpoint = "https://nominatim.openstreetmap.org"

// PlaceResolver defines the interface for turning a coordinate into a place name
type PlaceResolver interface {
	// Resolve returns a city level place name, or "" when none can be found.
	// Failures are logged and never returned.
	Resolve(ctx context.Context, coord GeoCoordinate) string
}

// NominatimOptions configures the Nominatim resolver.
type NominatimOptions struct {
	// Endpoint is the base URL of the service.
	Endpoint string
	// Language is sent as accept-language.
	Language string
	// UserAgent identifies the application, as the Nominatim usage policy requires.
	UserAgent string
	// Timeout bounds a single request.
	Timeout time.Duration
	// MinInterval is the minimum time between two requests.
	MinInterval time.Duration
	// AddressFields are tried in order; the first non-empty value wins.
	AddressFields []string
}

// DefaultNominatimOptions returns options matching the public service policy.
func DefaultNominatimOptions() NominatimOptions {
	return NominatimOptions{
		Endpoint:      DefaultNominatimEndpoint,
		Language:      "en",
		UserAgent:     "sortdate",
		Timeout:       20 * time.Second,
		MinInterval:   time.Second,
		AddressFields: []string{"city"},
	}
}

// nominatimResolver implements PlaceResolver against the Nominatim reverse API
type nominatimResolver struct {
	client  *http.Client
	opts    NominatimOptions
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]string
}

// NewNominatimResolver creates a PlaceResolver backed by Nominatim.
// A non-positive Timeout is replaced by the default one.
func NewNominatimResolver(client *http.Client, opts NominatimOptions) PlaceResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultNominatimOptions().Timeout
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	if len(opts.AddressFields) == 0 {
		opts.AddressFields = []string{"city"}
	}
	return &nominatimResolver{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		cache:   make(map[string]string),
	}
}

type nominatimResponse struct {
	Error   string            `json:"error"`
	Address map[string]string `json:"address"`
}

// Resolve looks the coordinate up, at most once per distinct coordinate
func (r *nominatimResolver) Resolve(ctx context.Context, coord GeoCoordinate) string {
	query := coord.Query()

	// Held across the request: calls to the service never overlap.
	r.mu.Lock()
	defer r.mu.Unlock()

	if place, ok := r.cache[query]; ok {
		logger.Debug("Place cache hit", "location", query, "place", place)
		return place
	}

	place, err := r.lookup(ctx, coord)
	if err != nil {
		logger.Warn("Reverse geocoding failed", "location", query, "error", err)
		return ""
	}
	r.cache[query] = place
	logger.Info("Resolved place", "location", query, "place", place)
	return place
}

func (r *nominatimResolver) lookup(ctx context.Context, coord GeoCoordinate) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', 6, 64))
	params.Set("zoom", "10")
	params.Set("addressdetails", "1")
	if r.opts.Language != "" {
		params.Set("accept-language", r.opts.Language)
	}
	endpoint := strings.TrimSuffix(r.opts.Endpoint, "/") + "/reverse?" + params.Encode()

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("service error: %s", body.Error)
	}

	for _, field := range r.opts.AddressFields {
		if place := sanitisePlace(body.Address[field]); place != "" {
			return place, nil
		}
	}
	logger.Debug("No city level field in address", "fields", r.opts.AddressFields)
	return "", nil
}

// sanitisePlace keeps a place name to a single path element.
func sanitisePlace(place string) string {
	place = strings.TrimSpace(place)
	return strings.NewReplacer("/", "-", `\`, "-").Replace(place)
}

// noPlaceResolver is used when geo lookup is disabled
type noPlaceResolver struct{}

// NewNoPlaceResolver returns a PlaceResolver that never resolves anything
func NewNoPlaceResolver() PlaceResolver {
	return noPlaceResolver{}
}

func (noPlaceResolver) Resolve(context.Context, GeoCoordinate) string {
	return ""
}
