package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
)

const (
	flightsEngine = "google_flights"
	hotelsEngine  = "google_hotels"
)

// SearchProvider runs a parameterized query against the external search
// aggregation service. Failures of any kind come back as error-flagged
// results, never as errors.
type SearchProvider interface {
	Search(ctx context.Context, params models.SearchParameters) models.SearchResult
	FlightParams() models.SearchParameters
	HotelParams() models.SearchParameters
}

// SearchService is the SerpAPI adapter. A circuit breaker fronts the upstream
// so a flapping aggregator degrades into error results quickly instead of
// burning the per-call timeout on every request.
type SearchService struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  config.SearchConfig
	logger  *logger.Logger
}

func NewSearchService(cfg config.SearchConfig, log *logger.Logger) (*SearchService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("search API key required")
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "structured-search",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Search breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	service := &SearchService{
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		config:  cfg,
		logger:  log,
	}

	log.Info("Search service initialized",
		"base_url", cfg.BaseURL,
		"timeout", cfg.Timeout,
	)

	return service, nil
}

// FlightParams returns the fixed provider identity block for flight searches.
// Callers merge their own parameters on top.
func (service *SearchService) FlightParams() models.SearchParameters {
	return models.SearchParameters{
		"api_key": service.config.APIKey,
		"engine":  flightsEngine,
	}
}

// HotelParams returns the fixed provider identity block for hotel searches.
func (service *SearchService) HotelParams() models.SearchParameters {
	return models.SearchParameters{
		"api_key": service.config.APIKey,
		"engine":  hotelsEngine,
	}
}

// Search issues one GET against the aggregator. Transport, decode, and open
// breaker conditions are all converted to {error: message} results.
func (service *SearchService) Search(ctx context.Context, params models.SearchParameters) models.SearchResult {
	startTime := time.Now()
	engine := params["engine"]

	payload, err := service.breaker.Execute(func() (interface{}, error) {
		return service.makeRequest(ctx, params)
	})

	duration := time.Since(startTime)
	if err != nil {
		service.logger.LogService("search", "search", duration, map[string]interface{}{
			"engine":        engine,
			"breaker_state": service.breaker.State().String(),
		}, err)
		return models.NewSearchError(fmt.Sprintf("Error gathering search data...\n%v", err))
	}

	result := payload.(models.SearchResult)
	service.logger.LogService("search", "search", duration, map[string]interface{}{
		"engine":      engine,
		"result_keys": len(result),
	}, nil)

	return result
}

func (service *SearchService) makeRequest(ctx context.Context, params models.SearchParameters) (models.SearchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, service.config.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := service.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var result models.SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	return result, nil
}

func (service *SearchService) HealthCheck(ctx context.Context) error {
	// The aggregator has no ping endpoint; report breaker health instead.
	if service.breaker.State() == gobreaker.StateOpen {
		return errors.New("search circuit breaker is open")
	}
	return nil
}
