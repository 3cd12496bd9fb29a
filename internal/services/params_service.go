package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
)

// ParameterBuilder turns a free-text sub-query into a strict parameter set
// for the structured search provider. A nil result means "cannot search, skip
// this branch" — builders never surface errors past this boundary.
type ParameterBuilder interface {
	BuildFlightParams(ctx context.Context, freeText string) models.SearchParameters
	BuildHotelParams(ctx context.Context, freeText string) models.SearchParameters
}

var (
	requiredFlightParams = []string{"departure_id", "arrival_id", "outbound_date"}
	requiredHotelParams  = []string{"q", "check_in_date", "check_out_date"}
)

// ParamsService prompts the completion provider for a minimal JSON object and
// validates the provider-specific required keys.
type ParamsService struct {
	completion CompletionProvider
	logger     *logger.Logger
	now        func() time.Time
}

func NewParamsService(completion CompletionProvider, log *logger.Logger) *ParamsService {
	return &ParamsService{
		completion: completion,
		logger:     log,
		now:        time.Now,
	}
}

func (service *ParamsService) BuildFlightParams(ctx context.Context, freeText string) models.SearchParameters {
	roleContext := fmt.Sprintf(`You are a flight search assistant. Help build a flight search query by interpreting user input.

Important formatting rules:
- Dates must be in YYYY-MM-DD format
- Airport codes must be in IATA format (3 letters)

For dates:
- Current date is: %s
- If no year is specified, assume the next possible occurrence of that date

Return ONLY a JSON object with these parameters:
- departure_id: IATA code for departure airport
- arrival_id: IATA code for arrival airport
- outbound_date: YYYY-MM-DD format
- type: 2 for "oneway" or 1 for "roundtrip", assume oneway by default unless otherwise mentioned

The user may also opt for a return_date, but assume one way unless otherwise stated.`,
		service.now().Format("2006-01-02"))

	return service.build(ctx, "flights", roleContext, freeText, requiredFlightParams)
}

func (service *ParamsService) BuildHotelParams(ctx context.Context, freeText string) models.SearchParameters {
	roleContext := fmt.Sprintf(`You are a hotel search assistant. Your role is to extract search parameters from the user input.

REQUIRED: You must always return these parameters:
- q: The location/destination for the hotel search
- check_in_date: In YYYY-MM-DD format
- check_out_date: In YYYY-MM-DD format

OPTIONAL parameters:
- adults: Number of adults (if specified)

Rules for parameter extraction:
1. For location (q parameter):
   - Extract from phrases like "in [location]", "at [location]", "to [location]"
   - Remove words like "hotels", "find", "search" from the location
   - Example: "Find hotels in Paris" -> q: "Paris"

2. For dates:
   - Current date is: %s
   - Convert all dates to YYYY-MM-DD format
   - If no year specified, use current year

Return a JSON object with ONLY these parameters.`,
		service.now().Format("2006-01-02"))

	return service.build(ctx, "hotels", roleContext, freeText, requiredHotelParams)
}

func (service *ParamsService) build(ctx context.Context, kind, roleContext, freeText string, required []string) models.SearchParameters {
	startTime := time.Now()

	response, err := service.completion.Complete(ctx, roleContext, freeText)
	if err != nil {
		service.logger.LogService("params", "build_"+kind, time.Since(startTime), map[string]interface{}{
			"input_length": len(freeText),
		}, err)
		return nil
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(StripCodeFences(response)), &decoded); err != nil {
		service.logger.WithError(err).Warn("Parameter JSON decode failed, skipping branch", "kind", kind)
		return nil
	}

	params := models.SearchParameters{}
	for key, value := range decoded {
		params[strings.TrimSpace(key)] = stringifyParam(value)
	}

	for _, key := range required {
		if params[key] == "" {
			service.logger.Warn("Missing required search parameter, skipping branch",
				"kind", kind, "missing", key)
			return nil
		}
	}

	service.logger.LogService("params", "build_"+kind, time.Since(startTime), map[string]interface{}{
		"param_count": len(params),
	}, nil)

	return params
}

func stringifyParam(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.Trim(strings.TrimSpace(v), `"'`)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// StripCodeFences removes markdown fence markup LLMs wrap around JSON output.
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}
	return response
}

// NightsBetween computes the stay length from provider date strings. Returns
// zero when either date is malformed.
func NightsBetween(checkIn, checkOut string) int {
	const layout = "2006-01-02"
	in, err := time.Parse(layout, checkIn)
	if err != nil {
		return 0
	}
	out, err := time.Parse(layout, checkOut)
	if err != nil {
		return 0
	}
	return int(out.Sub(in).Hours() / 24)
}
