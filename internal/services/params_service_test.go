package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas-travel-pipeline/internal/pkg/logger"
)

func TestBuildFlightParams(t *testing.T) {
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		assert.Contains(t, roleContext, "IATA")
		assert.Equal(t, "Fly from New York to Paris on September 1", prompt)
		return `{"departure_id": "JFK", "arrival_id": "CDG", "outbound_date": "2026-09-01", "type": 2}`, nil
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))

	params := service.BuildFlightParams(context.Background(), "Fly from New York to Paris on September 1")
	require.NotNil(t, params)
	assert.Equal(t, "JFK", params["departure_id"])
	assert.Equal(t, "CDG", params["arrival_id"])
	assert.Equal(t, "2026-09-01", params["outbound_date"])
	assert.Equal(t, "2", params["type"], "numeric values are flattened to strings")
}

func TestBuildFlightParamsMissingRequiredKey(t *testing.T) {
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return `{"departure_id": "JFK", "outbound_date": "2026-09-01"}`, nil
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))

	assert.Nil(t, service.BuildFlightParams(context.Background(), "Fly somewhere"),
		"incomplete parameter set must yield nil, not a partial search")
}

func TestBuildFlightParamsCompletionFailure(t *testing.T) {
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return "", errors.New("provider down")
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))
	assert.Nil(t, service.BuildFlightParams(context.Background(), "Fly to Paris"))
}

func TestBuildHotelParams(t *testing.T) {
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return "```json\n{\"q\": \" Paris \", \"check_in_date\": \"2026-09-01\", \"check_out_date\": \"2026-09-03\", \"adults\": 2}\n```", nil
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))

	params := service.BuildHotelParams(context.Background(), "Hotel in Paris for 2 nights")
	require.NotNil(t, params)
	assert.Equal(t, "Paris", params["q"], "values are trimmed")
	assert.Equal(t, "2026-09-01", params["check_in_date"])
	assert.Equal(t, "2026-09-03", params["check_out_date"])
	assert.Equal(t, "2", params["adults"])
}

func TestBuildHotelParamsMalformedJSON(t *testing.T) {
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return "sorry, I can't produce JSON today", nil
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))
	assert.Nil(t, service.BuildHotelParams(context.Background(), "Hotel in Paris"))
}

func TestParamsPromptCarriesCurrentDate(t *testing.T) {
	var capturedContext string
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		capturedContext = roleContext
		return `{"departure_id": "JFK", "arrival_id": "CDG", "outbound_date": "2026-09-01"}`, nil
	})

	service := NewParamsService(completion, logger.NewTestLogger(t))
	service.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }

	service.BuildFlightParams(context.Background(), "Fly to Paris on September 1")
	assert.Contains(t, capturedContext, "2026-08-29")
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"surrounding whitespace", "  {\"a\": 1}  ", `{"a": 1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFences(tc.input))
		})
	}
}

func TestNightsBetween(t *testing.T) {
	assert.Equal(t, 2, NightsBetween("2026-09-01", "2026-09-03"))
	assert.Equal(t, 0, NightsBetween("2026-09-01", "2026-09-01"))
	assert.Equal(t, 0, NightsBetween("not-a-date", "2026-09-03"))
	assert.Equal(t, 0, NightsBetween("2026-09-01", ""))
	assert.Equal(t, -1, NightsBetween("2026-09-03", "2026-09-02"))
}
