package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBudget(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
	}{
		{"plain number", "3000", 3000},
		{"dollar sign", "$3000", 3000},
		{"commas", "$3,000.50", 3000.50},
		{"whitespace", "  $1500 ", 1500},
		{"empty", "", 0},
		{"non numeric", "a lot", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseBudget(tc.raw))
		})
	}
}

func TestBudgetStateLedgerOrder(t *testing.T) {
	budget := NewBudgetState("$3000")
	require.True(t, budget.Active())

	budget.Debit("Flight cost", 500)
	budget.Debit("Hotel cost", 700)

	assert.Equal(t, 1800.0, budget.Remaining)

	summary := budget.Summary()
	assert.Contains(t, summary, "Budget Breakdown:")
	assert.Contains(t, summary, "Flight cost: $500.00")
	assert.Contains(t, summary, "Hotel cost: $700.00")
	assert.Contains(t, summary, "Remaining budget for activities: $1800.00")

	flightIndex := strings.Index(summary, "Flight cost")
	hotelIndex := strings.Index(summary, "Hotel cost")
	assert.Less(t, flightIndex, hotelIndex, "flight debit must be listed before hotel debit")
}

func TestBudgetStateOverspendNotClamped(t *testing.T) {
	budget := NewBudgetState("100")
	budget.Debit("Flight cost", 250)

	assert.Equal(t, -150.0, budget.Remaining)
	assert.Contains(t, budget.Summary(), "Remaining budget for activities: $-150.00")
}

func TestBudgetStateInactive(t *testing.T) {
	budget := NewBudgetState("")
	assert.False(t, budget.Active())
	assert.Empty(t, budget.Summary())
}

func TestSearchResultErrorMarker(t *testing.T) {
	result := NewSearchError("upstream unavailable")
	assert.True(t, result.IsError())
	assert.Equal(t, "upstream unavailable", result.ErrorMessage())

	clean := SearchResult{"best_flights": []interface{}{}}
	assert.False(t, clean.IsError())
}

func TestBestFlightPrice(t *testing.T) {
	result := SearchResult{
		"best_flights": []interface{}{
			map[string]interface{}{"price": float64(523)},
			map[string]interface{}{"price": float64(610)},
		},
	}

	price, ok := result.BestFlightPrice()
	require.True(t, ok)
	assert.Equal(t, 523.0, price)
}

func TestBestFlightPriceStringAmount(t *testing.T) {
	result := SearchResult{
		"best_flights": []interface{}{
			map[string]interface{}{"price": "$1,234"},
		},
	}

	price, ok := result.BestFlightPrice()
	require.True(t, ok)
	assert.Equal(t, 1234.0, price)
}

func TestBestFlightPriceAbsent(t *testing.T) {
	_, ok := SearchResult{}.BestFlightPrice()
	assert.False(t, ok)

	_, ok = SearchResult{"best_flights": []interface{}{}}.BestFlightPrice()
	assert.False(t, ok)

	_, ok = SearchResult{"best_flights": []interface{}{map[string]interface{}{}}}.BestFlightPrice()
	assert.False(t, ok)
}

func TestFirstHotelCostPrecedence(t *testing.T) {
	t.Run("total rate wins over per night", func(t *testing.T) {
		result := SearchResult{
			"properties": []interface{}{
				map[string]interface{}{
					"total_rate":     map[string]interface{}{"extracted_lowest": float64(700)},
					"rate_per_night": map[string]interface{}{"extracted_lowest": float64(120)},
				},
			},
		}
		cost, ok := result.FirstHotelCost(3)
		require.True(t, ok)
		assert.Equal(t, 700.0, cost)
	})

	t.Run("total rate lowest string", func(t *testing.T) {
		result := SearchResult{
			"properties": []interface{}{
				map[string]interface{}{
					"total_rate": map[string]interface{}{"lowest": "$840"},
				},
			},
		}
		cost, ok := result.FirstHotelCost(2)
		require.True(t, ok)
		assert.Equal(t, 840.0, cost)
	})

	t.Run("per night multiplied by stay length", func(t *testing.T) {
		result := SearchResult{
			"properties": []interface{}{
				map[string]interface{}{
					"rate_per_night": map[string]interface{}{"extracted_lowest": float64(120)},
				},
			},
		}
		cost, ok := result.FirstHotelCost(3)
		require.True(t, ok)
		assert.Equal(t, 360.0, cost)
	})

	t.Run("per night not multiplied without stay length", func(t *testing.T) {
		result := SearchResult{
			"properties": []interface{}{
				map[string]interface{}{
					"rate_per_night": map[string]interface{}{"extracted_lowest": float64(120)},
				},
			},
		}
		cost, ok := result.FirstHotelCost(0)
		require.True(t, ok)
		assert.Equal(t, 120.0, cost)
	})

	t.Run("no properties", func(t *testing.T) {
		_, ok := SearchResult{}.FirstHotelCost(2)
		assert.False(t, ok)
	})
}

func TestDeepLink(t *testing.T) {
	flight := SearchResult{
		"search_metadata": map[string]interface{}{
			"google_flights_url": "https://www.google.com/travel/flights?q=abc",
		},
	}
	assert.Equal(t, "https://www.google.com/travel/flights?q=abc", flight.DeepLink())

	hotel := SearchResult{
		"search_metadata": map[string]interface{}{
			"google_hotels_url": "https://www.google.com/travel/hotels?q=paris",
		},
	}
	assert.Equal(t, "https://www.google.com/travel/hotels?q=paris", hotel.DeepLink())

	assert.Empty(t, SearchResult{}.DeepLink())
}

func TestIntentPatternIsEmpty(t *testing.T) {
	assert.True(t, (&IntentPattern{}).IsEmpty())
	assert.False(t, (&IntentPattern{Questions: "Best time to visit?"}).IsEmpty())
	assert.False(t, (&IntentPattern{Function: "unrelated"}).IsEmpty())
}

func TestFlattenExchanges(t *testing.T) {
	exchanges := []ConversationExchange{
		{Prompt: "I want to fly to Paris", Response: "Sure, when?", Timestamp: time.Now()},
		{Prompt: "Next Friday", Response: "", Timestamp: time.Now()},
	}

	flat := FlattenExchanges(exchanges)
	assert.Equal(t, "user: I want to fly to Paris\nassistant: Sure, when?\nuser: Next Friday", flat)

	assert.Empty(t, FlattenExchanges(nil))
}
