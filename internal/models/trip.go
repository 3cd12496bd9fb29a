package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssistRequest is the boundary input. History is the first-class way to pass
// prior conversation; Context may still smuggle it behind literal markers for
// older clients (see handlers). FlightParams bypasses the orchestrator with a
// pre-structured flight search.
type AssistRequest struct {
	Context      string            `json:"context"`
	Prompt       string            `json:"prompt"`
	History      string            `json:"history,omitempty"`
	SessionID    string            `json:"sessionId,omitempty"`
	FlightParams map[string]string `json:"flightParams,omitempty"`
}

// IntentPattern is the structured object decoded from the classifier output.
// Every field is optional free text; Function is set only for out-of-scope
// queries, in which case Response carries the classifier's own reply.
type IntentPattern struct {
	Flight    string `json:"flight,omitempty"`
	Hotel     string `json:"hotel,omitempty"`
	Questions string `json:"questions,omitempty"`
	Budget    string `json:"budget,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Function  string `json:"function,omitempty"`
	Response  string `json:"response,omitempty"`
}

func (p *IntentPattern) IsEmpty() bool {
	return p.Flight == "" && p.Hotel == "" && p.Questions == "" &&
		p.Budget == "" && p.Notes == "" && p.Function == ""
}

// SearchParameters is a flat string mapping sent as URL query values.
type SearchParameters map[string]string

// SearchResult is the provider-native JSON payload, or an error marker
// {"error": msg}. Never both.
type SearchResult map[string]interface{}

func NewSearchError(message string) SearchResult {
	return SearchResult{"error": message}
}

func (r SearchResult) IsError() bool {
	_, ok := r["error"]
	return ok
}

func (r SearchResult) ErrorMessage() string {
	if msg, ok := r["error"].(string); ok {
		return msg
	}
	return ""
}

// BestFlightPrice returns the price of the first listed offer. Absent or
// malformed fields read as unavailable, never as a crash.
func (r SearchResult) BestFlightPrice() (float64, bool) {
	flights, ok := r["best_flights"].([]interface{})
	if !ok || len(flights) == 0 {
		return 0, false
	}
	first, ok := flights[0].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return parseMoney(first["price"])
}

// FirstHotelCost applies the provider's rate-field precedence: total stay rate
// first, then per-night rate multiplied by the stay length when positive.
func (r SearchResult) FirstHotelCost(nights int) (float64, bool) {
	properties, ok := r["properties"].([]interface{})
	if !ok || len(properties) == 0 {
		return 0, false
	}
	property, ok := properties[0].(map[string]interface{})
	if !ok {
		return 0, false
	}

	if totalRate, ok := property["total_rate"].(map[string]interface{}); ok {
		if cost, ok := parseMoney(totalRate["extracted_lowest"]); ok {
			return cost, true
		}
		if cost, ok := parseMoney(totalRate["lowest"]); ok {
			return cost, true
		}
	}

	if perNight, ok := property["rate_per_night"].(map[string]interface{}); ok {
		if cost, ok := parseMoney(perNight["extracted_lowest"]); ok {
			if nights > 0 {
				cost *= float64(nights)
			}
			return cost, true
		}
		if cost, ok := parseMoney(perNight["lowest"]); ok {
			return cost, true
		}
	}

	return 0, false
}

// DeepLink returns the canonical booking-site URL the provider reports for
// this result, if any.
func (r SearchResult) DeepLink() string {
	metadata, ok := r["search_metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"google_flights_url", "google_hotels_url"} {
		if link, ok := metadata[key].(string); ok && link != "" {
			return link
		}
	}
	return ""
}

func parseMoney(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(v))
		if cleaned == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// ParseBudget strips currency symbols and commas; anything non-numeric reads
// as zero, which disables budget tracking for the request.
func ParseBudget(raw string) float64 {
	cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(raw))
	if cleaned == "" {
		return 0
	}
	total, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return total
}

// BudgetState tracks one request's money: flight cost is always applied before
// hotel cost, and Remaining may go negative (surfaced as an overspend, never
// clamped).
type BudgetState struct {
	Total     float64
	Remaining float64
	Ledger    []string
}

func NewBudgetState(raw string) *BudgetState {
	total := ParseBudget(raw)
	return &BudgetState{Total: total, Remaining: total}
}

// Active reports whether budget tracking applies to this request.
func (b *BudgetState) Active() bool {
	return b.Total > 0
}

func (b *BudgetState) Debit(label string, amount float64) {
	b.Remaining -= amount
	b.Ledger = append(b.Ledger, fmt.Sprintf("%s: $%.2f", label, amount))
}

// Summary renders the ledger block appended to the response notes. Empty when
// nothing was debited.
func (b *BudgetState) Summary() string {
	if len(b.Ledger) == 0 {
		return ""
	}
	return fmt.Sprintf("Budget Breakdown:\n%s\nRemaining budget for activities: $%.2f",
		strings.Join(b.Ledger, "\n"), b.Remaining)
}

// GroundedAnswer is the Web-Answer Provider output.
type GroundedAnswer struct {
	Response  string   `json:"response"`
	Citations []string `json:"citations"`
}

// ComposedResponse is the unified output of one orchestration.
// Flights/Hotels are nil on the clarification path (serialized as null) and
// empty when the branch did not run.
type ComposedResponse struct {
	Response  string       `json:"response"`
	Flights   SearchResult `json:"flights"`
	Hotels    SearchResult `json:"hotels"`
	Citations []string     `json:"citations"`
	Budget    string       `json:"budget,omitempty"`
}

// ConversationExchange is one prior user/assistant turn held in session
// memory. The core only ever sees exchanges flattened to text.
type ConversationExchange struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// FlattenExchanges renders history the way the fusion prompt expects it:
// one line per turn, oldest first.
func FlattenExchanges(exchanges []ConversationExchange) string {
	if len(exchanges) == 0 {
		return ""
	}
	lines := make([]string, 0, len(exchanges)*2)
	for _, exchange := range exchanges {
		if exchange.Prompt != "" {
			lines = append(lines, "user: "+exchange.Prompt)
		}
		if exchange.Response != "" {
			lines = append(lines, "assistant: "+exchange.Response)
		}
	}
	return strings.Join(lines, "\n")
}

func GenerateRequestID() string {
	return uuid.New().String()
}
