package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
	"atlas-travel-pipeline/internal/services"
)

// Markers for history embedded in the context field by older clients. The
// slice between them is treated as prior conversation.
const (
	historyStartMarker = "Previous conversation:"
	historyEndMarker   = "Be accurate"
)

const defaultRoleContext = "Be accurate and straightforward."

// TravelOrchestrator is what the handler needs from the pipeline; tests
// substitute a mock.
type TravelOrchestrator interface {
	Handle(ctx context.Context, userInput, history string) (*models.ComposedResponse, error)
	HealthCheck(ctx context.Context) error
}

// AssistantHandler is the HTTP boundary. The session memory and search
// provider are optional: without memory, history only comes from the request
// itself; without search, the flightParams bypass is unavailable.
type AssistantHandler struct {
	orchestrator TravelOrchestrator
	search       services.SearchProvider
	memory       services.SessionMemory
	logger       *logger.Logger
}

func NewAssistantHandler(
	orchestrator TravelOrchestrator,
	search services.SearchProvider,
	memory services.SessionMemory,
	logger *logger.Logger) *AssistantHandler {

	return &AssistantHandler{
		orchestrator: orchestrator,
		search:       search,
		memory:       memory,
		logger:       logger,
	}
}

// Assist handles POST /v1/assist. Terminal pipeline failures become a 500
// with a fixed apology; no partial results or internal detail leak with it.
func (handler *AssistantHandler) Assist(c *gin.Context) {
	startTime := time.Now()

	var request models.AssistRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		handler.logger.WithError(err).Warn("Invalid assist request body")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	if handler.search != nil && len(request.FlightParams) > 0 {
		handler.assistWithFlightParams(c, &request)
		return
	}

	if strings.TrimSpace(request.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	if strings.TrimSpace(request.Context) == "" {
		request.Context = defaultRoleContext
	}

	history := handler.resolveHistory(c.Request.Context(), &request)

	response, err := handler.orchestrator.Handle(c.Request.Context(), request.Prompt, history)
	if err != nil {
		handler.logger.WithError(err).Error("Orchestration failed",
			"classification_parse", models.IsClassificationParse(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"response":  services.ApologyResponse,
			"citations": []string{},
		})
		return
	}

	handler.rememberExchange(&request, response)

	handler.logger.LogService("http", "assist", time.Since(startTime), map[string]interface{}{
		"session_id": request.SessionID,
		"citations":  len(response.Citations),
	}, nil)

	c.JSON(http.StatusOK, response)
}

// assistWithFlightParams runs a pre-structured flight search directly,
// skipping classification and parameter building. Provider errors still come
// back embedded in the result with a 200.
func (handler *AssistantHandler) assistWithFlightParams(c *gin.Context, request *models.AssistRequest) {
	startTime := time.Now()

	params := models.SearchParameters{}
	for key, value := range handler.search.FlightParams() {
		params[key] = value
	}
	for key, value := range request.FlightParams {
		params[key] = value
	}

	result := handler.search.Search(c.Request.Context(), params)

	citations := []string{}
	if link := result.DeepLink(); strings.HasPrefix(link, "https://www.google.com/travel/flights") {
		citations = append(citations, link)
	}

	handler.logger.LogService("http", "assist_flight_params", time.Since(startTime), map[string]interface{}{
		"param_count":  len(request.FlightParams),
		"search_error": result.IsError(),
	}, nil)

	c.JSON(http.StatusOK, &models.ComposedResponse{
		Flights:   result,
		Hotels:    models.SearchResult{},
		Citations: citations,
	})
}

// resolveHistory picks prior conversation in priority order: the explicit
// history field, history embedded in the context field behind markers, then
// server-side session memory.
func (handler *AssistantHandler) resolveHistory(ctx context.Context, request *models.AssistRequest) string {
	if strings.TrimSpace(request.History) != "" {
		return strings.TrimSpace(request.History)
	}

	if embedded := sliceEmbeddedHistory(request.Context); embedded != "" {
		return embedded
	}

	if handler.memory != nil && request.SessionID != "" {
		history, err := handler.memory.GetHistory(ctx, request.SessionID)
		if err != nil {
			handler.logger.WithError(err).Warn("Failed to load session history, proceeding without it",
				"session_id", request.SessionID)
			return ""
		}
		return history
	}

	return ""
}

func sliceEmbeddedHistory(roleContext string) string {
	start := strings.Index(roleContext, historyStartMarker)
	if start == -1 {
		return ""
	}
	tail := roleContext[start+len(historyStartMarker):]
	if end := strings.Index(tail, historyEndMarker); end != -1 {
		tail = tail[:end]
	}
	return strings.TrimSpace(tail)
}

// rememberExchange stores the turn asynchronously; memory failures never
// affect the response already sent.
func (handler *AssistantHandler) rememberExchange(request *models.AssistRequest, response *models.ComposedResponse) {
	if handler.memory == nil || request.SessionID == "" {
		return
	}

	exchange := models.ConversationExchange{
		Prompt:    request.Prompt,
		Response:  response.Response,
		Timestamp: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := handler.memory.AppendExchange(ctx, request.SessionID, exchange); err != nil {
			handler.logger.WithError(err).Warn("Failed to store session exchange",
				"session_id", request.SessionID)
		}
	}()
}

// Health handles GET /health.
func (handler *AssistantHandler) Health(c *gin.Context) {
	if err := handler.orchestrator.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CORSMiddleware allows browser clients from any origin, including on error
// responses.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
