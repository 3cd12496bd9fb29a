package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
)

// WebAnswerProvider answers a question with grounded search results and
// citations. Implementations must degrade rather than fail: a caller always
// gets some answer text back.
type WebAnswerProvider interface {
	Answer(ctx context.Context, roleContext, question string) *models.GroundedAnswer
}

const webAnswerFinalFallback = "I'm sorry, I couldn't find information about that right now. Please try again later or rephrase your question."

// WebAnswerService talks to a Perplexity-style grounded answer endpoint and
// falls back to the plain completion provider when the grounded provider
// errors or returns nothing. The fallback path cannot claim provenance, so
// its citations are always empty.
type WebAnswerService struct {
	client     *http.Client
	completion CompletionProvider
	config     config.WebAnswerConfig
	logger     *logger.Logger
}

type webAnswerRequest struct {
	Model               string             `json:"model"`
	Messages            []webAnswerMessage `json:"messages"`
	MaxTokens           int                `json:"max_tokens"`
	Temperature         float64            `json:"temperature"`
	TopP                float64            `json:"top_p"`
	ReturnImages        bool               `json:"return_images"`
	ReturnRelated       bool               `json:"return_related_questions"`
	SearchRecencyFilter string             `json:"search_recency_filter"`
	TopK                int                `json:"top_k"`
	Stream              bool               `json:"stream"`
	PresencePenalty     float64            `json:"presence_penalty"`
	FrequencyPenalty    float64            `json:"frequency_penalty"`
}

type webAnswerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webAnswerResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewWebAnswerService(cfg config.WebAnswerConfig, completion CompletionProvider, log *logger.Logger) (*WebAnswerService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("web answer API key required")
	}
	if completion == nil {
		return nil, errors.New("web answer service requires a completion provider fallback")
	}

	service := &WebAnswerService{
		client:     &http.Client{Timeout: cfg.Timeout},
		completion: completion,
		config:     cfg,
		logger:     log,
	}

	log.Info("Web answer service initialized",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"max_tokens", cfg.MaxTokens,
	)

	return service, nil
}

// Answer never fails: grounded provider first, completion fallback second,
// fixed apology text last.
func (service *WebAnswerService) Answer(ctx context.Context, roleContext, question string) *models.GroundedAnswer {
	startTime := time.Now()

	answer, err := service.makeRequest(ctx, roleContext, question)
	if err == nil && strings.TrimSpace(answer.Response) != "" {
		service.logger.LogService("web_answer", "answer", time.Since(startTime), map[string]interface{}{
			"question_length": len(question),
			"citations":       len(answer.Citations),
		}, nil)
		return answer
	}

	if err != nil {
		service.logger.WithError(err).Warn("Grounded answer failed, falling back to completion")
	} else {
		service.logger.Warn("Grounded answer was empty, falling back to completion")
	}

	fallbackContext := fmt.Sprintf("Answer this question about travel: %s", question)
	content, fallbackErr := service.completion.Complete(ctx, fallbackContext, "")
	if fallbackErr != nil || strings.TrimSpace(content) == "" {
		service.logger.LogService("web_answer", "answer", time.Since(startTime), map[string]interface{}{
			"question_length": len(question),
			"fallback":        "fixed_response",
		}, fallbackErr)
		return &models.GroundedAnswer{Response: webAnswerFinalFallback, Citations: []string{}}
	}

	service.logger.LogService("web_answer", "answer", time.Since(startTime), map[string]interface{}{
		"question_length": len(question),
		"fallback":        "completion",
	}, nil)

	return &models.GroundedAnswer{Response: content, Citations: []string{}}
}

func (service *WebAnswerService) makeRequest(ctx context.Context, roleContext, question string) (*models.GroundedAnswer, error) {
	reqCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	payload := webAnswerRequest{
		Model: service.config.Model,
		Messages: []webAnswerMessage{
			{Role: "system", Content: roleContext},
			{Role: "user", Content: question},
		},
		MaxTokens:           service.config.MaxTokens,
		Temperature:         0.2,
		TopP:                0.9,
		SearchRecencyFilter: "month",
		Stream:              false,
		FrequencyPenalty:    1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode web answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, service.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build web answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+service.config.APIKey)

	resp, err := service.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web answer request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read web answer response: %w", err)
	}

	var decoded webAnswerResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode web answer response: %w", err)
	}

	if decoded.Error != nil {
		return nil, fmt.Errorf("web answer provider error: %s", decoded.Error.Message)
	}

	content := ""
	if len(decoded.Choices) > 0 {
		content = decoded.Choices[0].Message.Content
	}

	citations := decoded.Citations
	if citations == nil {
		citations = []string{}
	}

	return &models.GroundedAnswer{Response: content, Citations: citations}, nil
}

func (service *WebAnswerService) HealthCheck(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	answer := service.Answer(testCtx, "Be accurate and to the point", "Respond with 'OK'")
	if answer == nil || answer.Response == "" {
		return errors.New("web answer health check returned empty response")
	}
	return nil
}
