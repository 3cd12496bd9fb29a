package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/models"
	"atlas-travel-pipeline/internal/pkg/logger"
)

// CompletionProvider issues a single-turn text generation request: a role or
// context string plus the user message, plain text back.
type CompletionProvider interface {
	Complete(ctx context.Context, roleContext, prompt string) (string, error)
}

// CompletionService talks to an OpenAI-compatible chat completions endpoint.
type CompletionService struct {
	client *http.Client
	config config.CompletionConfig
	logger *logger.Logger
}

type completionMessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completionMessage struct {
	Role    string                  `json:"role"`
	Content []completionMessagePart `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewCompletionService(cfg config.CompletionConfig, log *logger.Logger) (*CompletionService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion API key required")
	}

	service := &CompletionService{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: log,
	}

	log.Info("Completion service initialized",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"timeout", cfg.Timeout,
	)

	return service, nil
}

// Complete sends the context and prompt as two text parts of a single user
// message and returns the first choice's content.
func (service *CompletionService) Complete(ctx context.Context, roleContext, prompt string) (string, error) {
	startTime := time.Now()

	var content string
	var err error

	attempts := service.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		content, err = service.makeRequest(ctx, roleContext, prompt)
		if err == nil {
			break
		}

		if attempt < attempts {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": attempts,
				"error":       err,
			}).Warn("Completion request failed, retrying")

			select {
			case <-time.After(service.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return "", models.NewTimeoutError("COMPLETION_TIMEOUT", "completion request timed out").WithCause(ctx.Err())
			}
		}
	}

	duration := time.Since(startTime)
	if err != nil {
		service.logger.LogService("completion", "complete", duration, map[string]interface{}{
			"prompt_length": len(prompt),
			"attempts":      attempts,
		}, err)
		return "", models.WrapExternalError("COMPLETION", err)
	}

	service.logger.LogService("completion", "complete", duration, map[string]interface{}{
		"prompt_length":   len(prompt),
		"response_length": len(content),
		"model":           service.config.Model,
	}, nil)

	return content, nil
}

func (service *CompletionService) makeRequest(ctx context.Context, roleContext, prompt string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, service.config.Timeout)
	defer cancel()

	payload := completionRequest{
		Model: service.config.Model,
		Messages: []completionMessage{
			{
				Role: "user",
				Content: []completionMessagePart{
					{Type: "text", Text: roleContext},
					{Type: "text", Text: prompt},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, service.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+service.config.APIKey)

	resp, err := service.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	var decoded completionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if decoded.Error != nil {
		return "", fmt.Errorf("completion provider error: %s", decoded.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion provider returned status %d", resp.StatusCode)
	}

	if len(decoded.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return decoded.Choices[0].Message.Content, nil
}

func (service *CompletionService) HealthCheck(ctx context.Context) error {
	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	content, err := service.Complete(testCtx, "Respond with 'OK' if you can process this request", "health check")
	if err != nil {
		return fmt.Errorf("completion health check failed: %w", err)
	}
	if content == "" {
		return errors.New("completion health check returned empty response")
	}
	return nil
}
