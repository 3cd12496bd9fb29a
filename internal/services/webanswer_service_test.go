package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atlas-travel-pipeline/internal/config"
	"atlas-travel-pipeline/internal/pkg/logger"
)

func testWebAnswerConfig(baseURL string) config.WebAnswerConfig {
	return config.WebAnswerConfig{
		APIKey:    "test-key",
		BaseURL:   baseURL,
		Model:     "sonar",
		MaxTokens: 1000,
		Timeout:   5 * time.Second,
	}
}

func noFallback(t *testing.T) completionFunc {
	return func(ctx context.Context, roleContext, prompt string) (string, error) {
		t.Fatal("completion fallback must not be used on the grounded path")
		return "", nil
	}
}

func TestAnswerGrounded(t *testing.T) {
	var captured webAnswerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Write([]byte(`{
			"choices": [{"message": {"content": "Visit the Louvre."}}],
			"citations": ["https://example.com/louvre"]
		}`))
	}))
	defer server.Close()

	service, err := NewWebAnswerService(testWebAnswerConfig(server.URL), noFallback(t), logger.NewTestLogger(t))
	require.NoError(t, err)

	answer := service.Answer(context.Background(), "Be accurate and to the point", "What to do in Paris?")
	require.NotNil(t, answer)
	assert.Equal(t, "Visit the Louvre.", answer.Response)
	assert.Equal(t, []string{"https://example.com/louvre"}, answer.Citations)

	assert.Equal(t, "sonar", captured.Model)
	assert.Equal(t, 1000, captured.MaxTokens)
	assert.Equal(t, 0.2, captured.Temperature)
	assert.Equal(t, 0.9, captured.TopP)
	assert.Equal(t, "month", captured.SearchRecencyFilter)
	assert.Equal(t, 1.0, captured.FrequencyPenalty)
	assert.False(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.Equal(t, "What to do in Paris?", captured.Messages[1].Content)
}

func TestAnswerFallsBackToCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "search backend down"}}`))
	}))
	defer server.Close()

	var fallbackContext string
	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		fallbackContext = roleContext
		return "Paris is lovely in spring.", nil
	})

	service, err := NewWebAnswerService(testWebAnswerConfig(server.URL), completion, logger.NewTestLogger(t))
	require.NoError(t, err)

	answer := service.Answer(context.Background(), "Be accurate", "When to visit Paris?")
	require.NotNil(t, answer)
	assert.Equal(t, "Paris is lovely in spring.", answer.Response)
	assert.Empty(t, answer.Citations, "fallback answers carry no citations")
	assert.Equal(t, "Answer this question about travel: When to visit Paris?", fallbackContext)
}

func TestAnswerEmptyGroundedResponseFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "  "}}], "citations": []}`))
	}))
	defer server.Close()

	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return "fallback text", nil
	})

	service, err := NewWebAnswerService(testWebAnswerConfig(server.URL), completion, logger.NewTestLogger(t))
	require.NoError(t, err)

	answer := service.Answer(context.Background(), "ctx", "question")
	assert.Equal(t, "fallback text", answer.Response)
}

func TestAnswerFinalFixedFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	completion := completionFunc(func(ctx context.Context, roleContext, prompt string) (string, error) {
		return "", errors.New("also down")
	})

	service, err := NewWebAnswerService(testWebAnswerConfig(server.URL), completion, logger.NewTestLogger(t))
	require.NoError(t, err)

	answer := service.Answer(context.Background(), "ctx", "question")
	require.NotNil(t, answer)
	assert.Equal(t, webAnswerFinalFallback, answer.Response)
	assert.Empty(t, answer.Citations)
}

func TestNewWebAnswerServiceValidation(t *testing.T) {
	cfg := testWebAnswerConfig("http://localhost")
	cfg.APIKey = ""
	_, err := NewWebAnswerService(cfg, noFallback(t), logger.NewTestLogger(t))
	assert.Error(t, err)

	_, err = NewWebAnswerService(testWebAnswerConfig("http://localhost"), nil, logger.NewTestLogger(t))
	assert.Error(t, err)
}
