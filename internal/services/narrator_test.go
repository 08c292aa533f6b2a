package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/services"
)

func narrationFixtures() (*models.CrisisTemplate, *models.CrisisResolution, *models.ResolutionAttempt) {
	tpl := investigationTemplate()
	res, _ := tpl.Resolution("lay_low")
	attempt := &models.ResolutionAttempt{
		ResolutionID: "lay_low",
		Probability:  0.6,
		Success:      true,
		Outcome:      &models.CrisisOutcome{ID: "forgotten", Description: "风声过去了"},
	}
	return &tpl, res, attempt
}

func TestNarrator_FallbackWithoutAPIKey(t *testing.T) {
	n := services.NewNarrator(models.LLMConfig{}, zaptest.NewLogger(t))
	assert.False(t, n.Enabled())

	tpl, res, attempt := narrationFixtures()
	assert.Equal(t, "你尝试了低调行事，结果成功：风声过去了", n.NarrateOutcome(context.Background(), tpl, res, attempt))
}

func TestNarrator_UsesChatCompletion(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  你在安全屋里躲过了风头。 "}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	n := services.NewNarrator(models.LLMConfig{
		APIKey:  "test-key",
		APIBase: srv.URL + "/v1",
		Model:   "test-model",
	}, zaptest.NewLogger(t))
	require.True(t, n.Enabled())

	tpl, res, attempt := narrationFixtures()
	assert.Equal(t, "你在安全屋里躲过了风头。", n.NarrateOutcome(context.Background(), tpl, res, attempt))
	assert.Equal(t, "test-model", gotModel)
}

func TestNarrator_FallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := services.NewNarrator(models.LLMConfig{APIKey: "k", APIBase: srv.URL, Model: "m"}, zaptest.NewLogger(t))

	tpl, res, attempt := narrationFixtures()
	attempt.Success = false
	attempt.Outcome = nil
	assert.Equal(t, "你尝试了低调行事，结果失败", n.NarrateOutcome(context.Background(), tpl, res, attempt))
}
