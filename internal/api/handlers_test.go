package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aiwuxian/abyss-tension/internal/api"
	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/scheduler"
	"github.com/aiwuxian/abyss-tension/internal/services"
)

const testContent = `
action_definitions:
  theft:
    base_risk: 0.4
    minimum_risk: 0.1
    maximum_risk: 0.8
    categories: [legal, physical]
    suspicion_on_success: 0.1
    suspicion_on_failure: 0.5

crisis_templates:
  - id: audit
    name: 账目审查
    duration: 10h
    triggers:
      - suspicion_threshold: 0.7
        categories: [legal]
    stages:
      - name: 调取账本
        available_resolutions: [confess, gamble]
    resolutions:
      - id: gamble
        name: 孤注一掷
        base_success_rate: 0
        outcomes:
          - id: busted
            description: 赌输了
            probability_weight: -1
      - id: confess
        name: 主动认罪
        base_success_rate: 1.0
        outcomes:
          - id: leniency
            description: 获得从轻处理
            probability_weight: 1
    aftereffects:
      on_success:
        - kind: suspicion
          value: -0.3
`

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := content.Parse([]byte(testContent))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	sim := services.NewSimulation(store, models.DefaultSimulationConfig(), logger, services.Options{
		Rules: services.NewSeededRuleEngine(7),
		Start: start,
	})
	t.Cleanup(sim.Close)

	sched := scheduler.New(sim, time.Second, logger)
	handler := api.NewHandler(sched, services.NewNarrator(models.LLMConfig{}, logger), logger)
	t.Cleanup(handler.Close)

	r := gin.New()
	handler.Register(r.Group("/api"))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestRiskEndpoints(t *testing.T) {
	r := setupRouter(t)

	w, out := do(t, r, http.MethodPost, "/api/risk/calculate", gin.H{
		"action_type": "theft",
		"entity_id":   "player",
		"context":     gin.H{"is_nighttime": true},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.28, out["risk"], 1e-9)

	w, out = do(t, r, http.MethodPost, "/api/risk/predict", gin.H{"action_type": "theft", "entity_id": "player"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.4, out["risk"], 1e-9)

	_, out = do(t, r, http.MethodGet, "/api/events", nil)
	assert.Len(t, out["events"], 1, "prediction publishes nothing")

	w, _ = do(t, r, http.MethodPost, "/api/risk/calculate", gin.H{"entity_id": "player"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCrisisLifecycleOverHTTP(t *testing.T) {
	r := setupRouter(t)

	w, out := do(t, r, http.MethodPost, "/api/actions/outcome", gin.H{
		"action_type": "theft",
		"entity_id":   "player",
		"risk":        0.8,
		"success":     false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.4, out["suspicion"], 1e-9)

	w, out = do(t, r, http.MethodPost, "/api/suspicion/modify", gin.H{
		"entity_id":  "player",
		"delta":      0.4,
		"categories": []string{"legal"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.8, out["suspicion"], 1e-9)

	_, out = do(t, r, http.MethodGet, "/api/crises", nil)
	crises := out["crises"].([]any)
	require.Len(t, crises, 1)
	crisisID := crises[0].(map[string]any)["instance_id"].(string)

	w, out = do(t, r, http.MethodGet, "/api/crises/"+crisisID+"/resolutions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["resolutions"], 2)

	w, _ = do(t, r, http.MethodPost, "/api/crises/"+crisisID+"/resolve", gin.H{"resolution_id": "flee"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, out = do(t, r, http.MethodPost, "/api/crises/"+crisisID+"/resolve", gin.H{
		"resolution_id": "confess",
		"narrate":       true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "resolved", out["status"])
	assert.Equal(t, "你尝试了主动认罪，结果成功：获得从轻处理", out["narration"])
	attempt := out["attempt"].(map[string]any)
	assert.Equal(t, true, attempt["success"])

	_, out = do(t, r, http.MethodGet, "/api/suspicion/player", nil)
	assert.InDelta(t, 0.5, out["value"], 1e-9, "on_success aftereffect applied")
	assert.NotEmpty(t, out["history"])

	_, out = do(t, r, http.MethodGet, "/api/crises", nil)
	assert.Empty(t, out["crises"])

	w, out = do(t, r, http.MethodGet, "/api/entities/player/crisis-history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := out["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, []any{"confess"}, history[0].(map[string]any)["methods"])

	w, _ = do(t, r, http.MethodGet, "/api/crises/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTickAndStatus(t *testing.T) {
	r := setupRouter(t)

	w, _ := do(t, r, http.MethodPost, "/api/tick", gin.H{"duration": "-1h"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out := do(t, r, http.MethodPost, "/api/tick", gin.H{"duration": "90m"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, start.Add(90*time.Minute).Format(time.RFC3339), out["now"])

	_, out = do(t, r, http.MethodGet, "/api/status", nil)
	assert.Equal(t, float64(0), out["active_crises"])
}

func TestModifierEndpoints(t *testing.T) {
	r := setupRouter(t)

	w, out := do(t, r, http.MethodPost, "/api/entities/player/modifiers", gin.H{"kind": "flat", "value": 0.1})
	require.Equal(t, http.StatusOK, w.Code)
	id := out["id"].(string)
	assert.NotEmpty(t, id)

	_, out = do(t, r, http.MethodPost, "/api/risk/predict", gin.H{"action_type": "theft", "entity_id": "player"})
	assert.InDelta(t, 0.1, out["risk"], 1e-9)

	w, _ = do(t, r, http.MethodDelete, "/api/entities/player/modifiers/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodDelete, "/api/entities/player/modifiers/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/modifiers", gin.H{"id": "curfew", "kind": "sideways", "value": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = do(t, r, http.MethodPost, "/api/modifiers", gin.H{"id": "curfew", "kind": "multiplicative", "value": 1.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "curfew", out["id"])

	_, out = do(t, r, http.MethodPost, "/api/risk/predict", gin.H{"action_type": "theft", "entity_id": "player"})
	assert.InDelta(t, 0.6, out["risk"], 1e-9)

	w, _ = do(t, r, http.MethodDelete, "/api/modifiers/curfew", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGroupEndpoints(t *testing.T) {
	r := setupRouter(t)

	w, out := do(t, r, http.MethodPost, "/api/groups/crew/members", gin.H{"entity_id": "player", "spread_rate": 0.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.0, out["average_value"], 1e-9)

	do(t, r, http.MethodPost, "/api/suspicion/modify", gin.H{"entity_id": "player", "delta": 0.2})

	_, out = do(t, r, http.MethodGet, "/api/groups/crew", nil)
	assert.InDelta(t, 0.1, out["average_value"], 1e-9)

	_, out = do(t, r, http.MethodGet, "/api/groups/nobody", nil)
	assert.InDelta(t, 0.0, out["average_value"], 1e-9)

	w, _ = do(t, r, http.MethodPut, "/api/groups/crew/spread-rate", gin.H{"spread_rate": 1.5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, r, http.MethodPut, "/api/groups/crew/spread-rate", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = do(t, r, http.MethodPut, "/api/groups/crew/spread-rate", gin.H{"spread_rate": 1.0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1.0, out["spread_rate"], 1e-9)
	assert.InDelta(t, 0.1, out["average_value"], 1e-9, "existing contributions are kept")

	do(t, r, http.MethodPost, "/api/suspicion/modify", gin.H{"entity_id": "player", "delta": 0.2})
	_, out = do(t, r, http.MethodGet, "/api/groups/crew", nil)
	assert.InDelta(t, 0.3, out["average_value"], 1e-9, "later changes spread at the new rate")
}

func TestAttemptResolution_FailedRollIsReportedNotRejected(t *testing.T) {
	r := setupRouter(t)
	do(t, r, http.MethodPost, "/api/suspicion/modify", gin.H{
		"entity_id":  "player",
		"delta":      0.8,
		"categories": []string{"legal"},
	})
	_, out := do(t, r, http.MethodGet, "/api/crises", nil)
	crises := out["crises"].([]any)
	require.Len(t, crises, 1)
	crisisID := crises[0].(map[string]any)["instance_id"].(string)

	w, out := do(t, r, http.MethodPost, "/api/crises/"+crisisID+"/resolve", gin.H{
		"resolution_id": "gamble",
		"narrate":       true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "active", out["status"])
	attempt := out["attempt"].(map[string]any)
	assert.Equal(t, false, attempt["success"])
	assert.Equal(t, "你尝试了孤注一掷，结果失败：赌输了", out["narration"])

	_, out = do(t, r, http.MethodGet, "/api/crises/"+crisisID, nil)
	assert.Len(t, out["resolution_attempts"], 1, "the spent attempt is visible to the caller")
}
