package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/services"
)

var simStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func theftDefinition() models.ActionDefinition {
	return models.ActionDefinition{
		BaseRisk:           0.4,
		MinimumRisk:        0.1,
		MaximumRisk:        0.8,
		Categories:         []models.RiskCategory{models.CategoryLegal, models.CategoryPhysical},
		ContextualFactors:  map[string]float64{"guard_patrol": 0.5},
		SuspicionOnSuccess: 0.1,
		SuspicionOnFailure: 0.5,
	}
}

// investigationTemplate 两阶段的执法调查：第一阶段可藏匿，第二阶段可藏匿或贿赂
func investigationTemplate() models.CrisisTemplate {
	return models.CrisisTemplate{
		ID:       "investigation",
		Name:     "警方调查",
		Type:     "legal",
		Duration: 10 * time.Hour,
		Triggers: []models.CrisisTrigger{
			{SuspicionThreshold: 0.7, Categories: []models.RiskCategory{models.CategoryLegal}},
		},
		Stages: []models.CrisisStage{
			{Name: "inquiry", DurationFraction: 0.25, AvailableResolutions: []string{"lay_low"}},
			{
				Name:                 "pressure",
				DurationFraction:     0.5,
				AvailableResolutions: []string{"lay_low", "bribe"},
				Effects: []models.Effect{
					{Kind: models.EffectSuspicion, Value: 0.05},
					{Kind: models.EffectExposure, Value: 0.2},
				},
			},
		},
		Resolutions: []models.CrisisResolution{
			{
				ID:              "lay_low",
				Name:            "低调行事",
				BaseSuccessRate: 0.5,
				Modifiers: []models.ResolutionModifier{
					{ContextualFactor: "patience", ValueChange: 0.4},
					{RequiredItem: "safehouse_key", ValueChange: 0.2},
				},
				Outcomes: []models.CrisisOutcome{
					{ID: "forgotten", Description: "风声过去了", ProbabilityWeight: 1},
					{ID: "spotted", Description: "被人认出", ProbabilityWeight: -1,
						Effects: []models.Effect{
							{Kind: models.EffectSuspicion, Value: 0.1},
							{Kind: models.EffectExposure, Value: 0.3},
						}},
				},
			},
			{
				ID:                "bribe",
				Name:              "贿赂警探",
				BaseSuccessRate:   0.6,
				SkillRequirements: map[string]float64{"charisma": 0.3},
				Restrictions:      models.ResolutionRestrictions{MaxAttempts: 1},
			},
		},
		Aftereffects: models.Aftereffects{
			OnSuccess: []models.Effect{{Kind: models.EffectSuspicion, Value: -0.3}},
			OnExpiry:  []models.Effect{{Kind: models.EffectSuspicion, Value: 0.2}},
		},
	}
}

func testPack() content.Pack {
	return content.Pack{
		ActionDefinitions: map[models.ActionType]models.ActionDefinition{
			models.ActionTheft: theftDefinition(),
		},
		CrisisTemplates: []models.CrisisTemplate{investigationTemplate()},
	}
}

func newSimulation(t *testing.T, pack content.Pack, seed int64) *services.Simulation {
	t.Helper()
	store, err := content.NewStore(pack)
	require.NoError(t, err)

	sim := services.NewSimulation(store, models.DefaultSimulationConfig(), zaptest.NewLogger(t), services.Options{
		Rules: services.NewSeededRuleEngine(seed),
		Start: simStart,
	})
	t.Cleanup(sim.Close)
	return sim
}

// recorder 按主题收集事件
type recorder struct {
	events []events.Event
}

func record(sim *services.Simulation) *recorder {
	r := &recorder{}
	sim.Bus.SubscribeAll(func(e events.Event) { r.events = append(r.events, e) })
	return r
}

func (r *recorder) count(topic events.Topic) int {
	n := 0
	for _, e := range r.events {
		if e.Topic() == topic {
			n++
		}
	}
	return n
}

func (r *recorder) reset() { r.events = nil }
