package services_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

func TestCalculateRisk_NightTheftExample(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)

	ctx := models.ContextData{IsNighttime: true, CrowdDensity: 0.2, SecurityLevel: 0.5}
	risk := sim.CalculateRisk(models.ActionTheft, "player", ctx)

	assert.InDelta(t, 0.4*0.7*(1+0.2*0.5)*(1+0.5*0.8), risk, 1e-9)
}

func TestCalculateRisk_PublishesButPredictDoesNot(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)
	rec := record(sim)

	predicted := sim.PredictRisk(models.ActionTheft, "player", models.ContextData{})
	assert.Equal(t, 0, rec.count(events.TopicRiskValueCalculated))

	actual := sim.CalculateRisk(models.ActionTheft, "player", models.ContextData{})
	assert.Equal(t, predicted, actual)
	require.Equal(t, 1, rec.count(events.TopicRiskValueCalculated))

	e := rec.events[0].(events.RiskValueCalculated)
	assert.Equal(t, "player", e.EntityID)
	assert.Equal(t, models.ActionTheft, e.ActionType)
	assert.Equal(t, actual, e.RiskValue)
	assert.NotEmpty(t, e.ID)
	assert.True(t, e.Timestamp.Equal(simStart))
}

func TestCalculateRisk_AlwaysWithinDefinitionBounds(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)
	rng := rand.New(rand.NewSource(42))
	kinds := []models.ModifierKind{
		models.ModifierAdditive, models.ModifierMultiplicative, models.ModifierExponential, models.ModifierFlat,
	}

	for i := 0; i < 500; i++ {
		sim.AddGlobalModifier(models.RiskModifier{
			ID:    "chaos",
			Kind:  kinds[rng.Intn(len(kinds))],
			Value: rng.Float64()*5 - 2,
		})
		ctx := models.ContextData{
			IsNighttime:       rng.Intn(2) == 0,
			CrowdDensity:      rng.Float64(),
			SecurityLevel:     rng.Float64(),
			ContextualFactors: map[string]float64{"guard_patrol": rng.Float64() * 10},
		}
		risk := sim.PredictRisk(models.ActionTheft, "player", ctx)
		require.GreaterOrEqual(t, risk, 0.1, "iteration %d", i)
		require.LessOrEqual(t, risk, 0.8, "iteration %d", i)
	}
}

func TestCalculateRisk_MissingDefinitionUsesDefaults(t *testing.T) {
	sim := newSimulation(t, content.Pack{}, 1)

	risk := sim.PredictRisk(models.ActionAssault, "player", models.ContextData{})
	assert.InDelta(t, models.DefaultSimulationConfig().DefaultAction.BaseRisk, risk, 1e-9)
}

func TestCalculateRisk_ContextualFactorsUseDefinitionWeights(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)

	ctx := models.ContextData{ContextualFactors: map[string]float64{"guard_patrol": 1, "unrelated": 5}}
	assert.InDelta(t, 0.4*1.5, sim.PredictRisk(models.ActionTheft, "player", ctx), 1e-9)
}

func TestCalculateRisk_AccumulationIsMonotonic(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)
	ctx := models.ContextData{}

	baseline := sim.PredictRisk(models.ActionTheft, "player", ctx)
	assert.InDelta(t, 0.4, baseline, 1e-9)

	// 不同类型与窗口外的记录不计入
	sim.RecordAction("player", models.ActionRecord{ActionType: models.ActionBribery, Timestamp: simStart})
	sim.RecordAction("player", models.ActionRecord{ActionType: models.ActionTheft, Timestamp: simStart.Add(-25 * time.Hour)})
	assert.InDelta(t, baseline, sim.PredictRisk(models.ActionTheft, "player", ctx), 1e-9)

	sim.RecordAction("player", models.ActionRecord{ActionType: models.ActionTheft, Timestamp: simStart})
	one := sim.PredictRisk(models.ActionTheft, "player", ctx)
	assert.InDelta(t, 0.4*(1+(1-math.Exp(-1.0/3.0))), one, 1e-9)

	prev := one
	for i := 0; i < 20; i++ {
		sim.RecordAction("player", models.ActionRecord{
			ActionType: models.ActionTheft,
			Timestamp:  simStart.Add(-time.Duration(i) * time.Hour),
		})
		next := sim.PredictRisk(models.ActionTheft, "player", ctx)
		require.GreaterOrEqual(t, next, prev)
		prev = next
	}
	assert.LessOrEqual(t, prev, 0.8)
}

func TestRecordAction_HistoryIsCapped(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)
	for i := 0; i < 60; i++ {
		sim.RecordAction("player", models.ActionRecord{ActionType: models.ActionTheft, RiskValue: float64(i)})
	}

	history := sim.Risk.ActionHistory("player")
	require.Len(t, history, 50)
	assert.Equal(t, 10.0, history[0].RiskValue)
	assert.Equal(t, 59.0, history[49].RiskValue)
	assert.True(t, history[0].Timestamp.Equal(simStart), "missing timestamps default to the simulated clock")
}

func TestModifiers_OrderConditionAndExpiry(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)
	day := models.ContextData{}
	night := models.ContextData{IsNighttime: true}

	// 全局修正先于实体基础乘数
	sim.AddGlobalModifier(models.RiskModifier{ID: "alert", Kind: models.ModifierAdditive, Value: 0.1})
	sim.Risk.SetBaseMultiplier("player", 0.5)
	assert.InDelta(t, (0.4+0.1)*0.5, sim.PredictRisk(models.ActionTheft, "player", day), 1e-9)
	assert.True(t, sim.RemoveGlobalModifier("alert"))
	assert.False(t, sim.RemoveGlobalModifier("alert"))
	sim.Risk.SetBaseMultiplier("player", 1)

	sim.Risk.SetCategoryMultiplier("player", models.CategoryLegal, 1.5)
	assert.InDelta(t, 0.6, sim.PredictRisk(models.ActionTheft, "player", day), 1e-9)
	sim.Risk.SetCategoryMultiplier("player", models.CategoryLegal, 1)

	sim.AddRiskModifier("player", models.RiskModifier{
		ID:        "night_owl",
		Kind:      models.ModifierAdditive,
		Value:     0.1,
		Condition: &models.RiskModifierCondition{RequiresNight: true},
	})
	assert.InDelta(t, 0.4, sim.PredictRisk(models.ActionTheft, "player", day), 1e-9)
	assert.InDelta(t, 0.5*0.7, sim.PredictRisk(models.ActionTheft, "player", night), 1e-9)
	assert.True(t, sim.RemoveRiskModifier("player", "night_owl"))

	expires := simStart.Add(time.Hour)
	id := sim.AddRiskModifier("player", models.RiskModifier{Kind: models.ModifierMultiplicative, Value: 2, ExpiresAt: &expires})
	assert.NotEmpty(t, id)
	assert.InDelta(t, 0.8, sim.PredictRisk(models.ActionTheft, "player", day), 1e-9)

	sim.Tick(2 * time.Hour)
	assert.InDelta(t, 0.4, sim.PredictRisk(models.ActionTheft, "player", day), 1e-9)
	assert.Empty(t, sim.Risk.Profile("player").Modifiers)
}

func TestModifiers_LastWriteWinsByID(t *testing.T) {
	sim := newSimulation(t, testPack(), 1)

	sim.AddRiskModifier("player", models.RiskModifier{ID: "disguise", Kind: models.ModifierMultiplicative, Value: 0.5})
	sim.AddRiskModifier("player", models.RiskModifier{ID: "disguise", Kind: models.ModifierMultiplicative, Value: 0.75})

	profile := sim.Risk.Profile("player")
	require.Len(t, profile.Modifiers, 1)
	assert.InDelta(t, 0.3, sim.PredictRisk(models.ActionTheft, "player", models.ContextData{}), 1e-9)
}

func TestProfile_AdoptsConfiguredEntityModifiers(t *testing.T) {
	pack := testPack()
	pack.ModifierProfiles.Entities = map[string][]models.RiskModifier{
		"veteran": {{ID: "steady_hands", Kind: models.ModifierAdditive, Value: -0.1}},
	}
	sim := newSimulation(t, pack, 1)

	assert.InDelta(t, 0.3, sim.PredictRisk(models.ActionTheft, "veteran", models.ContextData{}), 1e-9)
	assert.InDelta(t, 0.4, sim.PredictRisk(models.ActionTheft, "rookie", models.ContextData{}), 1e-9)
}
