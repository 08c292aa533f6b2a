package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRiskModifier_Apply(t *testing.T) {
	cases := []struct {
		name string
		mod  RiskModifier
		base float64
		want float64
	}{
		{"additive", RiskModifier{Kind: ModifierAdditive, Value: 0.1}, 0.4, 0.5},
		{"multiplicative", RiskModifier{Kind: ModifierMultiplicative, Value: 1.5}, 0.4, 0.6},
		{"exponential", RiskModifier{Kind: ModifierExponential, Value: 2}, 0.5, 0.5 * math.Pow(2, 0.5)},
		{"flat replaces base", RiskModifier{Kind: ModifierFlat, Value: 0.9}, 0.1, 0.9},
		{"unknown kind is inert", RiskModifier{Kind: "bogus", Value: 9}, 0.3, 0.3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.mod.Apply(tc.base), 1e-9)
		})
	}
}

func TestRiskModifier_Expired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, RiskModifier{}.Expired(now))
	assert.True(t, RiskModifier{ExpiresAt: &past}.Expired(now))
	assert.False(t, RiskModifier{ExpiresAt: &future}.Expired(now))
}

func TestRiskModifierCondition_Satisfied(t *testing.T) {
	maxCrowd := 0.3
	cond := &RiskModifierCondition{
		ActionTypes:       []ActionType{ActionTheft},
		TargetEntityID:    "player",
		RequiresNight:     true,
		RequiresIsolation: true,
		MaxCrowdDensity:   &maxCrowd,
		RequiredItems:     []string{"lockpick"},
		ForbiddenItems:    []string{"uniform"},
	}
	ok := ContextData{IsNighttime: true, CrowdDensity: 0.2, AvailableItems: []string{"lockpick"}}

	assert.True(t, cond.Satisfied(ActionTheft, "player", ok))
	assert.False(t, cond.Satisfied(ActionBribery, "player", ok), "action type filter")
	assert.False(t, cond.Satisfied(ActionTheft, "npc", ok), "target entity filter")

	day := ok
	day.IsNighttime = false
	assert.False(t, cond.Satisfied(ActionTheft, "player", day))

	seen := ok
	seen.WitnessesPresent = true
	assert.False(t, cond.Satisfied(ActionTheft, "player", seen))

	crowded := ok
	crowded.CrowdDensity = 0.5
	assert.False(t, cond.Satisfied(ActionTheft, "player", crowded))

	noPick := ok
	noPick.AvailableItems = nil
	assert.False(t, cond.Satisfied(ActionTheft, "player", noPick))

	disguised := ok
	disguised.AvailableItems = []string{"lockpick", "uniform"}
	assert.False(t, cond.Satisfied(ActionTheft, "player", disguised))

	var none *RiskModifierCondition
	assert.True(t, none.Satisfied(ActionAssault, "anyone", ContextData{}))
}

func TestRiskProfile_ModifiersLastWriteWins(t *testing.T) {
	p := NewRiskProfile("player")
	for _, c := range AllRiskCategories {
		assert.Equal(t, 1.0, p.CategoryMultipliers[c])
	}

	p.SetModifier(RiskModifier{ID: "disguise", Kind: ModifierMultiplicative, Value: 0.8})
	p.SetModifier(RiskModifier{ID: "disguise", Kind: ModifierMultiplicative, Value: 0.5})
	assert.Len(t, p.Modifiers, 1)
	assert.Equal(t, 0.5, p.Modifiers[0].Value)

	assert.True(t, p.RemoveModifier("disguise"))
	assert.False(t, p.RemoveModifier("disguise"))
}

func TestRiskProfile_PruneExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	p := NewRiskProfile("player")
	p.SetModifier(RiskModifier{ID: "old", ExpiresAt: &past})
	p.SetModifier(RiskModifier{ID: "permanent"})

	assert.Equal(t, 1, p.PruneExpired(now))
	assert.Len(t, p.Modifiers, 1)
	assert.Equal(t, "permanent", p.Modifiers[0].ID)
}

func TestActionDefinition_Clamp(t *testing.T) {
	def := ActionDefinition{MinimumRisk: 0.1, MaximumRisk: 0.8}
	assert.Equal(t, 0.1, def.Clamp(-3))
	assert.Equal(t, 0.8, def.Clamp(2))
	assert.Equal(t, 0.5, def.Clamp(0.5))

	wild := ActionDefinition{MinimumRisk: -1, MaximumRisk: 5}
	assert.Equal(t, 0.0, wild.Clamp(-1))
	assert.Equal(t, 1.0, wild.Clamp(3))
}

func TestCrisisTrigger_Satisfied(t *testing.T) {
	tr := CrisisTrigger{SuspicionThreshold: 0.7, Categories: []RiskCategory{CategoryLegal}}
	assert.True(t, tr.Satisfied(0.7, []RiskCategory{CategoryLegal, CategorySocial}))
	assert.False(t, tr.Satisfied(0.69, []RiskCategory{CategoryLegal}))
	assert.False(t, tr.Satisfied(0.9, []RiskCategory{CategoryDigital}))

	open := CrisisTrigger{SuspicionThreshold: 0.5}
	assert.True(t, open.Satisfied(0.5, nil))
}

func TestCharacterSuspicion_CategoryScale(t *testing.T) {
	s := NewCharacterSuspicion("player", 5)
	assert.Equal(t, 1.0, s.CategoryScale([]RiskCategory{CategoryLegal}))

	s.CategoryModifiers[CategoryLegal] = 1.5
	s.CategoryModifiers[CategorySocial] = 0.5
	assert.Equal(t, 1.5, s.CategoryScale([]RiskCategory{CategorySocial, CategoryLegal}))
	assert.Equal(t, 0.5, s.CategoryScale([]RiskCategory{CategorySocial}))
}

func TestGroupSuspicion_Recompute(t *testing.T) {
	g := NewGroupSuspicion("gang", 0.5)
	assert.Equal(t, 0.0, g.Recompute())

	g.Contributions["a"] = 0.2
	g.Contributions["b"] = 0.6
	assert.InDelta(t, 0.4, g.Recompute(), 1e-9)
}

func TestCrisisStatus_Terminal(t *testing.T) {
	assert.False(t, CrisisPending.Terminal())
	assert.False(t, CrisisActive.Terminal())
	assert.True(t, CrisisResolved.Terminal())
	assert.True(t, CrisisFailed.Terminal())
	assert.True(t, CrisisExpired.Terminal())
}
