package models

import (
	"math"
	"slices"
	"time"
)

// ActionType 行动类型（封闭枚举）
type ActionType string

const (
	ActionTheft        ActionType = "theft"
	ActionBribery      ActionType = "bribery"
	ActionInfiltration ActionType = "infiltration"
	ActionAssault      ActionType = "assault"
	ActionHacking      ActionType = "hacking"
	ActionBlackmail    ActionType = "blackmail"
	ActionSmuggling    ActionType = "smuggling"
	ActionForgery      ActionType = "forgery"
	ActionSurveillance ActionType = "surveillance"
	ActionDeception    ActionType = "deception"
)

// AllActionTypes 所有合法的行动类型
var AllActionTypes = []ActionType{
	ActionTheft, ActionBribery, ActionInfiltration, ActionAssault, ActionHacking,
	ActionBlackmail, ActionSmuggling, ActionForgery, ActionSurveillance, ActionDeception,
}

func (t ActionType) Valid() bool {
	return slices.Contains(AllActionTypes, t)
}

// RiskCategory 风险维度
type RiskCategory string

const (
	CategoryLegal         RiskCategory = "legal"
	CategorySocial        RiskCategory = "social"
	CategoryPhysical      RiskCategory = "physical"
	CategoryDigital       RiskCategory = "digital"
	CategoryPsychological RiskCategory = "psychological"
)

// AllRiskCategories 所有风险维度
var AllRiskCategories = []RiskCategory{
	CategoryLegal, CategorySocial, CategoryPhysical, CategoryDigital, CategoryPsychological,
}

func (c RiskCategory) Valid() bool {
	return slices.Contains(AllRiskCategories, c)
}

// OverlapCategories 两组风险维度是否有交集
func OverlapCategories(a, b []RiskCategory) bool {
	for _, c := range a {
		if slices.Contains(b, c) {
			return true
		}
	}
	return false
}

// ContextData 行动发生时的情境快照（按值传递，不持久化）
type ContextData struct {
	IsNighttime       bool               `json:"is_nighttime"`
	WitnessesPresent  bool               `json:"witnesses_present"`
	CrowdDensity      float64            `json:"crowd_density"`  // 0-1
	SecurityLevel     float64            `json:"security_level"` // 0-1
	AvailableItems    []string           `json:"available_items,omitempty"`
	LocationID        string             `json:"location_id,omitempty"`
	ContextualFactors map[string]float64 `json:"contextual_factors,omitempty"`
}

// HasItem 情境中是否有指定道具
func (c ContextData) HasItem(itemID string) bool {
	return slices.Contains(c.AvailableItems, itemID)
}

// ActionDefinition 行动配置
type ActionDefinition struct {
	Type               ActionType         `json:"type" yaml:"type"`
	BaseRisk           float64            `json:"base_risk" yaml:"base_risk" mapstructure:"base_risk"`
	MinimumRisk        float64            `json:"minimum_risk" yaml:"minimum_risk" mapstructure:"minimum_risk"`
	MaximumRisk        float64            `json:"maximum_risk" yaml:"maximum_risk" mapstructure:"maximum_risk"`
	Categories         []RiskCategory     `json:"categories" yaml:"categories" mapstructure:"categories"`
	ContextualFactors  map[string]float64 `json:"contextual_factors,omitempty" yaml:"contextual_factors" mapstructure:"contextual_factors"` // 因子名 -> 权重
	SuspicionOnSuccess float64            `json:"suspicion_on_success" yaml:"suspicion_on_success" mapstructure:"suspicion_on_success"`
	SuspicionOnFailure float64            `json:"suspicion_on_failure" yaml:"suspicion_on_failure" mapstructure:"suspicion_on_failure"`
}

// HasCategory 行动是否属于指定风险维度
func (d ActionDefinition) HasCategory(c RiskCategory) bool {
	return slices.Contains(d.Categories, c)
}

// Clamp 将风险值限制在行动自身的[min,max]区间内，且不超出[0,1]
func (d ActionDefinition) Clamp(v float64) float64 {
	lo := Clamp01(d.MinimumRisk)
	hi := Clamp01(d.MaximumRisk)
	if hi < lo {
		hi = lo
	}
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// ModifierKind 修正类型
type ModifierKind string

const (
	ModifierAdditive       ModifierKind = "additive"
	ModifierMultiplicative ModifierKind = "multiplicative"
	ModifierExponential    ModifierKind = "exponential"
	ModifierFlat           ModifierKind = "flat"
)

func (k ModifierKind) Valid() bool {
	switch k {
	case ModifierAdditive, ModifierMultiplicative, ModifierExponential, ModifierFlat:
		return true
	}
	return false
}

// RiskModifierCondition 修正生效条件，所有字段均为可选
type RiskModifierCondition struct {
	ActionTypes       []ActionType `json:"action_types,omitempty" yaml:"action_types"`
	TargetEntityID    string       `json:"target_entity_id,omitempty" yaml:"target_entity_id"`
	RequiresNight     bool         `json:"requires_night,omitempty" yaml:"requires_night"`
	RequiresIsolation bool         `json:"requires_isolation,omitempty" yaml:"requires_isolation"` // 无目击者
	MaxCrowdDensity   *float64     `json:"max_crowd_density,omitempty" yaml:"max_crowd_density"`
	RequiredItems     []string     `json:"required_items,omitempty" yaml:"required_items"`
	ForbiddenItems    []string     `json:"forbidden_items,omitempty" yaml:"forbidden_items"`
}

// Satisfied 判断条件在给定行动/实体/情境下是否成立
func (c *RiskModifierCondition) Satisfied(actionType ActionType, entityID string, ctx ContextData) bool {
	if c == nil {
		return true
	}
	if len(c.ActionTypes) > 0 && !slices.Contains(c.ActionTypes, actionType) {
		return false
	}
	if c.TargetEntityID != "" && c.TargetEntityID != entityID {
		return false
	}
	if c.RequiresNight && !ctx.IsNighttime {
		return false
	}
	if c.RequiresIsolation && ctx.WitnessesPresent {
		return false
	}
	if c.MaxCrowdDensity != nil && ctx.CrowdDensity > *c.MaxCrowdDensity {
		return false
	}
	for _, item := range c.RequiredItems {
		if !ctx.HasItem(item) {
			return false
		}
	}
	for _, item := range c.ForbiddenItems {
		if ctx.HasItem(item) {
			return false
		}
	}
	return true
}

// RiskModifier 风险修正
type RiskModifier struct {
	ID        string                 `json:"id" yaml:"id"`
	Kind      ModifierKind           `json:"kind" yaml:"kind"`
	Value     float64                `json:"value" yaml:"value"`
	Condition *RiskModifierCondition `json:"condition,omitempty" yaml:"condition"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty" yaml:"expires_at"`
}

// Apply 对基础值应用修正
func (m RiskModifier) Apply(base float64) float64 {
	switch m.Kind {
	case ModifierAdditive:
		return base + m.Value
	case ModifierMultiplicative:
		return base * m.Value
	case ModifierExponential:
		return base * math.Pow(m.Value, base)
	case ModifierFlat:
		return m.Value
	default:
		return base
	}
}

// Expired 修正是否已过期（过期修正不再生效）
func (m RiskModifier) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Applies 修正在当前时刻和情境下是否生效
func (m RiskModifier) Applies(now time.Time, actionType ActionType, entityID string, ctx ContextData) bool {
	return !m.Expired(now) && m.Condition.Satisfied(actionType, entityID, ctx)
}

// RiskProfile 实体的风险档案
type RiskProfile struct {
	EntityID            string                   `json:"entity_id"`
	BaseRiskMultiplier  float64                  `json:"base_risk_multiplier"`
	CategoryMultipliers map[RiskCategory]float64 `json:"category_multipliers"`
	Modifiers           []RiskModifier           `json:"modifiers"`
}

// NewRiskProfile 创建默认档案，所有维度乘数为1.0
func NewRiskProfile(entityID string) *RiskProfile {
	mult := make(map[RiskCategory]float64, len(AllRiskCategories))
	for _, c := range AllRiskCategories {
		mult[c] = 1.0
	}
	return &RiskProfile{
		EntityID:            entityID,
		BaseRiskMultiplier:  1.0,
		CategoryMultipliers: mult,
	}
}

// SetModifier 按ID覆盖或追加修正（后写者胜）
func (p *RiskProfile) SetModifier(m RiskModifier) {
	for i := range p.Modifiers {
		if p.Modifiers[i].ID == m.ID {
			p.Modifiers[i] = m
			return
		}
	}
	p.Modifiers = append(p.Modifiers, m)
}

// RemoveModifier 按ID移除修正，返回是否存在
func (p *RiskProfile) RemoveModifier(id string) bool {
	n := len(p.Modifiers)
	p.Modifiers = slices.DeleteFunc(p.Modifiers, func(m RiskModifier) bool { return m.ID == id })
	return len(p.Modifiers) != n
}

// PruneExpired 清理过期修正，返回清理数量
func (p *RiskProfile) PruneExpired(now time.Time) int {
	return PruneExpiredModifiers(&p.Modifiers, now)
}

// PruneExpiredModifiers 原地清理过期修正
func PruneExpiredModifiers(mods *[]RiskModifier, now time.Time) int {
	n := len(*mods)
	*mods = slices.DeleteFunc(*mods, func(m RiskModifier) bool { return m.Expired(now) })
	return n - len(*mods)
}

// ActionRecord 行动记录
type ActionRecord struct {
	ActionType   ActionType `json:"action_type"`
	Timestamp    time.Time  `json:"timestamp"`
	RiskValue    float64    `json:"risk_value"`
	Success      bool       `json:"success"`
	ContextLabel string     `json:"context_label,omitempty"`
}

// Clamp01 限制在[0,1]
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
