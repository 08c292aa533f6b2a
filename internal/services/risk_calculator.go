package services

import (
	"maps"
	"math"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/ringbuf"
)

// RiskCalculator 计算(行动, 实体, 情境)的风险值
type RiskCalculator struct {
	store  *content.Store
	cfg    models.SimulationConfig
	bus    *events.Bus
	clock  Clock
	logger *zap.Logger

	globalModifiers []models.RiskModifier
	profiles        map[string]*models.RiskProfile
	history         map[string]*ringbuf.Ring[models.ActionRecord]
	warnedActions   map[models.ActionType]bool
}

func NewRiskCalculator(store *content.Store, cfg models.SimulationConfig, bus *events.Bus,
	clock Clock, logger *zap.Logger) *RiskCalculator {
	return &RiskCalculator{
		store:           store,
		cfg:             cfg,
		bus:             bus,
		clock:           clock,
		logger:          logger.Named("risk_calculator"),
		globalModifiers: store.GlobalModifiers(),
		profiles:        make(map[string]*models.RiskProfile),
		history:         make(map[string]*ringbuf.Ring[models.ActionRecord]),
		warnedActions:   make(map[models.ActionType]bool),
	}
}

// CalculateRisk 计算风险值并发布RiskValueCalculated
func (rc *RiskCalculator) CalculateRisk(actionType models.ActionType, entityID string, ctx models.ContextData) float64 {
	risk := rc.compute(actionType, entityID, ctx)

	rc.bus.Publish(events.RiskValueCalculated{
		Envelope:   rc.bus.Envelope(),
		EntityID:   entityID,
		ActionType: actionType,
		RiskValue:  risk,
		Context:    ctx,
	})
	return risk
}

// PredictRisk 与CalculateRisk相同但不发布事件，用于预估
func (rc *RiskCalculator) PredictRisk(actionType models.ActionType, entityID string, ctx models.ContextData) float64 {
	return rc.compute(actionType, entityID, ctx)
}

func (rc *RiskCalculator) compute(actionType models.ActionType, entityID string, ctx models.ContextData) float64 {
	now := rc.clock.Now()
	def := rc.Definition(actionType)
	risk := def.BaseRisk

	// 全局修正（按配置顺序）
	for _, m := range rc.globalModifiers {
		if m.Applies(now, actionType, entityID, ctx) {
			risk = m.Apply(risk)
		}
	}

	// 实体档案
	profile := rc.profile(entityID)
	risk *= profile.BaseRiskMultiplier
	for _, c := range def.Categories {
		if mult, ok := profile.CategoryMultipliers[c]; ok {
			risk *= mult
		}
	}
	for _, m := range profile.Modifiers {
		if m.Applies(now, actionType, entityID, ctx) {
			risk = m.Apply(risk)
		}
	}

	risk = rc.applyContext(risk, def, ctx)
	risk *= rc.accumulationMultiplier(entityID, actionType)

	result := def.Clamp(risk)
	rc.logger.Debug("Risk calculated",
		zap.String("entity", entityID),
		zap.String("action", string(actionType)),
		zap.Float64("raw", risk),
		zap.Float64("risk", result))
	return result
}

// applyContext 情境调整：夜间、人群密度、安保等级与行动专属情境因子
func (rc *RiskCalculator) applyContext(risk float64, def models.ActionDefinition, ctx models.ContextData) float64 {
	rcfg := rc.cfg.Risk
	if ctx.IsNighttime {
		risk *= rcfg.NightMultiplier
	}
	risk *= 1 + ctx.CrowdDensity*rcfg.CrowdWeight
	risk *= 1 + ctx.SecurityLevel*rcfg.SecurityWeight

	for _, name := range slices.Sorted(maps.Keys(def.ContextualFactors)) {
		if v, ok := ctx.ContextualFactors[name]; ok {
			risk *= 1 + v*def.ContextualFactors[name]
		}
	}
	return risk
}

// accumulationMultiplier 近期同类行动带来的累积乘数，饱和于MaxMultiplier
func (rc *RiskCalculator) accumulationMultiplier(entityID string, actionType models.ActionType) float64 {
	acc := rc.cfg.Risk.Accumulation
	records, ok := rc.history[entityID]
	if !ok || acc.MaxMultiplier <= 1 || acc.Plateau <= 0 {
		return 1.0
	}

	now := rc.clock.Now()
	rate := acc.DecayRateFor(actionType)
	sum := 0.0
	records.Do(func(r models.ActionRecord) bool {
		if r.ActionType != actionType {
			return true
		}
		since := now.Sub(r.Timestamp)
		if since < 0 {
			since = 0
		}
		if since > acc.Window {
			return true
		}
		sum += math.Exp(-rate * since.Minutes())
		return true
	})

	headroom := acc.MaxMultiplier - 1
	return 1 + math.Min(headroom, headroom*(1-math.Exp(-sum/acc.Plateau)))
}

// Definition 查找行动定义；缺失时用系统默认值合成并告警
func (rc *RiskCalculator) Definition(actionType models.ActionType) models.ActionDefinition {
	if def, ok := rc.store.ActionDefinition(actionType); ok {
		return def
	}
	if !rc.warnedActions[actionType] {
		rc.warnedActions[actionType] = true
		rc.logger.Warn("No action definition, falling back to defaults",
			zap.String("action", string(actionType)))
	}
	def := rc.cfg.DefaultAction
	def.Type = actionType
	return def
}

// profile 取实体档案（惰性创建并采纳预设修正），每次访问顺带清理过期修正
func (rc *RiskCalculator) profile(entityID string) *models.RiskProfile {
	p, ok := rc.profiles[entityID]
	if !ok {
		p = models.NewRiskProfile(entityID)
		for _, m := range rc.store.EntityModifiers(entityID) {
			p.SetModifier(m)
		}
		rc.profiles[entityID] = p
	}
	if n := p.PruneExpired(rc.clock.Now()); n > 0 {
		rc.logger.Debug("Pruned expired modifiers", zap.String("entity", entityID), zap.Int("count", n))
	}
	return p
}

// Profile 返回实体档案副本
func (rc *RiskCalculator) Profile(entityID string) models.RiskProfile {
	p := rc.profile(entityID)
	cp := *p
	cp.CategoryMultipliers = maps.Clone(p.CategoryMultipliers)
	cp.Modifiers = slices.Clone(p.Modifiers)
	return cp
}

// AddModifier 为实体添加修正（同ID覆盖），返回修正ID
func (rc *RiskCalculator) AddModifier(entityID string, m models.RiskModifier) string {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	rc.profile(entityID).SetModifier(m)
	rc.logger.Debug("Modifier added", zap.String("entity", entityID), zap.String("modifier", m.ID))
	return m.ID
}

// RemoveModifier 移除实体修正
func (rc *RiskCalculator) RemoveModifier(entityID, modifierID string) bool {
	return rc.profile(entityID).RemoveModifier(modifierID)
}

// SetBaseMultiplier 设置实体基础风险乘数
func (rc *RiskCalculator) SetBaseMultiplier(entityID string, mult float64) {
	rc.profile(entityID).BaseRiskMultiplier = mult
}

// SetCategoryMultiplier 设置实体某风险维度的乘数
func (rc *RiskCalculator) SetCategoryMultiplier(entityID string, c models.RiskCategory, mult float64) {
	rc.profile(entityID).CategoryMultipliers[c] = mult
}

// AddGlobalModifier 添加全局修正（同ID覆盖）
func (rc *RiskCalculator) AddGlobalModifier(m models.RiskModifier) string {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	for i := range rc.globalModifiers {
		if rc.globalModifiers[i].ID == m.ID {
			rc.globalModifiers[i] = m
			return m.ID
		}
	}
	rc.globalModifiers = append(rc.globalModifiers, m)
	return m.ID
}

func (rc *RiskCalculator) RemoveGlobalModifier(id string) bool {
	n := len(rc.globalModifiers)
	rc.globalModifiers = slices.DeleteFunc(rc.globalModifiers, func(m models.RiskModifier) bool { return m.ID == id })
	return len(rc.globalModifiers) != n
}

// PruneExpiredModifiers 定期清理全局与所有实体的过期修正
func (rc *RiskCalculator) PruneExpiredModifiers() int {
	now := rc.clock.Now()
	pruned := models.PruneExpiredModifiers(&rc.globalModifiers, now)
	for _, p := range rc.profiles {
		pruned += p.PruneExpired(now)
	}
	return pruned
}

// RecordAction 追加行动记录，超过上限时淘汰最旧记录
func (rc *RiskCalculator) RecordAction(entityID string, record models.ActionRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = rc.clock.Now()
	}
	h, ok := rc.history[entityID]
	if !ok {
		h = ringbuf.New[models.ActionRecord](rc.cfg.Risk.HistoryLimit)
		rc.history[entityID] = h
	}
	h.Push(record)
}

// ActionHistory 实体的行动记录（从旧到新）
func (rc *RiskCalculator) ActionHistory(entityID string) []models.ActionRecord {
	h, ok := rc.history[entityID]
	if !ok {
		return nil
	}
	return h.Slice()
}
