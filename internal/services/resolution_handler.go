package services

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

// ResolutionHandler 处理玩家的危机解决尝试
type ResolutionHandler struct {
	store     *content.Store
	registry  *CrisisRegistry
	generator *CrisisGenerator
	rules     *RuleEngine
	bus       *events.Bus
	clock     Clock
	logger    *zap.Logger
}

func NewResolutionHandler(store *content.Store, registry *CrisisRegistry, generator *CrisisGenerator,
	rules *RuleEngine, bus *events.Bus, clock Clock, logger *zap.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		store:     store,
		registry:  registry,
		generator: generator,
		rules:     rules,
		bus:       bus,
		clock:     clock,
		logger:    logger.Named("resolution_handler"),
	}
}

// lookup 返回进行中的危机、模板与当前阶段可用的解决方案
func (h *ResolutionHandler) lookup(crisisID, resolutionID string) (*models.ActiveCrisis, *models.CrisisResolution, bool) {
	crisis, ok := h.registry.Get(crisisID)
	if !ok || !crisis.IsActive() {
		h.logger.Warn("Crisis not active", zap.String("crisis", crisisID))
		return nil, nil, false
	}
	tpl, ok := h.store.Template(crisis.TemplateID)
	if !ok {
		h.logger.Warn("Crisis template missing", zap.String("template", crisis.TemplateID))
		return nil, nil, false
	}
	res, ok := tpl.Resolution(resolutionID)
	if !ok {
		h.logger.Warn("Unknown resolution", zap.String("crisis", crisisID), zap.String("resolution", resolutionID))
		return nil, nil, false
	}
	if !tpl.Stages[crisis.CurrentStageIndex].Offers(resolutionID) {
		h.logger.Warn("Resolution not available at current stage",
			zap.String("crisis", crisisID), zap.String("resolution", resolutionID))
		return nil, nil, false
	}
	return crisis, res, true
}

// eligible 技能门槛、必填参数与尝试次数上限
func eligible(crisis *models.ActiveCrisis, res *models.CrisisResolution, params map[string]float64) bool {
	for skill, minimum := range res.SkillRequirements {
		if params[skill] < minimum {
			return false
		}
	}
	for _, p := range res.Restrictions.RequiredParameters {
		if _, ok := params[p]; !ok {
			return false
		}
	}
	if n := res.Restrictions.MaxAttempts; n > 0 && crisis.AttemptsFor(res.ID) >= n {
		return false
	}
	return true
}

// SuccessProbability 基础成功率加上情境因子与道具修正，截断到[0,1]
func SuccessProbability(res *models.CrisisResolution, params map[string]float64) float64 {
	p := res.BaseSuccessRate
	for _, m := range res.Modifiers {
		switch {
		case m.ContextualFactor != "":
			p += m.ValueChange * params[m.ContextualFactor]
		case m.RequiredItem != "":
			if _, ok := params[m.RequiredItem]; ok {
				p += m.ValueChange
			}
		}
	}
	return models.Clamp01(p)
}

// AttemptResolution 执行一次解决尝试
//
// 请求无效时返回(nil, false)且不改变任何状态、不发布事件。
// 有效尝试会记录在危机上；成功时危机以Resolved结束，失败时保持进行中。
func (h *ResolutionHandler) AttemptResolution(crisisID, resolutionID string,
	params map[string]float64) (*models.ResolutionAttempt, bool) {
	crisis, res, ok := h.lookup(crisisID, resolutionID)
	if !ok {
		return nil, false
	}
	if !eligible(crisis, res, params) {
		h.logger.Warn("Resolution requirements not met",
			zap.String("crisis", crisisID), zap.String("resolution", resolutionID))
		return nil, false
	}

	p := SuccessProbability(res, params)
	roll, success := h.rules.Check(p)
	outcome := h.rules.PickOutcome(res.Outcomes, success)

	attempt := models.ResolutionAttempt{
		Time:         h.clock.Now(),
		ResolutionID: res.ID,
		Probability:  p,
		Roll:         roll,
		Parameters:   maps.Clone(params),
		Success:      success,
		Outcome:      outcome,
	}
	crisis.ResolutionAttempts = append(crisis.ResolutionAttempts, attempt)

	h.logger.Info("Resolution attempted",
		zap.String("crisis", crisisID),
		zap.String("resolution", res.ID),
		zap.Float64("probability", p),
		zap.Float64("roll", roll),
		zap.Bool("success", success))

	h.bus.Publish(events.ResolutionAttempted{
		Envelope:         h.bus.Envelope(),
		CrisisID:         crisisID,
		ResolutionID:     res.ID,
		Probability:      p,
		Success:          success,
		Outcome:          outcome,
		InvolvedEntities: slices.Clone(crisis.InvolvedEntities),
	})

	if success && crisis.IsActive() {
		text := res.Name
		if outcome != nil {
			text = outcome.Description
		}
		h.generator.ResolveCrisis(crisisID, true, attemptedMethods(crisis), text)
	}
	return &attempt, success
}

// attemptedMethods 按首次尝试顺序去重的解决方案ID
func attemptedMethods(crisis *models.ActiveCrisis) []string {
	var methods []string
	for _, a := range crisis.ResolutionAttempts {
		if !slices.Contains(methods, a.ResolutionID) {
			methods = append(methods, a.ResolutionID)
		}
	}
	return methods
}

// GetAvailableResolutions 当前阶段开放的解决方案；危机不存在或已结束时为空
func (h *ResolutionHandler) GetAvailableResolutions(crisisID string) []models.CrisisResolution {
	crisis, ok := h.registry.Get(crisisID)
	if !ok || !crisis.IsActive() {
		return nil
	}
	tpl, ok := h.store.Template(crisis.TemplateID)
	if !ok {
		return nil
	}
	var out []models.CrisisResolution
	for _, id := range tpl.Stages[crisis.CurrentStageIndex].AvailableResolutions {
		if res, ok := tpl.Resolution(id); ok {
			out = append(out, *res)
		}
	}
	return out
}
