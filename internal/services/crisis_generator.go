package services

import (
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

// CrisisGenerator 根据怀疑值触发危机，并负责危机的终结
type CrisisGenerator struct {
	store    *content.Store
	cfg      models.CrisisConfig
	registry *CrisisRegistry
	bus      *events.Bus
	clock    Clock
	logger   *zap.Logger
}

func NewCrisisGenerator(store *content.Store, cfg models.CrisisConfig, registry *CrisisRegistry,
	bus *events.Bus, clock Clock, logger *zap.Logger) *CrisisGenerator {
	return &CrisisGenerator{
		store:    store,
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		clock:    clock,
		logger:   logger.Named("crisis_generator"),
	}
}

// HandleSuspicionChanged 个体怀疑值变化时检查触发条件；群体事件忽略
func (g *CrisisGenerator) HandleSuspicionChanged(e events.SuspicionChanged) {
	if e.IsGroup() {
		return
	}
	g.CheckForCrisisTrigger(e.EntityID, e.NewValue, e.Categories)
}

// CheckForCrisisTrigger 按模板顺序检查触发条件，每次调用最多创建一个危机
//
// 实体在同一模板下已有进行中的危机时跳过该模板。
func (g *CrisisGenerator) CheckForCrisisTrigger(entityID string, suspicion float64,
	categories []models.RiskCategory) *models.ActiveCrisis {
	for _, tpl := range g.store.Templates() {
		if _, exists := g.registry.ActiveFor(tpl.ID, entityID); exists {
			continue
		}
		for _, trigger := range tpl.Triggers {
			if !trigger.Satisfied(suspicion, categories) {
				continue
			}
			return g.instantiate(tpl, entityID, suspicion)
		}
	}
	return nil
}

func (g *CrisisGenerator) instantiate(tpl *models.CrisisTemplate, entityID string, suspicion float64) *models.ActiveCrisis {
	now := g.clock.Now()
	duration := tpl.Duration
	if duration <= 0 {
		duration = g.cfg.DefaultDuration
	}

	crisis := &models.ActiveCrisis{
		InstanceID:       uuid.New().String(),
		TemplateID:       tpl.ID,
		StartTime:        now,
		Deadline:         now.Add(duration),
		InvolvedEntities: []string{entityID},
		ExposureLevels:   map[string]float64{entityID: models.Clamp01(suspicion)},
		Status:           models.CrisisActive,
	}
	g.registry.Add(crisis)

	g.logger.Info("Crisis triggered",
		zap.String("crisis", crisis.InstanceID),
		zap.String("template", tpl.ID),
		zap.String("entity", entityID),
		zap.Float64("suspicion", suspicion))

	g.bus.Publish(events.CrisisTriggered{
		Envelope:       g.bus.Envelope(),
		CrisisID:       crisis.InstanceID,
		TemplateID:     tpl.ID,
		EntityID:       entityID,
		SuspicionLevel: suspicion,
	})
	return crisis
}

// ResolveCrisis 以解决或失败结束危机；危机不存在或已结束时返回false
func (g *CrisisGenerator) ResolveCrisis(instanceID string, successful bool, methods []string, outcomeText string) bool {
	status := models.CrisisFailed
	if successful {
		status = models.CrisisResolved
	}
	return g.finish(instanceID, status, successful, methods, outcomeText)
}

// Expire 超时结束危机
func (g *CrisisGenerator) Expire(instanceID string) bool {
	return g.finish(instanceID, models.CrisisExpired, false, nil, g.cfg.ExpiredOutcomeText)
}

func (g *CrisisGenerator) finish(instanceID string, status models.CrisisStatus, successful bool,
	methods []string, outcomeText string) bool {
	crisis, ok := g.registry.Get(instanceID)
	if !ok {
		g.logger.Warn("Unknown crisis", zap.String("crisis", instanceID))
		return false
	}
	if !g.registry.Close(crisis, status, successful, methods, outcomeText, g.clock.Now()) {
		return false
	}

	var aftereffects []models.Effect
	if tpl, ok := g.store.Template(crisis.TemplateID); ok {
		aftereffects = slices.Clone(tpl.Aftereffects.For(status))
	}

	g.logger.Info("Crisis finished",
		zap.String("crisis", instanceID),
		zap.String("status", string(status)),
		zap.Strings("methods", methods))

	g.bus.Publish(events.CrisisResolved{
		Envelope:         g.bus.Envelope(),
		CrisisID:         instanceID,
		TemplateID:       crisis.TemplateID,
		Status:           status,
		Successful:       successful,
		Methods:          slices.Clone(methods),
		OutcomeText:      outcomeText,
		InvolvedEntities: slices.Clone(crisis.InvolvedEntities),
		Aftereffects:     aftereffects,
	})
	return true
}
