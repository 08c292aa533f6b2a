package services

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

// CrisisTimeline 推进已登记危机的阶段并处理超时
type CrisisTimeline struct {
	store     *content.Store
	cfg       models.CrisisConfig
	registry  *CrisisRegistry
	generator *CrisisGenerator
	bus       *events.Bus
	clock     Clock
	logger    *zap.Logger

	registered []string
}

func NewCrisisTimeline(store *content.Store, cfg models.CrisisConfig, registry *CrisisRegistry,
	generator *CrisisGenerator, bus *events.Bus, clock Clock, logger *zap.Logger) *CrisisTimeline {
	return &CrisisTimeline{
		store:     store,
		cfg:       cfg,
		registry:  registry,
		generator: generator,
		bus:       bus,
		clock:     clock,
		logger:    logger.Named("crisis_timeline"),
	}
}

// HandleCrisisTriggered 新危机自动登记
func (t *CrisisTimeline) HandleCrisisTriggered(e events.CrisisTriggered) {
	t.Register(e.CrisisID)
}

// Register 登记危机ID，重复登记无效
func (t *CrisisTimeline) Register(crisisID string) {
	if !slices.Contains(t.registered, crisisID) {
		t.registered = append(t.registered, crisisID)
	}
}

func (t *CrisisTimeline) Unregister(crisisID string) {
	t.registered = slices.DeleteFunc(t.registered, func(id string) bool { return id == crisisID })
}

// Registered 已登记的危机ID
func (t *CrisisTimeline) Registered() []string {
	return slices.Clone(t.registered)
}

// UpdateCrisisProgression 按经过时间推进每个危机
func (t *CrisisTimeline) UpdateCrisisProgression(elapsed time.Duration) {
	hours := elapsed.Hours()
	if hours < 0 {
		hours = 0
	}

	for _, id := range slices.Clone(t.registered) {
		crisis, ok := t.registry.Get(id)
		if !ok || !crisis.IsActive() {
			t.Unregister(id)
			continue
		}

		if tpl, ok := t.store.Template(crisis.TemplateID); ok {
			t.advance(crisis, tpl, hours)
		} else {
			t.logger.Warn("Crisis template missing, progression skipped",
				zap.String("crisis", id), zap.String("template", crisis.TemplateID))
		}

		// 阶段推进的效果可能已经结束了危机
		if crisis.IsActive() && t.clock.Now().After(crisis.Deadline) {
			t.generator.Expire(id)
		}
		if !crisis.IsActive() {
			t.Unregister(id)
		}
	}
}

func (t *CrisisTimeline) advance(crisis *models.ActiveCrisis, tpl *models.CrisisTemplate, hours float64) {
	last := len(tpl.Stages) - 1
	if crisis.CurrentStageIndex > last {
		crisis.CurrentStageIndex = last
	}

	crisis.StageProgress += t.progressionRate(tpl, crisis.CurrentStageIndex) * hours
	if crisis.StageProgress < 1.0 {
		return
	}
	if crisis.CurrentStageIndex >= last {
		crisis.StageProgress = 1.0
		return
	}

	prev := crisis.CurrentStageIndex
	crisis.CurrentStageIndex++
	crisis.StageProgress = 0
	stage := tpl.Stages[crisis.CurrentStageIndex]

	for _, eff := range stage.Effects {
		if eff.Kind == models.EffectExposure {
			ApplyExposure(crisis, eff)
		}
	}

	t.logger.Info("Crisis stage advanced",
		zap.String("crisis", crisis.InstanceID),
		zap.Int("stage", crisis.CurrentStageIndex),
		zap.String("name", stage.Name))

	t.bus.Publish(events.CrisisStageChanged{
		Envelope:         t.bus.Envelope(),
		CrisisID:         crisis.InstanceID,
		TemplateID:       crisis.TemplateID,
		PreviousStage:    prev,
		CurrentStage:     crisis.CurrentStageIndex,
		StageName:        stage.Name,
		Effects:          slices.Clone(stage.Effects),
		InvolvedEntities: slices.Clone(crisis.InvolvedEntities),
	})
}

// progressionRate 每小时的阶段进度；阶段声明了时长占比时按模板总时长折算
func (t *CrisisTimeline) progressionRate(tpl *models.CrisisTemplate, stageIndex int) float64 {
	total := tpl.Duration
	if total <= 0 {
		total = t.cfg.DefaultDuration
	}
	frac := tpl.Stages[stageIndex].DurationFraction
	if frac > 0 && total > 0 {
		return 1 / (frac * total.Hours())
	}
	return t.cfg.ProgressionPerHour
}

// ApplyExposure 把曝光效果计入危机；Target为空时作用于全部涉事实体
func ApplyExposure(crisis *models.ActiveCrisis, eff models.Effect) {
	targets := crisis.InvolvedEntities
	if eff.Target != "" {
		targets = []string{eff.Target}
	}
	if crisis.ExposureLevels == nil {
		crisis.ExposureLevels = make(map[string]float64)
	}
	for _, e := range targets {
		crisis.ExposureLevels[e] = models.Clamp01(crisis.ExposureLevels[e] + eff.Value)
	}
}
