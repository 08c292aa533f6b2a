package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/content"
	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

// Options 可选依赖；零值使用内存归档、时间种子随机数与当前时间
type Options struct {
	Archive HistoryArchive
	Rules   *RuleEngine
	Start   time.Time
}

// Simulation 引擎顶层：组装各组件、连接事件订阅，并由Tick驱动
//
// 内部集合均不加锁，多线程宿主需在外部串行化所有调用（见scheduler包）。
type Simulation struct {
	cfg    models.SimulationConfig
	store  *content.Store
	logger *zap.Logger

	Bus         *events.Bus
	Clock       *SimClock
	Risk        *RiskCalculator
	Suspicion   *SuspicionTracker
	Registry    *CrisisRegistry
	Generator   *CrisisGenerator
	Timeline    *CrisisTimeline
	Resolutions *ResolutionHandler

	unsubscribe []func()
}

func NewSimulation(store *content.Store, cfg models.SimulationConfig, logger *zap.Logger, opts Options) *Simulation {
	if opts.Rules == nil {
		opts.Rules = NewRuleEngine()
	}
	clock := NewSimClock(opts.Start)
	bus := events.NewBus(logger, clock.Now)
	registry := NewCrisisRegistry(opts.Archive, logger)
	generator := NewCrisisGenerator(store, cfg.Crisis, registry, bus, clock, logger)

	s := &Simulation{
		cfg:         cfg,
		store:       store,
		logger:      logger.Named("simulation"),
		Bus:         bus,
		Clock:       clock,
		Risk:        NewRiskCalculator(store, cfg, bus, clock, logger),
		Suspicion:   NewSuspicionTracker(cfg.Suspicion, bus, clock, logger),
		Registry:    registry,
		Generator:   generator,
		Timeline:    NewCrisisTimeline(store, cfg.Crisis, registry, generator, bus, clock, logger),
		Resolutions: NewResolutionHandler(store, registry, generator, opts.Rules, bus, clock, logger),
	}

	s.unsubscribe = append(s.unsubscribe,
		events.Subscribe(bus, s.Generator.HandleSuspicionChanged),
		events.Subscribe(bus, s.Timeline.HandleCrisisTriggered),
		events.Subscribe(bus, s.onStageChanged),
		events.Subscribe(bus, s.onCrisisResolved),
		events.Subscribe(bus, s.onResolutionAttempted),
	)
	return s
}

// Close 断开内部订阅
func (s *Simulation) Close() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}

// Config 当前调参
func (s *Simulation) Config() models.SimulationConfig { return s.cfg }

// Store 内容库
func (s *Simulation) Store() *content.Store { return s.store }

// Tick 推进模拟时钟，依次执行怀疑衰减、危机推进与过期修正清理
func (s *Simulation) Tick(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	s.Clock.Advance(dt)
	s.Suspicion.ProcessDecay(dt.Seconds())
	s.Timeline.UpdateCrisisProgression(dt)
	if n := s.Risk.PruneExpiredModifiers(); n > 0 {
		s.logger.Debug("Expired modifiers swept", zap.Int("count", n))
	}
}

func (s *Simulation) CalculateRisk(actionType models.ActionType, entityID string, ctx models.ContextData) float64 {
	return s.Risk.CalculateRisk(actionType, entityID, ctx)
}

func (s *Simulation) PredictRisk(actionType models.ActionType, entityID string, ctx models.ContextData) float64 {
	return s.Risk.PredictRisk(actionType, entityID, ctx)
}

func (s *Simulation) RecordAction(entityID string, record models.ActionRecord) {
	s.Risk.RecordAction(entityID, record)
}

// RecordActionOutcome 记录行动结果，并按行动定义把风险折算为怀疑增量，返回新的怀疑值
func (s *Simulation) RecordActionOutcome(entityID string, actionType models.ActionType, ctx models.ContextData,
	risk float64, success bool) float64 {
	s.Risk.RecordAction(entityID, models.ActionRecord{
		ActionType:   actionType,
		Timestamp:    s.Clock.Now(),
		RiskValue:    risk,
		Success:      success,
		ContextLabel: ctx.LocationID,
	})

	def := s.Risk.Definition(actionType)
	factor := def.SuspicionOnFailure
	if success {
		factor = def.SuspicionOnSuccess
	}
	return s.Suspicion.UpdateSuspicion(entityID, risk*factor, "action:"+string(actionType), def.Categories)
}

// ModifySuspicion 直接调整怀疑值（贿赂、伪装等特殊效果）
func (s *Simulation) ModifySuspicion(entityID string, delta float64, source string,
	categories []models.RiskCategory) float64 {
	return s.Suspicion.UpdateSuspicion(entityID, delta, source, categories)
}

func (s *Simulation) AddRiskModifier(entityID string, m models.RiskModifier) string {
	return s.Risk.AddModifier(entityID, m)
}

func (s *Simulation) RemoveRiskModifier(entityID, modifierID string) bool {
	return s.Risk.RemoveModifier(entityID, modifierID)
}

func (s *Simulation) AddGlobalModifier(m models.RiskModifier) string {
	return s.Risk.AddGlobalModifier(m)
}

func (s *Simulation) RemoveGlobalModifier(id string) bool {
	return s.Risk.RemoveGlobalModifier(id)
}

func (s *Simulation) JoinGroup(entityID, groupID string, spreadRate float64) {
	s.Suspicion.JoinGroup(entityID, groupID, spreadRate)
}

// SetGroupSpreadRate 只影响之后的传播，已有贡献不变
func (s *Simulation) SetGroupSpreadRate(groupID string, rate float64) {
	s.Suspicion.SetGroupSpreadRate(groupID, rate)
}

// AttemptCrisisResolution 见ResolutionHandler.AttemptResolution
func (s *Simulation) AttemptCrisisResolution(crisisID, resolutionID string,
	params map[string]float64) (*models.ResolutionAttempt, bool) {
	return s.Resolutions.AttemptResolution(crisisID, resolutionID, params)
}

func (s *Simulation) GetSuspicionLevel(entityID string) float64 {
	return s.Suspicion.GetSuspicionLevel(entityID)
}

func (s *Simulation) GetGroupSuspicion(groupID string) float64 {
	return s.Suspicion.GetGroupSuspicion(groupID)
}

// GetActiveCrises 进行中危机的副本
func (s *Simulation) GetActiveCrises() []*models.ActiveCrisis {
	active := s.Registry.Active()
	out := make([]*models.ActiveCrisis, 0, len(active))
	for _, c := range active {
		out = append(out, c.Clone())
	}
	return out
}

// GetCrisis 危机副本（含已结束的）
func (s *Simulation) GetCrisis(crisisID string) (*models.ActiveCrisis, bool) {
	c, ok := s.Registry.Get(crisisID)
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (s *Simulation) GetAvailableResolutions(crisisID string) []models.CrisisResolution {
	return s.Resolutions.GetAvailableResolutions(crisisID)
}

func (s *Simulation) GetCrisisHistory(entityID string) ([]models.CrisisHistory, error) {
	return s.Registry.History(entityID)
}

func (s *Simulation) onStageChanged(e events.CrisisStageChanged) {
	// 曝光效果已由时间线计入
	s.applyEffects(e.CrisisID, e.Effects, e.InvolvedEntities, "crisis_stage:"+e.TemplateID, false)
}

func (s *Simulation) onCrisisResolved(e events.CrisisResolved) {
	s.applyEffects(e.CrisisID, e.Aftereffects, e.InvolvedEntities, "crisis_aftermath:"+e.TemplateID, true)
}

func (s *Simulation) onResolutionAttempted(e events.ResolutionAttempted) {
	if e.Outcome == nil {
		return
	}
	// 失败的尝试不改变危机本身，只保留对实体的怀疑效果
	s.applyEffects(e.CrisisID, e.Outcome.Effects, e.InvolvedEntities, "resolution:"+e.ResolutionID, e.Success)
}

// applyEffects 怀疑效果作用于目标或全部涉事实体，曝光效果作用于危机本身
func (s *Simulation) applyEffects(crisisID string, effects []models.Effect, involved []string,
	source string, exposure bool) {
	for _, eff := range effects {
		switch eff.Kind {
		case models.EffectSuspicion:
			targets := involved
			if eff.Target != "" {
				targets = []string{eff.Target}
			}
			for _, entityID := range targets {
				s.Suspicion.UpdateSuspicion(entityID, eff.Value, source, nil)
			}
		case models.EffectExposure:
			if !exposure {
				continue
			}
			if c, ok := s.Registry.Get(crisisID); ok {
				ApplyExposure(c, eff)
			}
		default:
			s.logger.Warn("Unknown effect kind", zap.String("kind", string(eff.Kind)), zap.String("source", source))
		}
	}
}
