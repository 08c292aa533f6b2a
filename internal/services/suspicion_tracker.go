package services

import (
	"maps"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/ringbuf"
)

// 怀疑值来源标签
const (
	SourceDecay       = "decay"
	SourcePropagation = "propagation"
)

// SuspicionTracker 维护个体与群体的怀疑值
type SuspicionTracker struct {
	cfg    models.SuspicionConfig
	bus    *events.Bus
	clock  Clock
	logger *zap.Logger

	entities map[string]*models.CharacterSuspicion
	groups   map[string]*models.GroupSuspicion

	// 最近一次发布事件时的数值，衰减按累计变化量判断是否超过噪声阈值
	reported      map[string]float64
	groupReported map[string]float64
}

func NewSuspicionTracker(cfg models.SuspicionConfig, bus *events.Bus, clock Clock, logger *zap.Logger) *SuspicionTracker {
	return &SuspicionTracker{
		cfg:           cfg,
		bus:           bus,
		clock:         clock,
		logger:        logger.Named("suspicion_tracker"),
		entities:      make(map[string]*models.CharacterSuspicion),
		groups:        make(map[string]*models.GroupSuspicion),
		reported:      make(map[string]float64),
		groupReported: make(map[string]float64),
	}
}

func (st *SuspicionTracker) entity(entityID string) *models.CharacterSuspicion {
	s, ok := st.entities[entityID]
	if !ok {
		s = models.NewCharacterSuspicion(entityID, st.cfg.HistoryLimit)
		st.entities[entityID] = s
	}
	return s
}

func (st *SuspicionTracker) group(groupID string) *models.GroupSuspicion {
	g, ok := st.groups[groupID]
	if !ok {
		g = models.NewGroupSuspicion(groupID, st.cfg.DefaultSpreadRate)
		st.groups[groupID] = g
	}
	return g
}

// UpdateSuspicion 调整实体怀疑值，返回新值
//
// 正向变化按实体在相关维度上的最大修正缩放，结果截断到[0,1]。
// 变化会按扩散率传播到实体所属的群体。
func (st *SuspicionTracker) UpdateSuspicion(entityID string, delta float64, source string,
	categories []models.RiskCategory) float64 {
	s := st.entity(entityID)
	if delta > 0 {
		delta *= s.CategoryScale(categories)
	}

	old := s.Value
	s.Value = models.Clamp01(old + delta)
	s.History.Push(models.SuspicionRecord{
		Timestamp:  st.clock.Now(),
		OldValue:   old,
		NewValue:   s.Value,
		Source:     source,
		Categories: slices.Clone(categories),
	})
	st.publishEntity(s, old, source, categories)

	if change := s.Value - old; change != 0 {
		for _, groupID := range slices.Clone(s.Groups) {
			st.PropagateToGroup(entityID, groupID, change)
		}
	}
	return s.Value
}

func (st *SuspicionTracker) publishEntity(s *models.CharacterSuspicion, old float64, source string,
	categories []models.RiskCategory) {
	st.reported[s.EntityID] = s.Value
	st.bus.Publish(events.SuspicionChanged{
		Envelope:   st.bus.Envelope(),
		EntityID:   s.EntityID,
		OldValue:   old,
		NewValue:   s.Value,
		Source:     source,
		Categories: slices.Clone(categories),
	})
}

func (st *SuspicionTracker) publishGroup(g *models.GroupSuspicion, old float64, source string) {
	st.groupReported[g.GroupID] = g.AverageValue
	st.bus.Publish(events.SuspicionChanged{
		Envelope: st.bus.Envelope(),
		GroupID:  g.GroupID,
		OldValue: old,
		NewValue: g.AverageValue,
		Source:   source,
	})
}

// GetSuspicionLevel 未知实体为0
func (st *SuspicionTracker) GetSuspicionLevel(entityID string) float64 {
	if s, ok := st.entities[entityID]; ok {
		return s.Value
	}
	return 0
}

// History 实体怀疑值变化记录（从旧到新）
func (st *SuspicionTracker) History(entityID string) []models.SuspicionRecord {
	if s, ok := st.entities[entityID]; ok {
		return s.History.Slice()
	}
	return nil
}

// Snapshot 实体怀疑状态的只读视图
func (st *SuspicionTracker) Snapshot(entityID string) (*models.CharacterSuspicion, bool) {
	s, ok := st.entities[entityID]
	if !ok {
		return nil, false
	}
	cp := *s
	cp.CategoryModifiers = maps.Clone(s.CategoryModifiers)
	cp.Groups = slices.Clone(s.Groups)
	cp.History = ringbuf.New[models.SuspicionRecord](s.History.Cap())
	s.History.Do(func(r models.SuspicionRecord) bool {
		cp.History.Push(r)
		return true
	})
	return &cp, true
}

// Entities 已跟踪的实体ID（排序）
func (st *SuspicionTracker) Entities() []string {
	return slices.Sorted(maps.Keys(st.entities))
}

// SetCategoryModifier 设置实体在某维度上的怀疑增量系数
func (st *SuspicionTracker) SetCategoryModifier(entityID string, c models.RiskCategory, mult float64) {
	st.entity(entityID).CategoryModifiers[c] = mult
}

// JoinGroup 实体加入群体，之后的怀疑变化会向该群体扩散；spreadRate>0时覆盖群体扩散率
func (st *SuspicionTracker) JoinGroup(entityID, groupID string, spreadRate float64) {
	s := st.entity(entityID)
	g := st.group(groupID)
	if spreadRate > 0 {
		g.SpreadRate = spreadRate
	}
	if !slices.Contains(s.Groups, groupID) {
		s.Groups = append(s.Groups, groupID)
	}
	if _, ok := g.Contributions[entityID]; !ok {
		g.Contributions[entityID] = 0
		g.Recompute()
		st.groupReported[groupID] = g.AverageValue
	}
}

// LeaveGroup 实体退出群体并撤回其贡献
func (st *SuspicionTracker) LeaveGroup(entityID, groupID string) {
	if s, ok := st.entities[entityID]; ok {
		s.Groups = slices.DeleteFunc(s.Groups, func(id string) bool { return id == groupID })
	}
	g, ok := st.groups[groupID]
	if !ok {
		return
	}
	if _, member := g.Contributions[entityID]; !member {
		return
	}
	old := g.AverageValue
	delete(g.Contributions, entityID)
	if g.Recompute() != old {
		st.publishGroup(g, old, SourcePropagation)
	}
}

// SetGroupSpreadRate 设置群体扩散率
func (st *SuspicionTracker) SetGroupSpreadRate(groupID string, rate float64) {
	st.group(groupID).SpreadRate = rate
}

// PropagateToGroup 把个体变化按扩散率计入群体贡献，并重新计算群体平均值
func (st *SuspicionTracker) PropagateToGroup(entityID, groupID string, change float64) {
	g := st.group(groupID)
	old := g.AverageValue
	g.Contributions[entityID] = models.Clamp01(g.Contributions[entityID] + change*g.SpreadRate)
	if g.Recompute() != old {
		st.publishGroup(g, old, SourcePropagation)
	}
}

// GetGroupSuspicion 群体平均怀疑值，未知群体为0
func (st *SuspicionTracker) GetGroupSuspicion(groupID string) float64 {
	if g, ok := st.groups[groupID]; ok {
		return g.AverageValue
	}
	return 0
}

// Group 群体状态副本
func (st *SuspicionTracker) Group(groupID string) (*models.GroupSuspicion, bool) {
	g, ok := st.groups[groupID]
	if !ok {
		return nil, false
	}
	cp := *g
	cp.Contributions = maps.Clone(g.Contributions)
	return &cp, true
}

// decayRate 按当前怀疑值所在分层取每小时衰减率
func (st *SuspicionTracker) decayRate(value float64) float64 {
	tiers := st.cfg.DecayTiers
	if len(tiers) == 0 {
		return st.cfg.BaseDecayRate
	}
	idx := int(math.Floor(value * float64(len(tiers))))
	idx = max(0, min(idx, len(tiers)-1))
	return st.cfg.BaseDecayRate * tiers[idx]
}

// ProcessDecay 按经过的秒数衰减所有实体的怀疑值
//
// 怀疑值不会低于最小阈值；相对上次通知的累计变化超过噪声阈值才发布事件。
func (st *SuspicionTracker) ProcessDecay(elapsedSeconds float64) {
	if elapsedSeconds <= 0 {
		return
	}
	hours := elapsedSeconds / 3600
	floor := st.cfg.MinimumThreshold
	now := st.clock.Now()

	for _, id := range st.Entities() {
		s := st.entities[id]
		if s.Value <= floor {
			continue
		}
		s.Value = math.Max(floor, s.Value-st.decayRate(s.Value)*hours)

		last := st.reported[id]
		if math.Abs(s.Value-last) > st.cfg.NoiseThreshold {
			s.History.Push(models.SuspicionRecord{
				Timestamp: now,
				OldValue:  last,
				NewValue:  s.Value,
				Source:    SourceDecay,
			})
			st.publishEntity(s, last, SourceDecay, nil)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(st.groups)) {
		g := st.groups[id]
		g.Recompute()
		last := st.groupReported[id]
		if math.Abs(g.AverageValue-last) > st.cfg.NoiseThreshold {
			st.publishGroup(g, last, SourceDecay)
		}
	}

	st.logger.Debug("Suspicion decay processed",
		zap.Float64("hours", hours),
		zap.Int("entities", len(st.entities)))
}
