package models

import (
	"encoding/json"
	"time"

	"github.com/aiwuxian/abyss-tension/internal/ringbuf"
)

// SuspicionRecord 怀疑值变化记录
type SuspicionRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	OldValue   float64        `json:"old_value"`
	NewValue   float64        `json:"new_value"`
	Source     string         `json:"source"`
	Categories []RiskCategory `json:"categories,omitempty"`
}

// CharacterSuspicion 单个实体的怀疑状态
type CharacterSuspicion struct {
	EntityID          string                         `json:"entity_id"`
	Value             float64                        `json:"value"` // 0-1
	History           *ringbuf.Ring[SuspicionRecord] `json:"-"`
	CategoryModifiers map[RiskCategory]float64       `json:"category_modifiers,omitempty"`
	Groups            []string                       `json:"groups,omitempty"`
}

// NewCharacterSuspicion 创建初始怀疑状态
func NewCharacterSuspicion(entityID string, historyLimit int) *CharacterSuspicion {
	return &CharacterSuspicion{
		EntityID:          entityID,
		History:           ringbuf.New[SuspicionRecord](historyLimit),
		CategoryModifiers: make(map[RiskCategory]float64),
	}
}

// CategoryScale 返回给定维度中最大的维度修正，没有修正时为1.0
func (s *CharacterSuspicion) CategoryScale(categories []RiskCategory) float64 {
	scale := 0.0
	found := false
	for _, c := range categories {
		if m, ok := s.CategoryModifiers[c]; ok {
			if !found || m > scale {
				scale = m
			}
			found = true
		}
	}
	if !found {
		return 1.0
	}
	return scale
}

func (s *CharacterSuspicion) MarshalJSON() ([]byte, error) {
	type alias CharacterSuspicion
	var history []SuspicionRecord
	if s.History != nil {
		history = s.History.Slice()
	}
	return json.Marshal(struct {
		*alias
		History []SuspicionRecord `json:"history"`
	}{alias: (*alias)(s), History: history})
}

// GroupSuspicion 群体怀疑状态；平均值为成员贡献的算术平均
type GroupSuspicion struct {
	GroupID       string             `json:"group_id"`
	AverageValue  float64            `json:"average_value"`
	Contributions map[string]float64 `json:"contributions"` // 成员ID -> 贡献值
	SpreadRate    float64            `json:"spread_rate"`
}

// NewGroupSuspicion 创建空群体
func NewGroupSuspicion(groupID string, spreadRate float64) *GroupSuspicion {
	return &GroupSuspicion{
		GroupID:       groupID,
		Contributions: make(map[string]float64),
		SpreadRate:    spreadRate,
	}
}

// Recompute 重新计算平均值，返回新值
func (g *GroupSuspicion) Recompute() float64 {
	if len(g.Contributions) == 0 {
		g.AverageValue = 0
		return 0
	}
	sum := 0.0
	for _, v := range g.Contributions {
		sum += v
	}
	g.AverageValue = Clamp01(sum / float64(len(g.Contributions)))
	return g.AverageValue
}
