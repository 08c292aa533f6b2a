package events

import (
	"time"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

// Topic 事件主题
type Topic string

const (
	TopicRiskValueCalculated Topic = "risk_value_calculated"
	TopicSuspicionChanged    Topic = "suspicion_changed"
	TopicCrisisTriggered     Topic = "crisis_triggered"
	TopicCrisisStageChanged  Topic = "crisis_stage_changed"
	TopicCrisisResolved      Topic = "crisis_resolved"
	TopicResolutionAttempted Topic = "resolution_attempted"
)

// Event 所有事件的公共接口；事件发布后不可修改
type Event interface {
	Topic() Topic
	Meta() Envelope
}

// Envelope 事件ID与时间戳
type Envelope struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Envelope) Meta() Envelope { return e }

// RiskValueCalculated 风险值计算完成
type RiskValueCalculated struct {
	Envelope
	EntityID   string             `json:"entity_id"`
	ActionType models.ActionType  `json:"action_type"`
	RiskValue  float64            `json:"risk_value"`
	Context    models.ContextData `json:"context"`
}

func (RiskValueCalculated) Topic() Topic { return TopicRiskValueCalculated }

// SuspicionChanged 个体或群体怀疑值变化；GroupID非空时为群体事件
type SuspicionChanged struct {
	Envelope
	EntityID   string                `json:"entity_id,omitempty"`
	GroupID    string                `json:"group_id,omitempty"`
	OldValue   float64               `json:"old_value"`
	NewValue   float64               `json:"new_value"`
	Source     string                `json:"source"`
	Categories []models.RiskCategory `json:"categories,omitempty"`
}

func (SuspicionChanged) Topic() Topic { return TopicSuspicionChanged }

func (e SuspicionChanged) IsGroup() bool { return e.GroupID != "" }

// CrisisTriggered 危机实例已创建
type CrisisTriggered struct {
	Envelope
	CrisisID       string  `json:"crisis_id"`
	TemplateID     string  `json:"template_id"`
	EntityID       string  `json:"entity_id"`
	SuspicionLevel float64 `json:"suspicion_level"`
}

func (CrisisTriggered) Topic() Topic { return TopicCrisisTriggered }

// CrisisStageChanged 危机进入新阶段
type CrisisStageChanged struct {
	Envelope
	CrisisID         string          `json:"crisis_id"`
	TemplateID       string          `json:"template_id"`
	PreviousStage    int             `json:"previous_stage"`
	CurrentStage     int             `json:"current_stage"`
	StageName        string          `json:"stage_name"`
	Effects          []models.Effect `json:"effects,omitempty"`
	InvolvedEntities []string        `json:"involved_entities"`
}

func (CrisisStageChanged) Topic() Topic { return TopicCrisisStageChanged }

// CrisisResolved 危机离开进行中状态（解决、失败或超时）
type CrisisResolved struct {
	Envelope
	CrisisID         string              `json:"crisis_id"`
	TemplateID       string              `json:"template_id"`
	Status           models.CrisisStatus `json:"status"`
	Successful       bool                `json:"successful"`
	Methods          []string            `json:"methods,omitempty"`
	OutcomeText      string              `json:"outcome_text"`
	InvolvedEntities []string            `json:"involved_entities"`
	Aftereffects     []models.Effect     `json:"aftereffects,omitempty"`
}

func (CrisisResolved) Topic() Topic { return TopicCrisisResolved }

// ResolutionAttempted 一次有效的解决尝试（无论成败）
type ResolutionAttempted struct {
	Envelope
	CrisisID         string                `json:"crisis_id"`
	ResolutionID     string                `json:"resolution_id"`
	Probability      float64               `json:"probability"`
	Success          bool                  `json:"success"`
	Outcome          *models.CrisisOutcome `json:"outcome,omitempty"`
	InvolvedEntities []string              `json:"involved_entities"`
}

func (ResolutionAttempted) Topic() Topic { return TopicResolutionAttempted }
