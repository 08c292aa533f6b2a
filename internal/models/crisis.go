package models

import (
	"slices"
	"time"
)

// CrisisStatus 危机状态；Resolved/Failed/Expired为终态
type CrisisStatus string

const (
	CrisisPending  CrisisStatus = "pending"
	CrisisActive   CrisisStatus = "active"
	CrisisResolved CrisisStatus = "resolved"
	CrisisFailed   CrisisStatus = "failed"
	CrisisExpired  CrisisStatus = "expired"
)

// Terminal 是否为终态
func (s CrisisStatus) Terminal() bool {
	switch s {
	case CrisisResolved, CrisisFailed, CrisisExpired:
		return true
	}
	return false
}

// EffectKind 效果类型
type EffectKind string

const (
	EffectSuspicion EffectKind = "suspicion" // 调整涉事实体怀疑值
	EffectExposure  EffectKind = "exposure"  // 调整危机内的曝光度
)

// Effect 阶段效果、结局效果或后续影响
type Effect struct {
	Kind        EffectKind `json:"kind" yaml:"kind"`
	Value       float64    `json:"value" yaml:"value"`
	Target      string     `json:"target,omitempty" yaml:"target"` // 为空时作用于全部涉事实体
	Description string     `json:"description,omitempty" yaml:"description"`
}

// CrisisTrigger 触发条件
type CrisisTrigger struct {
	SuspicionThreshold float64        `json:"suspicion_threshold" yaml:"suspicion_threshold"`
	Categories         []RiskCategory `json:"categories,omitempty" yaml:"categories"`
}

// Satisfied 当前怀疑值达到阈值，且（无维度过滤或与触发维度有交集）
func (t CrisisTrigger) Satisfied(suspicion float64, categories []RiskCategory) bool {
	if suspicion < t.SuspicionThreshold {
		return false
	}
	if len(t.Categories) == 0 {
		return true
	}
	return OverlapCategories(t.Categories, categories)
}

// CrisisStage 危机阶段
type CrisisStage struct {
	Name                 string   `json:"name" yaml:"name"`
	DurationFraction     float64  `json:"duration_fraction" yaml:"duration_fraction"` // 占危机总时长的比例
	Effects              []Effect `json:"effects,omitempty" yaml:"effects"`
	AvailableResolutions []string `json:"available_resolutions" yaml:"available_resolutions"`
}

// Offers 本阶段是否开放指定解决方案
func (s CrisisStage) Offers(resolutionID string) bool {
	return slices.Contains(s.AvailableResolutions, resolutionID)
}

// ResolutionModifier 成功率修正：按情境因子缩放，或在持有道具时生效
type ResolutionModifier struct {
	ContextualFactor string  `json:"contextual_factor,omitempty" yaml:"contextual_factor"`
	RequiredItem     string  `json:"required_item,omitempty" yaml:"required_item"`
	ValueChange      float64 `json:"value_change" yaml:"value_change"`
}

// CrisisOutcome 可能的结局；权重为正表示成功结局，为负表示失败结局
type CrisisOutcome struct {
	ID                string   `json:"id" yaml:"id"`
	Description       string   `json:"description" yaml:"description"`
	ProbabilityWeight float64  `json:"probability_weight" yaml:"probability_weight"`
	Effects           []Effect `json:"effects,omitempty" yaml:"effects"`
}

// ResolutionRestrictions 解决方案的资格限制
type ResolutionRestrictions struct {
	RequiredParameters []string `json:"required_parameters,omitempty" yaml:"required_parameters"`
	MaxAttempts        int      `json:"max_attempts,omitempty" yaml:"max_attempts"` // 0为不限
}

// CrisisResolution 解决方案
type CrisisResolution struct {
	ID                string                 `json:"id" yaml:"id"`
	Name              string                 `json:"name" yaml:"name"`
	Cost              float64                `json:"cost" yaml:"cost"`
	SkillRequirements map[string]float64     `json:"skill_requirements,omitempty" yaml:"skill_requirements"`
	BaseSuccessRate   float64                `json:"base_success_rate" yaml:"base_success_rate"`
	Modifiers         []ResolutionModifier   `json:"modifiers,omitempty" yaml:"modifiers"`
	Outcomes          []CrisisOutcome        `json:"outcomes" yaml:"outcomes"`
	Restrictions      ResolutionRestrictions `json:"restrictions" yaml:"restrictions"`
}

// Aftereffects 危机结束后的后续影响
type Aftereffects struct {
	OnSuccess []Effect `json:"on_success,omitempty" yaml:"on_success"`
	OnFailure []Effect `json:"on_failure,omitempty" yaml:"on_failure"`
	OnExpiry  []Effect `json:"on_expiry,omitempty" yaml:"on_expiry"`
}

// For 按终态选择后续影响
func (a Aftereffects) For(status CrisisStatus) []Effect {
	switch status {
	case CrisisResolved:
		return a.OnSuccess
	case CrisisFailed:
		return a.OnFailure
	case CrisisExpired:
		return a.OnExpiry
	}
	return nil
}

// CrisisTemplate 危机模板（不可变配置）
type CrisisTemplate struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Type         string             `json:"type" yaml:"type"`
	Duration     time.Duration      `json:"duration,omitempty" yaml:"duration"` // 0时使用系统默认时长
	Triggers     []CrisisTrigger    `json:"triggers" yaml:"triggers"`
	Stages       []CrisisStage      `json:"stages" yaml:"stages"`
	Resolutions  []CrisisResolution `json:"resolutions" yaml:"resolutions"`
	Aftereffects Aftereffects       `json:"aftereffects" yaml:"aftereffects"`
}

// Resolution 按ID查找解决方案
func (t *CrisisTemplate) Resolution(id string) (*CrisisResolution, bool) {
	for i := range t.Resolutions {
		if t.Resolutions[i].ID == id {
			return &t.Resolutions[i], true
		}
	}
	return nil, false
}

// ResolutionAttempt 一次解决尝试的记录
type ResolutionAttempt struct {
	Time         time.Time          `json:"time"`
	ResolutionID string             `json:"resolution_id"`
	Probability  float64            `json:"probability"`
	Roll         float64            `json:"roll"`
	Parameters   map[string]float64 `json:"parameters,omitempty"`
	Success      bool               `json:"success"`
	Outcome      *CrisisOutcome     `json:"outcome,omitempty"`
}

// ActiveCrisis 危机实例
type ActiveCrisis struct {
	InstanceID         string              `json:"instance_id"`
	TemplateID         string              `json:"template_id"`
	CurrentStageIndex  int                 `json:"current_stage_index"`
	StageProgress      float64             `json:"stage_progress"` // 0-1
	StartTime          time.Time           `json:"start_time"`
	Deadline           time.Time           `json:"deadline"`
	InvolvedEntities   []string            `json:"involved_entities"`
	ExposureLevels     map[string]float64  `json:"exposure_levels"`
	ResolutionAttempts []ResolutionAttempt `json:"resolution_attempts"`
	Status             CrisisStatus        `json:"status"`
}

// IsActive 是否处于进行中
func (c *ActiveCrisis) IsActive() bool {
	return c.Status == CrisisActive
}

// Involves 实体是否涉事
func (c *ActiveCrisis) Involves(entityID string) bool {
	return slices.Contains(c.InvolvedEntities, entityID)
}

// AttemptsFor 指定解决方案已尝试的次数
func (c *ActiveCrisis) AttemptsFor(resolutionID string) int {
	n := 0
	for _, a := range c.ResolutionAttempts {
		if a.ResolutionID == resolutionID {
			n++
		}
	}
	return n
}

// Clone 深拷贝，供只读查询返回
func (c *ActiveCrisis) Clone() *ActiveCrisis {
	cp := *c
	cp.InvolvedEntities = slices.Clone(c.InvolvedEntities)
	cp.ExposureLevels = make(map[string]float64, len(c.ExposureLevels))
	for k, v := range c.ExposureLevels {
		cp.ExposureLevels[k] = v
	}
	cp.ResolutionAttempts = slices.Clone(c.ResolutionAttempts)
	return &cp
}

// CrisisHistory 危机归档记录（每个涉事实体一条，只追加）
type CrisisHistory struct {
	ID           string       `json:"id"`
	CrisisID     string       `json:"crisis_id"`
	TemplateID   string       `json:"template_id"`
	EntityID     string       `json:"entity_id"`
	Status       CrisisStatus `json:"status"`
	Successful   bool         `json:"successful"`
	Methods      []string     `json:"methods,omitempty"`
	OutcomeText  string       `json:"outcome_text"`
	AttemptCount int          `json:"attempt_count"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
}
