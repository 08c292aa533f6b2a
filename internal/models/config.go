package models

import "time"

// SimulationConfig 引擎调参（运行期只读）
type SimulationConfig struct {
	TickInterval  time.Duration    `yaml:"tick_interval" mapstructure:"tick_interval"`
	DefaultAction ActionDefinition `yaml:"default_action" mapstructure:"default_action"` // 未配置行动时的兜底定义
	Risk          RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Suspicion     SuspicionConfig  `yaml:"suspicion" mapstructure:"suspicion"`
	Crisis        CrisisConfig     `yaml:"crisis" mapstructure:"crisis"`
}

type RiskConfig struct {
	NightMultiplier float64            `yaml:"night_multiplier" mapstructure:"night_multiplier"`
	CrowdWeight     float64            `yaml:"crowd_weight" mapstructure:"crowd_weight"`
	SecurityWeight  float64            `yaml:"security_weight" mapstructure:"security_weight"`
	HistoryLimit    int                `yaml:"history_limit" mapstructure:"history_limit"`
	Accumulation    AccumulationConfig `yaml:"accumulation" mapstructure:"accumulation"`
}

// AccumulationConfig 近期同类行动的累积模型
type AccumulationConfig struct {
	Window             time.Duration          `yaml:"window" mapstructure:"window"`
	DecayRate          float64                `yaml:"decay_rate" mapstructure:"decay_rate"` // 每分钟
	DecayRateOverrides map[ActionType]float64 `yaml:"decay_rate_overrides" mapstructure:"decay_rate_overrides"`
	MaxMultiplier      float64                `yaml:"max_multiplier" mapstructure:"max_multiplier"`
	Plateau            float64                `yaml:"plateau" mapstructure:"plateau"`
}

// DecayRateFor 行动类型的衰减率，无覆盖时使用全局默认
func (a AccumulationConfig) DecayRateFor(t ActionType) float64 {
	if r, ok := a.DecayRateOverrides[t]; ok {
		return r
	}
	return a.DecayRate
}

type SuspicionConfig struct {
	BaseDecayRate     float64   `yaml:"base_decay_rate" mapstructure:"base_decay_rate"` // 每小时
	DecayTiers        []float64 `yaml:"decay_tiers" mapstructure:"decay_tiers"`         // 按floor(怀疑值*层数)索引
	MinimumThreshold  float64   `yaml:"minimum_threshold" mapstructure:"minimum_threshold"`
	NoiseThreshold    float64   `yaml:"noise_threshold" mapstructure:"noise_threshold"`
	HistoryLimit      int       `yaml:"history_limit" mapstructure:"history_limit"`
	DefaultSpreadRate float64   `yaml:"default_spread_rate" mapstructure:"default_spread_rate"`
}

type CrisisConfig struct {
	DefaultDuration    time.Duration `yaml:"default_duration" mapstructure:"default_duration"`
	ProgressionPerHour float64       `yaml:"progression_per_hour" mapstructure:"progression_per_hour"`
	ExpiredOutcomeText string        `yaml:"expired_outcome_text" mapstructure:"expired_outcome_text"`
}

// DefaultSimulationConfig 默认调参
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		TickInterval: 5 * time.Second,
		DefaultAction: ActionDefinition{
			BaseRisk:           0.3,
			MinimumRisk:        0.0,
			MaximumRisk:        1.0,
			Categories:         []RiskCategory{CategorySocial},
			SuspicionOnSuccess: 0.05,
			SuspicionOnFailure: 0.3,
		},
		Risk: RiskConfig{
			NightMultiplier: 0.7,
			CrowdWeight:     0.5,
			SecurityWeight:  0.8,
			HistoryLimit:    50,
			Accumulation: AccumulationConfig{
				Window:        24 * time.Hour,
				DecayRate:     0.01,
				MaxMultiplier: 2.0,
				Plateau:       3.0,
			},
		},
		Suspicion: SuspicionConfig{
			BaseDecayRate:     1.0,
			DecayTiers:        []float64{0.02, 0.015, 0.01, 0.005},
			MinimumThreshold:  0.0,
			NoiseThreshold:    0.01,
			HistoryLimit:      30,
			DefaultSpreadRate: 0.3,
		},
		Crisis: CrisisConfig{
			DefaultDuration:    72 * time.Hour,
			ProgressionPerHour: 0.1,
			ExpiredOutcomeText: "危机已超时，局势失控",
		},
	}
}

// LLMConfig 叙事模型配置
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	APIBase     string  `yaml:"api_base" mapstructure:"api_base"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}
