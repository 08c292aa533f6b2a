// Package config 加载应用配置：默认值 < 配置文件 < TENSION_ 环境变量。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

const EnvPrefix = "TENSION"

type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Database   DatabaseConfig          `mapstructure:"database"`
	LLM        models.LLMConfig        `mapstructure:"llm"`
	Logger     LoggerConfig            `mapstructure:"logger"`
	Content    ContentConfig           `mapstructure:"content"`
	Simulation models.SimulationConfig `mapstructure:"simulation"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// Mode gin运行模式：debug / release / test
	Mode string `mapstructure:"mode"`
	// AutoTick 为false时只能通过POST /api/tick推进模拟
	AutoTick bool `mapstructure:"auto_tick"`
}

// DatabaseConfig Path为空时危机归档只保存在内存中
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // console / json
	ServiceName string `mapstructure:"service_name"`
	AddSource   bool   `mapstructure:"add_source"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // MB
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // 天
	Compress    bool   `mapstructure:"compress"`
}

type ContentConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults 注册所有默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.auto_tick", true)

	v.SetDefault("database.path", "data/tension.db")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_base", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 300)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "tension")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("content.path", "configs/content.yaml")

	setSimulationDefaults(v, models.DefaultSimulationConfig())
}

func setSimulationDefaults(v *viper.Viper, d models.SimulationConfig) {
	v.SetDefault("simulation.tick_interval", d.TickInterval)

	v.SetDefault("simulation.default_action.base_risk", d.DefaultAction.BaseRisk)
	v.SetDefault("simulation.default_action.minimum_risk", d.DefaultAction.MinimumRisk)
	v.SetDefault("simulation.default_action.maximum_risk", d.DefaultAction.MaximumRisk)
	v.SetDefault("simulation.default_action.categories", d.DefaultAction.Categories)
	v.SetDefault("simulation.default_action.suspicion_on_success", d.DefaultAction.SuspicionOnSuccess)
	v.SetDefault("simulation.default_action.suspicion_on_failure", d.DefaultAction.SuspicionOnFailure)

	v.SetDefault("simulation.risk.night_multiplier", d.Risk.NightMultiplier)
	v.SetDefault("simulation.risk.crowd_weight", d.Risk.CrowdWeight)
	v.SetDefault("simulation.risk.security_weight", d.Risk.SecurityWeight)
	v.SetDefault("simulation.risk.history_limit", d.Risk.HistoryLimit)
	v.SetDefault("simulation.risk.accumulation.window", d.Risk.Accumulation.Window)
	v.SetDefault("simulation.risk.accumulation.decay_rate", d.Risk.Accumulation.DecayRate)
	v.SetDefault("simulation.risk.accumulation.max_multiplier", d.Risk.Accumulation.MaxMultiplier)
	v.SetDefault("simulation.risk.accumulation.plateau", d.Risk.Accumulation.Plateau)

	v.SetDefault("simulation.suspicion.base_decay_rate", d.Suspicion.BaseDecayRate)
	v.SetDefault("simulation.suspicion.decay_tiers", d.Suspicion.DecayTiers)
	v.SetDefault("simulation.suspicion.minimum_threshold", d.Suspicion.MinimumThreshold)
	v.SetDefault("simulation.suspicion.noise_threshold", d.Suspicion.NoiseThreshold)
	v.SetDefault("simulation.suspicion.history_limit", d.Suspicion.HistoryLimit)
	v.SetDefault("simulation.suspicion.default_spread_rate", d.Suspicion.DefaultSpreadRate)

	v.SetDefault("simulation.crisis.default_duration", d.Crisis.DefaultDuration)
	v.SetDefault("simulation.crisis.progression_per_hour", d.Crisis.ProgressionPerHour)
	v.SetDefault("simulation.crisis.expired_outcome_text", d.Crisis.ExpiredOutcomeText)
}

// NewDefaultConfig 仅包含默认值的配置
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("解析默认配置失败: %v", err))
	}
	return &cfg
}

// NewViper 创建已注册默认值与环境变量映射的viper实例；path为空时在当前目录与configs/下查找config.yaml
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读取配置文件（可缺省）并校验
func Load(path string) (*Config, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfigFromViper 解码并校验
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return &cfg, nil
}

// Validate 检查取值范围，返回所有问题
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Server.Port != "", "server.port 不能为空")
	check(c.Content.Path != "", "content.path 不能为空")

	s := c.Simulation
	check(s.TickInterval > 0, "simulation.tick_interval 必须为正")

	da := s.DefaultAction
	check(0 <= da.MinimumRisk && da.MinimumRisk <= da.MaximumRisk && da.MaximumRisk <= 1,
		"simulation.default_action 风险上下限须满足 0<=min<=max<=1")
	for _, cat := range da.Categories {
		check(cat.Valid(), fmt.Sprintf("simulation.default_action: 未知风险类别 %q", cat))
	}

	check(s.Risk.NightMultiplier >= 0, "simulation.risk.night_multiplier 不能为负")
	check(s.Risk.HistoryLimit > 0, "simulation.risk.history_limit 必须为正")
	check(s.Risk.Accumulation.Window > 0, "simulation.risk.accumulation.window 必须为正")
	check(s.Risk.Accumulation.MaxMultiplier >= 1, "simulation.risk.accumulation.max_multiplier 不能小于1")
	check(s.Risk.Accumulation.Plateau > 0, "simulation.risk.accumulation.plateau 必须为正")
	for t := range s.Risk.Accumulation.DecayRateOverrides {
		check(t.Valid(), fmt.Sprintf("simulation.risk.accumulation.decay_rate_overrides: 未知行动类型 %q", t))
	}

	check(s.Suspicion.BaseDecayRate >= 0, "simulation.suspicion.base_decay_rate 不能为负")
	for _, tier := range s.Suspicion.DecayTiers {
		check(tier >= 0, "simulation.suspicion.decay_tiers 不能为负")
	}
	check(s.Suspicion.MinimumThreshold >= 0 && s.Suspicion.MinimumThreshold <= 1,
		"simulation.suspicion.minimum_threshold 须在 [0,1] 内")
	check(s.Suspicion.NoiseThreshold >= 0, "simulation.suspicion.noise_threshold 不能为负")
	check(s.Suspicion.HistoryLimit > 0, "simulation.suspicion.history_limit 必须为正")

	check(s.Crisis.DefaultDuration > 0, "simulation.crisis.default_duration 必须为正")
	check(s.Crisis.ProgressionPerHour > 0, "simulation.crisis.progression_per_hour 必须为正")

	return errors.Join(errs...)
}
