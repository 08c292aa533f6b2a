package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwuxian/abyss-tension/internal/config"
	"github.com/aiwuxian/abyss-tension/internal/models"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 5*time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, 72*time.Hour, cfg.Simulation.Crisis.DefaultDuration)
	assert.Equal(t, []float64{0.02, 0.015, 0.01, 0.005}, cfg.Simulation.Suspicion.DecayTiers)
	assert.Equal(t, []models.RiskCategory{models.CategorySocial}, cfg.Simulation.DefaultAction.Categories)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
simulation:
  tick_interval: 250ms
  suspicion:
    noise_threshold: 0.05
  crisis:
    default_duration: 12h
`), 0o644))

	t.Setenv("TENSION_LLM_API_KEY", "from-env")
	t.Setenv("TENSION_LOGGER_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Simulation.TickInterval)
	assert.InDelta(t, 0.05, cfg.Simulation.Suspicion.NoiseThreshold, 1e-9)
	assert.Equal(t, 12*time.Hour, cfg.Simulation.Crisis.DefaultDuration)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// 未覆盖的键保留默认值
	assert.Equal(t, 50, cfg.Simulation.Risk.HistoryLimit)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.Port = ""
	cfg.Simulation.TickInterval = 0
	cfg.Simulation.DefaultAction.MinimumRisk = 0.9
	cfg.Simulation.DefaultAction.MaximumRisk = 0.1
	cfg.Simulation.Suspicion.HistoryLimit = 0
	cfg.Simulation.Risk.Accumulation.DecayRateOverrides = map[models.ActionType]float64{"juggling": 0.1}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"server.port 不能为空",
		"simulation.tick_interval 必须为正",
		"simulation.default_action 风险上下限",
		"simulation.suspicion.history_limit 必须为正",
		`未知行动类型 "juggling"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}
