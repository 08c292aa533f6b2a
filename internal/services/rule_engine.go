package services

import (
	"math"
	"math/rand"
	"time"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

// RuleEngine 随机判定：成功检定与结局抽取
type RuleEngine struct {
	rng *rand.Rand
}

func NewRuleEngine() *RuleEngine {
	return NewSeededRuleEngine(time.Now().UnixNano())
}

// NewSeededRuleEngine 固定种子，用于复现与测试
func NewSeededRuleEngine(seed int64) *RuleEngine {
	return &RuleEngine{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Roll 返回[0,1)均匀随机数
func (re *RuleEngine) Roll() float64 {
	return re.rng.Float64()
}

// Check 执行检定：roll < probability 即成功
func (re *RuleEngine) Check(probability float64) (roll float64, success bool) {
	roll = re.Roll()
	return roll, roll < probability
}

// PickOutcome 按权重抽取结局
//
// 成功时只考虑非负权重的结局，失败时只考虑非正权重的结局，按绝对值加权。
// 候选结局权重全为0时返回第一个候选；没有候选时返回nil。
func (re *RuleEngine) PickOutcome(outcomes []models.CrisisOutcome, success bool) *models.CrisisOutcome {
	var eligible []int
	total := 0.0
	for i, o := range outcomes {
		w := o.ProbabilityWeight
		if (success && w >= 0) || (!success && w <= 0) {
			eligible = append(eligible, i)
			total += math.Abs(w)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	if total == 0 {
		o := outcomes[eligible[0]]
		return &o
	}

	target := re.Roll() * total
	cumulative := 0.0
	for _, i := range eligible {
		w := math.Abs(outcomes[i].ProbabilityWeight)
		if w == 0 {
			continue
		}
		cumulative += w
		if target < cumulative {
			o := outcomes[i]
			return &o
		}
	}

	// 浮点误差兜底：返回最后一个有权重的候选
	for j := len(eligible) - 1; j >= 0; j-- {
		if outcomes[eligible[j]].ProbabilityWeight != 0 {
			o := outcomes[eligible[j]]
			return &o
		}
	}
	return nil
}
