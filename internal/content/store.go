// Package content 是引擎的只读配置库：行动定义、危机模板与修正档案。
package content

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

// ErrInvalidContent 配置数据不满足运行期约束
var ErrInvalidContent = errors.New("内容包无效")

// ModifierProfiles 修正档案：全局列表 + 按实体分组的列表
type ModifierProfiles struct {
	Global   []models.RiskModifier            `yaml:"global"`
	Entities map[string][]models.RiskModifier `yaml:"entities"`
}

// Pack 内容包的文件结构
type Pack struct {
	ActionDefinitions map[models.ActionType]models.ActionDefinition `yaml:"action_definitions"`
	CrisisTemplates   []models.CrisisTemplate                       `yaml:"crisis_templates"`
	ModifierProfiles  ModifierProfiles                              `yaml:"modifier_profiles"`
}

// Store 不可变配置库，构造后不再修改
type Store struct {
	actions         map[models.ActionType]models.ActionDefinition
	templates       map[string]*models.CrisisTemplate
	templateOrder   []string
	globalModifiers []models.RiskModifier
	entityModifiers map[string][]models.RiskModifier
}

// NewStore 校验并构建配置库
func NewStore(p Pack) (*Store, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		actions:         make(map[models.ActionType]models.ActionDefinition, len(p.ActionDefinitions)),
		templates:       make(map[string]*models.CrisisTemplate, len(p.CrisisTemplates)),
		globalModifiers: slices.Clone(p.ModifierProfiles.Global),
		entityModifiers: make(map[string][]models.RiskModifier, len(p.ModifierProfiles.Entities)),
	}
	for t, def := range p.ActionDefinitions {
		def.Type = t
		s.actions[t] = def
	}
	for i := range p.CrisisTemplates {
		tpl := p.CrisisTemplates[i]
		s.templates[tpl.ID] = &tpl
		s.templateOrder = append(s.templateOrder, tpl.ID)
	}
	for id, mods := range p.ModifierProfiles.Entities {
		s.entityModifiers[id] = slices.Clone(mods)
	}
	return s, nil
}

// Empty 空配置库（所有行动走系统默认）
func Empty() *Store {
	s, _ := NewStore(Pack{})
	return s
}

// ActionDefinition 按类型查找行动定义
func (s *Store) ActionDefinition(t models.ActionType) (models.ActionDefinition, bool) {
	def, ok := s.actions[t]
	return def, ok
}

// Template 按ID查找危机模板；返回值只读
func (s *Store) Template(id string) (*models.CrisisTemplate, bool) {
	tpl, ok := s.templates[id]
	return tpl, ok
}

// Templates 按配置顺序返回所有模板
func (s *Store) Templates() []*models.CrisisTemplate {
	out := make([]*models.CrisisTemplate, 0, len(s.templateOrder))
	for _, id := range s.templateOrder {
		out = append(out, s.templates[id])
	}
	return out
}

// GlobalModifiers 全局修正副本
func (s *Store) GlobalModifiers() []models.RiskModifier {
	return slices.Clone(s.globalModifiers)
}

// EntityModifiers 实体预设修正副本
func (s *Store) EntityModifiers(entityID string) []models.RiskModifier {
	return slices.Clone(s.entityModifiers[entityID])
}

// Validate 检查内容包，返回所有问题的合并错误
func (p Pack) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for t, def := range p.ActionDefinitions {
		if !t.Valid() {
			add("行动 %q: 未知行动类型", t)
		}
		if def.MinimumRisk < 0 || def.MaximumRisk > 1 || def.MinimumRisk > def.MaximumRisk {
			add("行动 %q: 风险上下限 [%v,%v] 须满足 0<=min<=max<=1", t, def.MinimumRisk, def.MaximumRisk)
		}
		for _, c := range def.Categories {
			if !c.Valid() {
				add("行动 %q: 未知风险类别 %q", t, c)
			}
		}
	}

	seen := make(map[string]bool)
	for i, tpl := range p.CrisisTemplates {
		name := tpl.ID
		if name == "" {
			add("危机模板 #%d: 缺少id", i)
			name = fmt.Sprintf("#%d", i)
		} else if seen[tpl.ID] {
			add("危机模板 %q: id重复", tpl.ID)
		}
		seen[tpl.ID] = true
		errs = append(errs, validateTemplate(name, tpl)...)
	}

	errs = append(errs, validateModifiers("全局", p.ModifierProfiles.Global)...)
	for id, mods := range p.ModifierProfiles.Entities {
		errs = append(errs, validateModifiers("实体 "+id+" 的", mods)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidContent, errors.Join(errs...))
	}
	return nil
}

func validateTemplate(name string, tpl models.CrisisTemplate) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("危机模板 %q: "+format, append([]any{name}, args...)...))
	}

	if len(tpl.Triggers) == 0 {
		add("至少需要一个触发条件")
	}
	for _, tr := range tpl.Triggers {
		if tr.SuspicionThreshold < 0 || tr.SuspicionThreshold > 1 {
			add("触发阈值 %v 超出 [0,1]", tr.SuspicionThreshold)
		}
	}
	if len(tpl.Stages) == 0 {
		add("至少需要一个阶段")
	}
	if tpl.Duration < 0 {
		add("持续时间不能为负")
	}

	resolutionIDs := make(map[string]bool, len(tpl.Resolutions))
	for _, r := range tpl.Resolutions {
		if r.ID == "" {
			add("解决方案缺少id")
			continue
		}
		if resolutionIDs[r.ID] {
			add("解决方案 %q 重复", r.ID)
		}
		resolutionIDs[r.ID] = true
		if r.BaseSuccessRate < 0 || r.BaseSuccessRate > 1 {
			add("解决方案 %q: 基础成功率 %v 超出 [0,1]", r.ID, r.BaseSuccessRate)
		}
		for _, m := range r.Modifiers {
			if (m.ContextualFactor == "") == (m.RequiredItem == "") {
				add("解决方案 %q: 修正项须且只能指定 contextual_factor 或 required_item 之一", r.ID)
			}
		}
	}
	for i, st := range tpl.Stages {
		if st.DurationFraction < 0 {
			add("阶段 %d: 时长占比不能为负", i)
		}
		for _, id := range st.AvailableResolutions {
			if !resolutionIDs[id] {
				add("阶段 %d: 未知解决方案 %q", i, id)
			}
		}
	}
	return errs
}

func validateModifiers(owner string, mods []models.RiskModifier) []error {
	var errs []error
	ids := make(map[string]bool, len(mods))
	for _, m := range mods {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("%s修正: 缺少id", owner))
			continue
		}
		if ids[m.ID] {
			errs = append(errs, fmt.Errorf("%s修正: id %q 重复", owner, m.ID))
		}
		ids[m.ID] = true
		if !m.Kind.Valid() {
			errs = append(errs, fmt.Errorf("%s修正 %q: 未知类型 %q", owner, m.ID, m.Kind))
		}
	}
	return errs
}
