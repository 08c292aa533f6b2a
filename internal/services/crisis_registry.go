package services

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/models"
)

// HistoryArchive 危机归档的持久化接口
type HistoryArchive interface {
	Append(records ...models.CrisisHistory) error
	ByEntity(entityID string) ([]models.CrisisHistory, error)
}

// MemoryArchive 进程内归档
type MemoryArchive struct {
	byEntity map[string][]models.CrisisHistory
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{byEntity: make(map[string][]models.CrisisHistory)}
}

func (a *MemoryArchive) Append(records ...models.CrisisHistory) error {
	for _, r := range records {
		a.byEntity[r.EntityID] = append(a.byEntity[r.EntityID], r)
	}
	return nil
}

func (a *MemoryArchive) ByEntity(entityID string) ([]models.CrisisHistory, error) {
	out := make([]models.CrisisHistory, len(a.byEntity[entityID]))
	copy(out, a.byEntity[entityID])
	return out, nil
}

type activeKey struct {
	templateID string
	entityID   string
}

// CrisisRegistry 危机实例表：生成器、时间线与解决处理器共享
//
// 结束的危机保留在表中以便查询终态，但会移出(模板, 实体)的活动索引。
type CrisisRegistry struct {
	crises  map[string]*models.ActiveCrisis
	order   []string
	active  map[activeKey]string
	archive HistoryArchive
	logger  *zap.Logger
}

func NewCrisisRegistry(archive HistoryArchive, logger *zap.Logger) *CrisisRegistry {
	if archive == nil {
		archive = NewMemoryArchive()
	}
	return &CrisisRegistry{
		crises:  make(map[string]*models.ActiveCrisis),
		active:  make(map[activeKey]string),
		archive: archive,
		logger:  logger.Named("crisis_registry"),
	}
}

// Add 登记新实例并为每个涉事实体建立活动索引
func (r *CrisisRegistry) Add(c *models.ActiveCrisis) {
	r.crises[c.InstanceID] = c
	r.order = append(r.order, c.InstanceID)
	for _, e := range c.InvolvedEntities {
		r.active[activeKey{c.TemplateID, e}] = c.InstanceID
	}
}

func (r *CrisisRegistry) Get(instanceID string) (*models.ActiveCrisis, bool) {
	c, ok := r.crises[instanceID]
	return c, ok
}

// ActiveFor 查询实体在某模板下是否已有进行中的危机
func (r *CrisisRegistry) ActiveFor(templateID, entityID string) (string, bool) {
	id, ok := r.active[activeKey{templateID, entityID}]
	return id, ok
}

// Active 进行中的危机，按创建顺序
func (r *CrisisRegistry) Active() []*models.ActiveCrisis {
	var out []*models.ActiveCrisis
	for _, id := range r.order {
		if c := r.crises[id]; c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// All 全部实例（含已结束），按创建顺序
func (r *CrisisRegistry) All() []*models.ActiveCrisis {
	out := make([]*models.ActiveCrisis, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.crises[id])
	}
	return out
}

// Close 把进行中的危机置为终态并为每个涉事实体归档；已结束的危机返回false
func (r *CrisisRegistry) Close(c *models.ActiveCrisis, status models.CrisisStatus, successful bool,
	methods []string, outcomeText string, now time.Time) bool {
	if !c.IsActive() || !status.Terminal() {
		return false
	}
	c.Status = status
	for _, e := range c.InvolvedEntities {
		key := activeKey{c.TemplateID, e}
		if r.active[key] == c.InstanceID {
			delete(r.active, key)
		}
	}

	records := make([]models.CrisisHistory, 0, len(c.InvolvedEntities))
	for _, e := range c.InvolvedEntities {
		records = append(records, models.CrisisHistory{
			ID:           uuid.New().String(),
			CrisisID:     c.InstanceID,
			TemplateID:   c.TemplateID,
			EntityID:     e,
			Status:       status,
			Successful:   successful,
			Methods:      methods,
			OutcomeText:  outcomeText,
			AttemptCount: len(c.ResolutionAttempts),
			StartTime:    c.StartTime,
			EndTime:      now,
		})
	}
	if err := r.archive.Append(records...); err != nil {
		r.logger.Warn("Failed to archive crisis",
			zap.String("crisis", c.InstanceID), zap.Error(err))
	}
	return true
}

// History 实体的危机归档
func (r *CrisisRegistry) History(entityID string) ([]models.CrisisHistory, error) {
	return r.archive.ByEntity(entityID)
}
