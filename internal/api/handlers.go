package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/events"
	"github.com/aiwuxian/abyss-tension/internal/models"
	"github.com/aiwuxian/abyss-tension/internal/ringbuf"
	"github.com/aiwuxian/abyss-tension/internal/scheduler"
	"github.com/aiwuxian/abyss-tension/internal/services"
)

// RecentEventLimit 事件流缓存的条数
const RecentEventLimit = 200

// EventView 事件流中的一条记录
type EventView struct {
	Topic events.Topic `json:"topic"`
	Event events.Event `json:"event"`
}

type Handler struct {
	sched    *scheduler.Scheduler
	narrator *services.Narrator
	logger   *zap.Logger

	// 只在调度器锁内读写
	recent      *ringbuf.Ring[EventView]
	unsubscribe func()
}

func NewHandler(sched *scheduler.Scheduler, narrator *services.Narrator, logger *zap.Logger) *Handler {
	h := &Handler{
		sched:    sched,
		narrator: narrator,
		logger:   logger.Named("api"),
		recent:   ringbuf.New[EventView](RecentEventLimit),
	}
	sched.Do(func(sim *services.Simulation) {
		h.unsubscribe = sim.Bus.SubscribeAll(func(e events.Event) {
			h.recent.Push(EventView{Topic: e.Topic(), Event: e})
		})
	})
	return h
}

// Close 退订事件流
func (h *Handler) Close() {
	h.sched.Do(func(*services.Simulation) { h.unsubscribe() })
}

// Register 注册所有路由
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/status", h.Status)
	r.POST("/tick", h.Tick)
	r.GET("/events", h.RecentEvents)

	// 风险
	r.POST("/risk/calculate", h.CalculateRisk)
	r.POST("/risk/predict", h.PredictRisk)
	r.POST("/actions/outcome", h.RecordActionOutcome)

	// 怀疑
	r.GET("/suspicion/:entity", h.GetSuspicion)
	r.POST("/suspicion/modify", h.ModifySuspicion)
	r.GET("/groups/:group", h.GetGroup)
	r.POST("/groups/:group/members", h.JoinGroup)
	r.PUT("/groups/:group/spread-rate", h.SetGroupSpreadRate)

	// 修正
	r.POST("/entities/:entity/modifiers", h.AddRiskModifier)
	r.DELETE("/entities/:entity/modifiers/:id", h.RemoveRiskModifier)
	r.POST("/modifiers", h.AddGlobalModifier)
	r.DELETE("/modifiers/:id", h.RemoveGlobalModifier)

	// 危机
	r.GET("/crises", h.ListCrises)
	r.GET("/crises/:id", h.GetCrisis)
	r.GET("/crises/:id/resolutions", h.GetResolutions)
	r.POST("/crises/:id/resolve", h.AttemptResolution)
	r.GET("/entities/:entity/crisis-history", h.GetCrisisHistory)
}

// Status 模拟时钟与进行中危机数
func (h *Handler) Status(c *gin.Context) {
	var now time.Time
	var active int
	h.sched.Do(func(sim *services.Simulation) {
		now = sim.Clock.Now()
		active = len(sim.Registry.Active())
	})
	c.JSON(http.StatusOK, gin.H{"now": now, "active_crises": active})
}

// Tick 手动推进模拟时间
func (h *Handler) Tick(c *gin.Context) {
	var req struct {
		Duration string `json:"duration" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	dt, err := time.ParseDuration(req.Duration)
	if err != nil || dt <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration必须是正的时间间隔，如\"30m\""})
		return
	}

	var now time.Time
	h.sched.Do(func(sim *services.Simulation) {
		sim.Tick(dt)
		now = sim.Clock.Now()
	})
	c.JSON(http.StatusOK, gin.H{"now": now})
}

// RecentEvents 最近发布的事件，新的在后；limit可选
func (h *Handler) RecentEvents(c *gin.Context) {
	limit := RecentEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit必须是正整数"})
			return
		}
		limit = n
	}

	var out []EventView
	h.sched.Do(func(*services.Simulation) {
		out = h.recent.Slice()
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

type riskRequest struct {
	ActionType models.ActionType  `json:"action_type" binding:"required"`
	EntityID   string             `json:"entity_id" binding:"required"`
	Context    models.ContextData `json:"context"`
}

// CalculateRisk 计算风险并发布事件
func (h *Handler) CalculateRisk(c *gin.Context) {
	h.risk(c, (*services.Simulation).CalculateRisk)
}

// PredictRisk 只预测，不发布事件
func (h *Handler) PredictRisk(c *gin.Context) {
	h.risk(c, (*services.Simulation).PredictRisk)
}

func (h *Handler) risk(c *gin.Context,
	calc func(*services.Simulation, models.ActionType, string, models.ContextData) float64) {
	var req riskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	var risk float64
	h.sched.Do(func(sim *services.Simulation) {
		risk = calc(sim, req.ActionType, req.EntityID, req.Context)
	})
	c.JSON(http.StatusOK, gin.H{"entity_id": req.EntityID, "action_type": req.ActionType, "risk": risk})
}

// RecordActionOutcome 记录行动结果并折算为怀疑值
func (h *Handler) RecordActionOutcome(c *gin.Context) {
	var req struct {
		riskRequest
		Risk    *float64 `json:"risk" binding:"required"`
		Success bool     `json:"success"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	var suspicion float64
	h.sched.Do(func(sim *services.Simulation) {
		suspicion = sim.RecordActionOutcome(req.EntityID, req.ActionType, req.Context, models.Clamp01(*req.Risk), req.Success)
	})
	c.JSON(http.StatusOK, gin.H{"entity_id": req.EntityID, "suspicion": suspicion})
}

// GetSuspicion 实体怀疑状态与历史；未知实体返回0
func (h *Handler) GetSuspicion(c *gin.Context) {
	entityID := c.Param("entity")

	var snapshot *models.CharacterSuspicion
	h.sched.Do(func(sim *services.Simulation) {
		snapshot, _ = sim.Suspicion.Snapshot(entityID)
	})
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "value": 0.0})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ModifySuspicion 直接调整怀疑值
func (h *Handler) ModifySuspicion(c *gin.Context) {
	var req struct {
		EntityID   string                `json:"entity_id" binding:"required"`
		Delta      float64               `json:"delta"`
		Source     string                `json:"source"`
		Categories []models.RiskCategory `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	var suspicion float64
	h.sched.Do(func(sim *services.Simulation) {
		suspicion = sim.ModifySuspicion(req.EntityID, req.Delta, req.Source, req.Categories)
	})
	c.JSON(http.StatusOK, gin.H{"entity_id": req.EntityID, "suspicion": suspicion})
}

// GetGroup 群体怀疑状态
func (h *Handler) GetGroup(c *gin.Context) {
	groupID := c.Param("group")

	var group *models.GroupSuspicion
	h.sched.Do(func(sim *services.Simulation) {
		group, _ = sim.Suspicion.Group(groupID)
	})
	if group == nil {
		c.JSON(http.StatusOK, gin.H{"group_id": groupID, "average_value": 0.0})
		return
	}
	c.JSON(http.StatusOK, group)
}

// JoinGroup 实体加入群体；spread_rate<=0时用群体已有值或默认值
func (h *Handler) JoinGroup(c *gin.Context) {
	groupID := c.Param("group")
	var req struct {
		EntityID   string  `json:"entity_id" binding:"required"`
		SpreadRate float64 `json:"spread_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	var level float64
	h.sched.Do(func(sim *services.Simulation) {
		sim.JoinGroup(req.EntityID, groupID, req.SpreadRate)
		level = sim.GetGroupSuspicion(groupID)
	})
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "average_value": level})
}

// SetGroupSpreadRate 调整群体扩散率，取值[0,1]；群体不存在时创建
func (h *Handler) SetGroupSpreadRate(c *gin.Context) {
	groupID := c.Param("group")
	var req struct {
		SpreadRate *float64 `json:"spread_rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if rate := *req.SpreadRate; rate < 0 || rate > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spread_rate须在[0,1]内"})
		return
	}

	var group *models.GroupSuspicion
	h.sched.Do(func(sim *services.Simulation) {
		sim.SetGroupSpreadRate(groupID, *req.SpreadRate)
		group, _ = sim.Suspicion.Group(groupID)
	})
	c.JSON(http.StatusOK, group)
}

func bindModifier(c *gin.Context) (models.RiskModifier, bool) {
	var m models.RiskModifier
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return m, false
	}
	if !m.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的修正类型: " + string(m.Kind)})
		return m, false
	}
	return m, true
}

// AddRiskModifier 添加实体修正，同ID覆盖
func (h *Handler) AddRiskModifier(c *gin.Context) {
	entityID := c.Param("entity")
	m, ok := bindModifier(c)
	if !ok {
		return
	}

	var id string
	h.sched.Do(func(sim *services.Simulation) {
		id = sim.AddRiskModifier(entityID, m)
	})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) RemoveRiskModifier(c *gin.Context) {
	entityID, id := c.Param("entity"), c.Param("id")

	var removed bool
	h.sched.Do(func(sim *services.Simulation) {
		removed = sim.RemoveRiskModifier(entityID, id)
	})
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "修正不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func (h *Handler) AddGlobalModifier(c *gin.Context) {
	m, ok := bindModifier(c)
	if !ok {
		return
	}

	var id string
	h.sched.Do(func(sim *services.Simulation) {
		id = sim.AddGlobalModifier(m)
	})
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) RemoveGlobalModifier(c *gin.Context) {
	id := c.Param("id")

	var removed bool
	h.sched.Do(func(sim *services.Simulation) {
		removed = sim.RemoveGlobalModifier(id)
	})
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "修正不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// ListCrises 进行中的危机
func (h *Handler) ListCrises(c *gin.Context) {
	var crises []*models.ActiveCrisis
	h.sched.Do(func(sim *services.Simulation) {
		crises = sim.GetActiveCrises()
	})
	c.JSON(http.StatusOK, gin.H{"crises": crises})
}

func (h *Handler) GetCrisis(c *gin.Context) {
	id := c.Param("id")

	var crisis *models.ActiveCrisis
	h.sched.Do(func(sim *services.Simulation) {
		crisis, _ = sim.GetCrisis(id)
	})
	if crisis == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "危机不存在"})
		return
	}
	c.JSON(http.StatusOK, crisis)
}

// GetResolutions 当前阶段可用的解决方案
func (h *Handler) GetResolutions(c *gin.Context) {
	id := c.Param("id")

	var found bool
	var resolutions []models.CrisisResolution
	h.sched.Do(func(sim *services.Simulation) {
		_, found = sim.GetCrisis(id)
		resolutions = sim.GetAvailableResolutions(id)
	})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "危机不存在"})
		return
	}
	if resolutions == nil {
		resolutions = []models.CrisisResolution{}
	}
	c.JSON(http.StatusOK, gin.H{"resolutions": resolutions})
}

// AttemptResolution 尝试解决危机；叙述在锁外生成
func (h *Handler) AttemptResolution(c *gin.Context) {
	id := c.Param("id")
	var req struct {
		ResolutionID string             `json:"resolution_id" binding:"required"`
		Parameters   map[string]float64 `json:"parameters"`
		Narrate      bool               `json:"narrate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	var (
		attempt  models.ResolutionAttempt
		accepted bool
		tpl      *models.CrisisTemplate
		res      *models.CrisisResolution
		status   models.CrisisStatus
	)
	h.sched.Do(func(sim *services.Simulation) {
		crisis, ok := sim.GetCrisis(id)
		if !ok {
			return
		}
		// 第二个返回值是掷骰结果；a为nil才表示请求无效
		a, _ := sim.AttemptCrisisResolution(id, req.ResolutionID, req.Parameters)
		if a == nil {
			return
		}
		accepted = true
		attempt = *a
		if after, ok := sim.GetCrisis(id); ok {
			status = after.Status
		}
		if tpl, ok = sim.Store().Template(crisis.TemplateID); ok {
			res, _ = tpl.Resolution(req.ResolutionID)
		}
	})
	if !accepted {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "无法尝试该解决方案"})
		return
	}

	resp := gin.H{"attempt": attempt, "status": status}
	if req.Narrate && res != nil {
		resp["narration"] = h.narrator.NarrateOutcome(c.Request.Context(), tpl, res, &attempt)
	}
	c.JSON(http.StatusOK, resp)
}

// GetCrisisHistory 实体的已结束危机归档
func (h *Handler) GetCrisisHistory(c *gin.Context) {
	entityID := c.Param("entity")

	var history []models.CrisisHistory
	var err error
	h.sched.Do(func(sim *services.Simulation) {
		history, err = sim.GetCrisisHistory(entityID)
	})
	if err != nil {
		h.logger.Error("Failed to read crisis history", zap.String("entity_id", entityID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []models.CrisisHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
