// Package scheduler 串行化对Simulation的所有访问，并按固定间隔推进模拟。
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/abyss-tension/internal/services"
)

// Scheduler 单写者：Run循环与外部调用者都经由同一把锁操作Simulation
type Scheduler struct {
	mu       sync.Mutex
	sim      *services.Simulation
	interval time.Duration
	logger   *zap.Logger
}

func New(sim *services.Simulation, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sim:      sim,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Do 在锁内执行fn；fn不得保留sim引用到锁外
func (s *Scheduler) Do(fn func(sim *services.Simulation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.sim)
}

// Tick 手动推进dt
func (s *Scheduler) Tick(dt time.Duration) {
	s.Do(func(sim *services.Simulation) { sim.Tick(dt) })
}

// Run 每个间隔以实际流逝的时间推进一次，直到ctx结束
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Warn("tick interval is not positive, scheduler disabled", zap.Duration("interval", s.interval))
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt <= 0 {
				continue
			}
			s.Tick(dt)
		}
	}
}
