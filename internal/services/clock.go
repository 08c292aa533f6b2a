package services

import "time"

// Clock 模拟时钟来源
type Clock interface {
	Now() time.Time
}

// SimClock 由Tick推进的模拟时钟；宿主传入真实经过时间即等同于墙上时间
type SimClock struct {
	now time.Time
}

func NewSimClock(start time.Time) *SimClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &SimClock{now: start.UTC()}
}

func (c *SimClock) Now() time.Time { return c.now }

// Advance 推进时钟，负值忽略
func (c *SimClock) Advance(d time.Duration) {
	if d > 0 {
		c.now = c.now.Add(d)
	}
}
