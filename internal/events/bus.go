// Package events 实现进程内同步发布/订阅总线。
//
// 分发是同步且可重入的：发布前先复制当前订阅者列表，处理函数在分发过程中
// 订阅或退订不会破坏遍历。总线本身不做加锁，调用方需保证单线程访问。
package events

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const allTopics Topic = "*"

type subscription struct {
	id uint64
	fn func(Event)
}

// Bus 类型安全的事件总线
type Bus struct {
	logger   *zap.Logger
	now      func() time.Time
	handlers map[Topic][]subscription
	nextID   uint64
}

// NewBus 创建总线；now为事件时间戳来源，为nil时使用系统时间
func NewBus(logger *zap.Logger, now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{
		logger:   logger.Named("event_bus"),
		now:      now,
		handlers: make(map[Topic][]subscription),
	}
}

// Envelope 生成新的事件ID与时间戳
func (b *Bus) Envelope() Envelope {
	return Envelope{ID: uuid.New().String(), Timestamp: b.now().UTC()}
}

// Subscribe 订阅具体事件类型，返回退订函数
func Subscribe[E Event](b *Bus, fn func(E)) (unsubscribe func()) {
	var zero E
	return b.subscribe(zero.Topic(), func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	})
}

// SubscribeAll 订阅全部事件（用于事件流/日志）
func (b *Bus) SubscribeAll(fn func(Event)) (unsubscribe func()) {
	return b.subscribe(allTopics, fn)
}

func (b *Bus) subscribe(topic Topic, fn func(Event)) func() {
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, fn: fn})

	return func() {
		subs := b.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				// 构造新切片，避免影响正在分发中的快照
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				if len(next) == 0 {
					delete(b.handlers, topic)
				} else {
					b.handlers[topic] = next
				}
				return
			}
		}
	}
}

// Publish 同步分发事件
func (b *Bus) Publish(e Event) {
	topic := e.Topic()
	snapshot := make([]subscription, 0, len(b.handlers[topic])+len(b.handlers[allTopics]))
	snapshot = append(snapshot, b.handlers[topic]...)
	snapshot = append(snapshot, b.handlers[allTopics]...)

	b.logger.Debug("Publishing event",
		zap.String("topic", string(topic)),
		zap.String("id", e.Meta().ID),
		zap.Int("subscribers", len(snapshot)))

	for _, s := range snapshot {
		b.dispatch(topic, s, e)
	}
}

func (b *Bus) dispatch(topic Topic, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("topic", string(topic)),
				zap.Any("panic", r))
		}
	}()
	s.fn(e)
}

// SubscriberCount 某主题当前订阅者数量
func (b *Bus) SubscriberCount(topic Topic) int {
	return len(b.handlers[topic])
}
