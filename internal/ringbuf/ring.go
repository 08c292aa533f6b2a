// Package ringbuf 提供固定容量的环形缓冲区，满时淘汰最旧的元素。
package ringbuf

// Ring 固定容量环形缓冲区（非并发安全）
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// New 创建容量为capacity的缓冲区，capacity<1时按1处理
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push 追加元素；已满时覆盖最旧的元素并返回true
func (r *Ring[T]) Push(v T) (evicted bool) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// At 返回第i个元素（0为最旧）
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.size {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last 返回最新元素
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.At(r.size - 1), true
}

// Slice 按从旧到新的顺序复制出所有元素
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Do 从旧到新遍历，fn返回false时停止
func (r *Ring[T]) Do(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.At(i)) {
			return
		}
	}
}
