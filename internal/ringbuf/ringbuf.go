package ringbuf

// RingBuf holds the most recent values pushed to it, up to a fixed capacity.
// Pushing to a full RingBuf overwrites the oldest value.
type RingBuf[T any] struct {
	buf  []T
	head int
	n    int
}

func New[T any](n int) RingBuf[T] {
	if n < 1 {
		panic("ringbuf: capacity must be positive")
	}
	return RingBuf[T]{buf: make([]T, n)}
}

func (rb *RingBuf[T]) MaxLen() int {
	return len(rb.buf)
}

func (rb *RingBuf[T]) Len() int {
	return rb.n
}

func (rb *RingBuf[T]) PushBack(val T) {
	rb.buf[(rb.head+rb.n)%len(rb.buf)] = val
	if rb.n < len(rb.buf) {
		rb.n++
	} else {
		rb.head = (rb.head + 1) % len(rb.buf)
	}
}

// At returns the i'th oldest value.
func (rb *RingBuf[T]) At(i int) T {
	if i < 0 || i >= rb.n {
		panic(i)
	}
	return rb.buf[(rb.head+i)%len(rb.buf)]
}

// AppendAll appends every value, oldest first, to out.
func (rb *RingBuf[T]) AppendAll(out []T) []T {
	for i := 0; i < rb.n; i++ {
		out = append(out, rb.At(i))
	}
	return out
}
