package channel

// Buffered queues up to its capacity before senders block.
type Buffered[T any] struct {
	pipe[T]
}

// NewBuffered creates a channel holding up to size values.
func NewBuffered[T any](size int) *Buffered[T] {
	b := &Buffered[T]{}
	b.init(size)
	return b
}

// Len returns the number of queued values.
func (b *Buffered[T]) Len() int {
	return len(b.ch)
}

// Cap returns the buffer size.
func (b *Buffered[T]) Cap() int {
	return cap(b.ch)
}
