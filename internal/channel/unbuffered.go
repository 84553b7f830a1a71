package channel

// Unbuffered hands every value directly to a receiver.
type Unbuffered[T any] struct {
	pipe[T]
}

// NewUnbuffered creates a rendezvous channel.
func NewUnbuffered[T any]() *Unbuffered[T] {
	u := &Unbuffered[T]{}
	u.init(0)
	return u
}

// Len is always 0.
func (u *Unbuffered[T]) Len() int {
	return 0
}
