//go:build debug

package channel

// New ignores size and returns an unbuffered channel so debug builds surface
// producers that depend on queue slack.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
