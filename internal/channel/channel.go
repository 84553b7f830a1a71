// Package channel wraps Go channels behind small generic interfaces so queue
// owners can swap buffering in debug builds and close without racing senders.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	// Send blocks until v is taken and reports false once the channel is
	// closed.
	Send(v T) bool
	// TrySend reports false instead of blocking when the channel is full or
	// closed.
	TrySend(v T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	// Close may be called more than once. Values already queued stay
	// readable.
	Close()
	Closed() bool
}
