// Package timeline stores values partitioned into consecutive ticks.
package timeline

import "github.com/opendrakan/statesync/pkg/core"

// Timeline owns a flat slice of values and an offset table mapping each
// retained tick to the start of its slice. The end of the last tick is the
// end of the value slice, so the table always holds exactly one entry per
// retained tick and never fewer than one.
type Timeline[T any] struct {
	firstTick core.TickNumber
	offsets   []int
	values    []T
}

// New creates a timeline whose open tick is firstTick.
func New[T any](firstTick core.TickNumber) *Timeline[T] {
	return &Timeline[T]{
		firstTick: firstTick,
		offsets:   []int{0},
	}
}

// Push appends v to the open tick.
func (tl *Timeline[T]) Push(v T) {
	tl.values = append(tl.values, v)
}

// NextTick closes the open tick and opens the following one. While the
// timeline holds a single empty tick, the first tick is advanced in place so
// idle periods don't grow the offset table.
func (tl *Timeline[T]) NextTick() {
	if len(tl.offsets) == 1 && len(tl.values) == 0 {
		tl.firstTick++
		return
	}
	tl.offsets = append(tl.offsets, len(tl.values))
}

// DropFirstTick evicts the oldest tick. With a single tick left, only its
// values are cleared.
func (tl *Timeline[T]) DropFirstTick() {
	if len(tl.offsets) == 1 {
		clear(tl.values)
		tl.values = tl.values[:0]
		return
	}

	evicted := tl.offsets[1]
	remaining := copy(tl.values, tl.values[evicted:])
	clear(tl.values[remaining:])
	tl.values = tl.values[:remaining]

	copy(tl.offsets, tl.offsets[1:])
	tl.offsets = tl.offsets[:len(tl.offsets)-1]
	for i := range tl.offsets {
		tl.offsets[i] -= evicted
	}
	tl.firstTick++
}

func (tl *Timeline[T]) bounds(tick core.TickNumber) (int, int, bool) {
	if tick < tl.firstTick || tick >= tl.firstTick+core.TickNumber(len(tl.offsets)) {
		return 0, 0, false
	}
	i := int(tick - tl.firstTick)
	end := len(tl.values)
	if i+1 < len(tl.offsets) {
		end = tl.offsets[i+1]
	}
	return tl.offsets[i], end, true
}

// TickFrame returns the values pushed while tick was open, in push order.
// The slice aliases internal storage and is valid until the next mutation.
// Ticks outside the retained range yield an empty slice.
func (tl *Timeline[T]) TickFrame(tick core.TickNumber) []T {
	begin, end, ok := tl.bounds(tick)
	if !ok {
		return nil
	}
	return tl.values[begin:end:end]
}

// EventCountInTick returns the number of values in tick, zero if not retained.
func (tl *Timeline[T]) EventCountInTick(tick core.TickNumber) int {
	begin, end, _ := tl.bounds(tick)
	return end - begin
}

// FirstTick returns the oldest retained tick.
func (tl *Timeline[T]) FirstTick() core.TickNumber { return tl.firstTick }

// LastTick returns the open tick.
func (tl *Timeline[T]) LastTick() core.TickNumber {
	return tl.firstTick + core.TickNumber(len(tl.offsets)) - 1
}

// TickCount returns the number of retained ticks, including the open one.
func (tl *Timeline[T]) TickCount() int { return len(tl.offsets) }

// Len returns the total number of retained values.
func (tl *Timeline[T]) Len() int { return len(tl.values) }
