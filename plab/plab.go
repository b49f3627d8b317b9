// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plab implements the allocators evacuation copies objects
// into: shared destination spaces and the per-worker promotion-local
// allocation buffers (PLABs) carved out of them.
package plab

import (
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
)

// PLAB 线程本地的线性分配器
// A PLAB is a worker-private bump allocator over [bottom, end).
// Only the owning worker touches it, so it needs no synchronization.
// Allocation never moves top past end.
type PLAB struct {
	bottom heap.Addr
	top    heap.Addr // next free word
	end    heap.Addr

	// Statistics, in words, summed over every buffer this PLAB
	// has been refilled with.
	allocated  uint64 // words taken from the space
	wasted     uint64 // unused words that could not be returned at retire
	undoWasted uint64 // undone allocations that could not be rewound
}

// SetBuf makes [a, a+words) the current buffer. The previous buffer
// must have been retired.
func (b *PLAB) SetBuf(a heap.Addr, words uint64) {
	if b.top != b.end {
		sys.Throw("plab: SetBuf on a buffer that was not retired")
	}
	b.bottom = a
	b.top = a
	b.end = a.Add(words)
	b.allocated += words
}

// Allocate bumps top by words and returns the old top, or Nil with
// no side effects if the buffer is too small.
func (b *PLAB) Allocate(words uint64) heap.Addr {
	if uint64(b.end-b.top) < words {
		return heap.Nil
	}
	obj := b.top
	b.top = b.top.Add(words)
	return obj
}

// Contains reports whether a lies inside the current buffer.
func (b *PLAB) Contains(a heap.Addr) bool {
	return a >= b.bottom && a < b.end
}

// UndoAllocation releases [obj, obj+words). When it was the last
// allocation top moves back to obj, restoring the buffer exactly;
// otherwise the words are recorded as undo waste. It reports whether
// the allocation was rewound.
func (b *PLAB) UndoAllocation(obj heap.Addr, words uint64) bool {
	if !b.Contains(obj) {
		sys.Throw("plab: undo of an allocation outside the buffer")
	}
	if b.top-heap.Addr(words) == obj {
		b.top = obj
		return true
	}
	b.undoWasted += words
	return false
}

// Top returns the next free word.
func (b *PLAB) Top() heap.Addr { return b.top }

// Remaining returns the number of free words in the buffer.
func (b *PLAB) Remaining() uint64 { return uint64(b.end - b.top) }

// retire hands the unused tail back to s if it is still the last
// allocation in its region, and counts it as waste otherwise.
func (b *PLAB) retire(s *Space) {
	if n := b.Remaining(); n > 0 {
		if !s.Return(b.top, n) {
			b.wasted += n
		}
	}
	b.bottom, b.top, b.end = heap.Nil, heap.Nil, heap.Nil
}

// Waste returns the words lost at retire and the words lost to undo.
func (b *PLAB) Waste() (wasted, undoWasted uint64) {
	return b.wasted, b.undoWasted
}

// Allocated returns the words this PLAB has taken from its space.
func (b *PLAB) Allocated() uint64 { return b.allocated }
