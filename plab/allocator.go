// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plab

import (
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
)

// Config sizes the buffers of an Allocator.
type Config struct {
	// DesiredWords is the PLAB size to request, per destination.
	// Indexed by heap.Young (survivor) and heap.Old.
	DesiredWords [heap.NumDests]uint64

	// WastePct is the percentage of a PLAB we are willing to throw
	// away to refill it (ParallelGCBufferWastePct).
	WastePct uint64

	// Contexts is the number of allocation contexts. At least 1.
	Contexts int
}

// Allocator 每个 worker 的 PLAB 分配器
// An Allocator is one worker's set of PLABs, one per destination and
// allocation context, in front of the shared destination spaces.
// It must only be used by its worker.
type Allocator struct {
	spaces   [heap.NumDests]*Space
	bufs     [heap.NumDests][]PLAB
	desired  [heap.NumDests]uint64
	wastePct uint64

	direct     [heap.NumDests]uint64 // words allocated outside PLABs
	directUndo uint64                // direct words undone but not returned
}

// NewAllocator returns an allocator copying young survivors into
// survivor and promoted objects into old.
func NewAllocator(survivor, old *Space, cfg Config) *Allocator {
	if cfg.Contexts < 1 {
		cfg.Contexts = 1
	}
	a := &Allocator{
		desired:  cfg.DesiredWords,
		wastePct: cfg.WastePct,
	}
	a.spaces[heap.Young] = survivor
	a.spaces[heap.Old] = old
	for _, d := range []heap.CSetState{heap.Young, heap.Old} {
		a.bufs[d] = make([]PLAB, cfg.Contexts)
	}
	return a
}

func (a *Allocator) buffer(dest heap.CSetState, ctx heap.AllocContext) *PLAB {
	if !dest.IsInCSet() {
		sys.Throw("plab: bad destination " + dest.String())
	}
	return &a.bufs[dest][ctx]
}

// PlabAllocate is the fast path: bump the current PLAB for
// (dest, ctx). It returns Nil if the PLAB cannot fit words.
func (a *Allocator) PlabAllocate(dest heap.CSetState, words uint64, ctx heap.AllocContext) heap.Addr {
	return a.buffer(dest, ctx).Allocate(words)
}

// Allocate tries the PLAB and then AllocateDirectOrNewPLAB.
func (a *Allocator) Allocate(dest heap.CSetState, words uint64, ctx heap.AllocContext) heap.Addr {
	if obj := a.PlabAllocate(dest, words, ctx); obj != heap.Nil {
		return obj
	}
	return a.AllocateDirectOrNewPLAB(dest, words, ctx)
}

// mayThrowAwayBuffer reports whether a request of words is small
// enough next to a buffer of size words that retiring the buffer
// wastes at most wastePct percent of it.
func (a *Allocator) mayThrowAwayBuffer(words, size uint64) bool {
	return words*100 < size*a.wastePct
}

// AllocateDirectOrNewPLAB 慢路径 申请新的 PLAB 或者直接分配
// AllocateDirectOrNewPLAB is the slow path after the PLAB fast path
// failed. Small requests retire the current PLAB, get a fresh one and
// allocate from it. Requests too large to justify throwing the current
// PLAB away, including those that would not fit a fresh PLAB at all,
// are allocated directly from the space.
func (a *Allocator) AllocateDirectOrNewPLAB(dest heap.CSetState, words uint64, ctx heap.AllocContext) heap.Addr {
	buf := a.buffer(dest, ctx)
	space := a.spaces[dest]
	size := a.desired[dest]
	if words <= size && a.mayThrowAwayBuffer(words, size) {
		buf.retire(space)
		start, n := space.ParAllocate(words, size)
		if start == heap.Nil {
			return heap.Nil
		}
		buf.SetBuf(start, n)
		return buf.Allocate(words)
	}
	obj := space.Allocate(words)
	if obj != heap.Nil {
		a.direct[dest] += words
	}
	return obj
}

// UndoAllocation releases an allocation whose copy lost the
// forwarding race. A PLAB allocation is rewound if it was the last
// one; a direct allocation is returned to the space if possible.
// Anything else is counted as undo waste.
func (a *Allocator) UndoAllocation(dest heap.CSetState, obj heap.Addr, words uint64, ctx heap.AllocContext) {
	buf := a.buffer(dest, ctx)
	if buf.Contains(obj) {
		buf.UndoAllocation(obj, words)
		return
	}
	if !a.spaces[dest].Return(obj, words) {
		a.directUndo += words
	}
}

// RetireAllocBuffers retires every PLAB at the end of the pause.
func (a *Allocator) RetireAllocBuffers() {
	for _, d := range []heap.CSetState{heap.Young, heap.Old} {
		for i := range a.bufs[d] {
			a.bufs[d][i].retire(a.spaces[d])
		}
	}
}

// Waste returns, in words, the buffer tails lost at retire and the
// allocations lost to undo.
func (a *Allocator) Waste() (wasted, undoWasted uint64) {
	for _, d := range []heap.CSetState{heap.Young, heap.Old} {
		for i := range a.bufs[d] {
			w, u := a.bufs[d][i].Waste()
			wasted += w
			undoWasted += u
		}
	}
	return wasted, undoWasted + a.directUndo
}

// DirectAllocated returns the words allocated into dest outside PLABs.
func (a *Allocator) DirectAllocated(dest heap.CSetState) uint64 {
	return a.direct[dest]
}

// Buffer returns the PLAB for (dest, ctx). For tests and statistics.
func (a *Allocator) Buffer(dest heap.CSetState, ctx heap.AllocContext) *PLAB {
	return a.buffer(dest, ctx)
}
