// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plab

import (
	"sync"
	"sync/atomic"

	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
)

// A Space is the shared free memory of one evacuation destination,
// the survivor space or the old space.
//
// Allocation is lock-free while the current region has room: workers
// bump the region's top with CAS. Replacing a full region takes mu.
type Space struct {
	h          *heap.Heap
	typ        heap.RegionType
	maxRegions int

	cur atomic.Pointer[heap.Region]

	_ sys.CacheLinePad

	mu      sync.Mutex
	regions []*heap.Region // regions taken by this space, under mu
}

// NewSpace returns a space that takes regions of type typ from h.
// It takes at most maxRegions regions, or any number if maxRegions
// is 0.
func NewSpace(h *heap.Heap, typ heap.RegionType, maxRegions int) *Space {
	return &Space{h: h, typ: typ, maxRegions: maxRegions}
}

// Type returns the type of region the space allocates into.
func (s *Space) Type() heap.RegionType { return s.typ }

// ParAllocate allocates between min and desired words. It may return
// less than desired when the current region is nearly full. It
// returns Nil if no region can fit min words. Safe for concurrent use.
func (s *Space) ParAllocate(min, desired uint64) (heap.Addr, uint64) {
	if min > s.h.RegionWords() {
		return heap.Nil, 0
	}
	if desired < min {
		desired = min
	}
	if r := s.cur.Load(); r != nil {
		if a, n := r.ParAllocateRange(min, desired); a != heap.Nil {
			return a, n
		}
	}
	return s.allocateSlow(min, desired)
}

// Allocate allocates exactly words words, or returns Nil.
func (s *Space) Allocate(words uint64) heap.Addr {
	a, _ := s.ParAllocate(words, words)
	return a
}

func (s *Space) allocateSlow(min, desired uint64) (heap.Addr, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Someone may have installed a fresh region while we waited.
	if r := s.cur.Load(); r != nil {
		if a, n := r.ParAllocateRange(min, desired); a != heap.Nil {
			return a, n
		}
	}
	for {
		if s.maxRegions > 0 && len(s.regions) >= s.maxRegions {
			return heap.Nil, 0
		}
		r, err := s.h.AllocateRegion(s.typ)
		if err != nil {
			return heap.Nil, 0
		}
		s.regions = append(s.regions, r)
		s.cur.Store(r)
		if a, n := r.ParAllocateRange(min, desired); a != heap.Nil {
			return a, n
		}
		// Only region 0 is short enough to get here.
	}
}

// Return gives [a, a+words) back if nothing was allocated after it.
func (s *Space) Return(a heap.Addr, words uint64) bool {
	return s.h.RegionOf(a).Return(a, words)
}

// Regions returns the regions the space has taken so far.
func (s *Space) Regions() []*heap.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*heap.Region(nil), s.regions...)
}

// UsedWords returns the words allocated in the space's regions.
func (s *Space) UsedWords() uint64 {
	var n uint64
	for _, r := range s.Regions() {
		n += r.Used()
	}
	return n
}

// CapacityBytes returns the most the space can ever hold, or 0 if
// it is unbounded.
func (s *Space) CapacityBytes() uint64 {
	return uint64(s.maxRegions) * s.h.RegionBytes()
}
