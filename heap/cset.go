// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

// RootIndex is a handle for a root slot.
type RootIndex uint32

// AddRoot registers a root slot holding a and returns its handle.
// It must not be called during a pause.
func (h *Heap) AddRoot(a Addr) RootIndex {
	h.roots = append(h.roots, a)
	return RootIndex(len(h.roots) - 1)
}

// Root returns the reference held in root slot i.
//
// Each root slot is dispatched by exactly one worker during a pause,
// and seeded before any worker starts, so root slots need no atomics.
func (h *Heap) Root(i RootIndex) Addr { return h.roots[i] }

// SetRoot stores a in root slot i.
func (h *Heap) SetRoot(i RootIndex, a Addr) { h.roots[i] = a }

// NumRoots returns the number of root slots.
func (h *Heap) NumRoots() int { return len(h.roots) }

// AddToCollectionSet 将 r 加入回收集合
// AddToCollectionSet adds r to the collection set of the next pause.
// Eden and survivor regions become Young, old regions become Old,
// and humongous regions become eager reclaim candidates.
func (h *Heap) AddToCollectionSet(r *Region) {
	if r.cset != NotInCSet {
		panic("heap: region already in collection set")
	}
	switch r.Type() {
	case RegionEden, RegionSurvivor:
		r.cset = Young
		r.youngIndex = h.youngCSetLength
		h.youngCSetLength++
	case RegionOld:
		r.cset = Old
	case RegionHumongous:
		r.cset = Humongous
	default:
		panic("heap: adding a free region to the collection set")
	}
}

// YoungCSetLength returns the number of young collection set regions.
func (h *Heap) YoungCSetLength() int {
	return h.youngCSetLength
}

// SetHumongousLive records that the humongous object obj is
// referenced. Racing callers are fine; the flag only goes up.
func (h *Heap) SetHumongousLive(obj Addr) {
	r := h.RegionOf(obj)
	if !r.humongousLive.Load() {
		r.humongousLive.Store(true)
	}
}

// ReclaimStats summarizes the post-pause region sweep.
type ReclaimStats struct {
	Freed          int
	Retained       int
	HumongousFreed int
}

// ReclaimCollectionSet runs after a pause, once every failed object
// has had its mark restored. Evacuated regions are freed. Regions
// with the evacuation failure flag set keep their objects in place
// and become old regions. Humongous candidates nobody referenced are
// freed too.
func (h *Heap) ReclaimCollectionSet() ReclaimStats {
	var st ReclaimStats
	for i := range h.regions {
		r := &h.regions[i]
		switch {
		case r.cset.IsInCSet():
			if r.EvacuationFailed() {
				r.typ.Store(uint32(RegionOld))
				r.cset = NotInCSet
				r.youngIndex = -1
				r.evacFailed.Store(false)
				st.Retained++
			} else {
				h.freeRegion(r)
				st.Freed++
			}
		case r.cset.IsHumongous():
			if r.HumongousLive() {
				r.cset = NotInCSet
				r.humongousLive.Store(false)
			} else {
				h.freeRegion(r)
				st.HumongousFreed++
			}
		}
	}
	h.youngCSetLength = 0
	return st
}
