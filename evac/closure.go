// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
	"github.com/mythoi/g1evac/taskqueue"
)

// scanObject scans the reference fields of obj, which lives in from,
// last field first.
func (s *ScanState) scanObject(obj heap.Addr, from *heap.Region) {
	first, n := s.h.RefSlots(obj)
	for i := n; i > 0; i-- {
		s.scanSlot(first.Add(i-1), from)
	}
}

// scanSlot handles one field of an object being scanned. A referent
// in the collection set is pushed for evacuation. Anything else is
// final: a humongous referent is noted as live and the slot gets a
// remembered set update.
func (s *ScanState) scanSlot(slot heap.Addr, from *heap.Region) {
	h := s.h
	obj := h.LoadRef(slot)
	if obj == heap.Nil {
		return
	}
	state := h.CSetState(obj)
	if state.IsInCSet() {
		s.push(taskqueue.HeapSlot(slot))
		return
	}
	if state.IsHumongous() {
		h.SetHumongousLive(obj)
	}
	s.updateRS(from, slot, obj)
}

// updateRS logs slot, which is in region from and now holds obj, if
// it is a cross-region reference out of a region that is not young.
// Young regions are always scanned in full, so they need no cards.
func (s *ScanState) updateRS(from *heap.Region, slot, obj heap.Addr) {
	if from.IsYoung() || s.h.SameRegion(slot, obj) {
		return
	}
	if s.hooks.EnqueueCard != nil {
		s.hooks.EnqueueCard(s.worker, slot, obj)
	}
}

// doPartialArray 分块扫描大数组
// doPartialArray scans the next chunk of the copy of the object array
// from. The copy's length field holds the next index to scan. While
// more than two chunks remain, one chunk is claimed and the rest is
// pushed back so other workers can steal it; otherwise the rest is
// scanned here and the copy gets its real length back.
func (s *ScanState) doPartialArray(from heap.Addr) {
	h := s.h
	to, ok := h.Forwardee(from)
	if !ok || to == from {
		sys.Throw("evac: partial array was not copied")
	}
	length := h.ArrayLength(from)
	chunk := s.flags.ParGCArrayScanChunk

	start := h.ArrayLength(to)
	end := length
	if end-start > 2*chunk {
		end = start + chunk
		h.SetArrayLength(to, end)
		s.push(taskqueue.PartialArray(from))
	} else {
		h.SetArrayLength(to, end)
	}

	r := h.RegionOf(to)
	for i := start; i < end; i++ {
		s.scanSlot(h.ElementSlot(to, i), r)
	}
}
