// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
	"github.com/mythoi/g1evac/taskqueue"
)

// nextState picks the destination of an object in a region of the
// given state whose mark is m. Young objects younger than the
// tenuring threshold stay young; everything else goes to old. It also
// returns the object's age, read through a displaced mark if needed.
func (s *ScanState) nextState(state heap.CSetState, m heap.Mark) (heap.CSetState, uint8) {
	var age uint8
	if state.IsYoung() {
		age = s.h.MarkAge(m)
		if age < s.tenuringThreshold {
			return state, age
		}
	}
	return s.dest[state], age
}

// allocateInNextPLAB is the last allocation attempt before failing.
// A young copy that found no survivor space goes to old space
// instead, and the worker stops copying into survivor space for the
// rest of the pause so it does not hit this slow path again. An old
// copy has nowhere else to go.
func (s *ScanState) allocateInNextPLAB(dest heap.CSetState, words uint64, ctx heap.AllocContext) (heap.Addr, heap.CSetState) {
	if !dest.IsYoung() {
		return heap.Nil, dest
	}
	obj := s.plab.Allocate(heap.Old, words, ctx)
	if obj == heap.Nil {
		return heap.Nil, dest
	}
	s.tenuringThreshold = 0
	return obj, heap.Old
}

// evacuationShouldFail reports whether this copy attempt is one of
// the injected failures of EvacuationFailureALotInterval.
func (s *ScanState) evacuationShouldFail() bool {
	n := s.flags.EvacuationFailureALotInterval
	if n == 0 {
		return false
	}
	s.copyAttempts++
	return s.copyAttempts%n == 0
}

// CopyToSurvivorSpace 复制对象到目标空间
// CopyToSurvivorSpace evacuates old, a collection set object in a
// region of the given state whose mark was m when the caller read it,
// and returns its new address.
//
// The object is copied first and published with a CAS on its mark.
// If another worker published a copy first, the allocation is undone
// and the winner's copy is returned. If no space can be found the
// object is forwarded to itself and scanned in place.
func (s *ScanState) CopyToSurvivorSpace(state heap.CSetState, old heap.Addr, m heap.Mark) heap.Addr {
	h := s.h
	words := h.Size(old)
	from := h.RegionOf(old)
	// +1 so that non-young regions, at -1, land in entry 0.
	youngIndex := from.YoungIndexInCSet() + 1
	if debugEvac && (from.IsYoung() != (youngIndex > 0)) {
		sys.Throw("evac: young index of " + from.Type().String() + " region")
	}
	ctx := from.AllocContext()

	dest, age := s.nextState(state, m)
	obj := s.plab.PlabAllocate(dest, words, ctx)
	// PLAB allocations should succeed most of the time.
	if obj == heap.Nil {
		obj = s.plab.AllocateDirectOrNewPLAB(dest, words, ctx)
		if obj == heap.Nil {
			obj, dest = s.allocateInNextPLAB(dest, words, ctx)
			if obj == heap.Nil {
				return s.handleEvacuationFailure(old, m)
			}
		}
	}

	if s.evacuationShouldFail() {
		// Failing after allocation exercises the undo path too.
		s.plab.UndoAllocation(dest, obj, words, ctx)
		return s.handleEvacuationFailure(old, m)
	}

	h.Copy(old, obj, words)
	if fwd, ok := h.ForwardToAtomic(old, obj); !ok {
		// Lost the race. Nobody can see our copy, so give it back.
		s.plab.UndoAllocation(dest, obj, words, ctx)
		return fwd
	}

	if dest.IsYoung() {
		if age < heap.MaxAge {
			age++
		}
		if m.HasDisplacedMark() {
			// The age lives in the monitor, which the copy shares.
			h.SetMark(obj, m)
			h.SetDisplacedMark(m, h.DisplacedMark(m).WithAge(age))
		} else {
			h.SetMark(obj, m.WithAge(age))
		}
		s.ageTable.Add(age, sys.WordsToBytes(words))
	} else {
		h.SetMark(obj, m)
	}

	if s.flags.StringDedup && s.hooks.StringDedup != nil && h.Kind(obj) == heap.KindString {
		s.hooks.StringDedup(state.IsYoung(), dest.IsYoung(), s.worker, obj)
	}

	s.survivingYoungWords[youngIndex] += words
	s.copied++
	s.copiedWords += words

	if h.IsObjArray(obj) && h.ArrayLength(obj) >= s.flags.ParGCArrayScanChunk {
		// The to-space length field holds the next index to scan.
		// The real length stays in the from-space object.
		h.SetArrayLength(obj, 0)
		s.push(taskqueue.PartialArray(old))
	} else {
		s.scanObject(obj, h.RegionOf(obj))
	}
	return obj
}
