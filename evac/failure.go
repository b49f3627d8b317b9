// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
)

// A PreservedMark is the mark an object had before it was forwarded
// to itself. It is put back once the pause is over.
type PreservedMark struct {
	Obj  heap.Addr
	Mark heap.Mark
}

// handleEvacuationFailure 自转发 失败对象原地保留
// handleEvacuationFailure is called when old cannot be copied. It
// forwards old to itself. The worker that manages to do so owns the
// failure: it flags the region, preserves the mark and scans old in
// place. Any other worker gets whatever forwardee won, which is
// either old itself or a copy made by a luckier worker.
func (s *ScanState) handleEvacuationFailure(old heap.Addr, m heap.Mark) heap.Addr {
	h := s.h
	if debugEvac && !h.CSetState(old).IsInCSet() {
		sys.Throw("evac: failing object outside the collection set")
	}

	fwd, ok := h.ForwardToAtomic(old, old)
	if !ok {
		if debugEvac && fwd != old && h.CSetState(fwd).IsInCSet() {
			sys.Throw("evac: object forwarded into the collection set")
		}
		return fwd
	}

	r := h.RegionOf(old)
	if r.SetEvacuationFailed() {
		s.failedRegions++
		if s.hooks.EvacFailure != nil {
			s.hooks.EvacFailure(r)
		}
	}
	s.preserved = append(s.preserved, PreservedMark{Obj: old, Mark: m})
	s.scanObject(old, r)
	return old
}

// RestorePreservedMarks puts back the marks of objects that failed
// evacuation, removing their self-forwarding pointers. It returns the
// number of objects restored. Call it after Run and before the
// collection set is reclaimed.
func (p *Pause) RestorePreservedMarks() int {
	for _, pm := range p.preserved {
		if debugEvac && !p.h.Mark(pm.Obj).IsSelfForwarded(pm.Obj) {
			sys.Throw("evac: preserved object is not self-forwarded")
		}
		p.h.SetMark(pm.Obj, pm.Mark)
	}
	n := len(p.preserved)
	p.preserved = nil
	return n
}
