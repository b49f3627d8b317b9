// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package evac is the parallel evacuation engine of a region-based
// copying collector.
//
// During a pause every worker owns a ScanState. Starting from the
// roots in its queue, a worker pops references, copies the objects
// they name out of the collection set, installs forwarding pointers
// and scans the copies, pushing the references it finds. Idle
// workers steal from busy ones until the Terminator agrees that all
// queues are empty.
//
// Two workers can reach the same object at once. Both copy it, but
// only the one whose forwarding CAS succeeds publishes its copy; the
// other undoes its allocation and uses the winner's. When no space is
// left for a copy the object is forwarded to itself and stays where it
// is, and its region is marked as failed.
package evac

import (
	"time"

	"github.com/mythoi/g1evac/agetable"
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
	"github.com/mythoi/g1evac/plab"
	"github.com/mythoi/g1evac/taskqueue"
)

// debugEvac enables invariant checks on every dispatched reference.
const debugEvac = false

// ScanState 每个 worker 的扫描复制状态
// A ScanState is one worker's evacuation state. Only its worker may
// call its methods, except where noted.
type ScanState struct {
	h      *heap.Heap
	worker int
	flags  *Flags
	hooks  *Hooks

	queue  *taskqueue.Queue
	queues *taskqueue.Set
	term   *taskqueue.Terminator
	plab   *plab.Allocator

	// tenuringThreshold starts at the pause's threshold and drops to
	// 0 once survivor space runs out for this worker.
	tenuringThreshold uint8
	dest              [heap.NumDests]heap.CSetState

	ageTable agetable.Table

	// survivingYoungWords[i+1] counts words copied out of the young
	// region with young index i. Entry 0 counts non-young regions.
	survivingYoungWords []uint64

	preserved     []PreservedMark
	failedRegions int

	hashSeed     uint32
	copyAttempts uint64

	start        time.Time
	strongRoots  time.Duration
	termTime     time.Duration
	termAttempts int
	steals       int
	copied       uint64
	copiedWords  uint64
}

func newScanState(p *Pause, worker int) *ScanState {
	s := &ScanState{
		h:                   p.h,
		worker:              worker,
		flags:               &p.cfg.Flags,
		hooks:               &p.cfg.Hooks,
		queue:               p.queues.Queue(worker),
		queues:              p.queues,
		term:                p.term,
		plab:                plab.NewAllocator(p.survivor, p.old, p.plabConfig()),
		tenuringThreshold:   p.cfg.TenuringThreshold,
		survivingYoungWords: make([]uint64, p.h.YoungCSetLength()+1),
		hashSeed:            taskqueue.InitialSeed,
		start:               time.Now(),
	}
	s.dest[heap.NotInCSet] = heap.NotInCSet
	// Young is used when objects are old enough to leave survivor space.
	s.dest[heap.Young] = heap.Old
	s.dest[heap.Old] = heap.Old
	return s
}

// Worker returns the worker id of s.
func (s *ScanState) Worker() int { return s.worker }

// TenuringThreshold returns the worker's current tenuring threshold.
func (s *ScanState) TenuringThreshold() uint8 { return s.tenuringThreshold }

// AgeTable returns the worker's age table.
func (s *ScanState) AgeTable() *agetable.Table { return &s.ageTable }

func (s *ScanState) push(ref taskqueue.Ref) {
	if debugEvac {
		s.verifyRef(ref)
	}
	s.queue.Push(ref)
}

func (s *ScanState) verifyRef(ref taskqueue.Ref) {
	h := s.h
	switch {
	case ref == 0:
		sys.Throw("evac: zero ref")
	case ref.IsPartialArray():
		// Already copied, so it must be a collection set object.
		if !h.CSetState(ref.Addr()).IsInCSet() {
			sys.Throw("evac: partial array " + ref.String() + " not in collection set")
		}
	case ref.IsHeapSlot():
		if !h.InReserved(ref.Addr()) || !h.InReserved(h.LoadRef(ref.Addr())) {
			sys.Throw("evac: bad heap slot " + ref.String())
		}
	}
}

// Dispatch processes one reference popped from a queue.
func (s *ScanState) Dispatch(ref taskqueue.Ref) {
	if debugEvac {
		s.verifyRef(ref)
	}
	switch {
	case ref.IsPartialArray():
		s.doPartialArray(ref.Addr())
	case ref.IsRootSlot():
		s.doRoot(ref.Root())
	default:
		s.doOopEvac(ref.Addr())
	}
}

// doRoot evacuates the referent of root slot i. Roots live outside
// the heap, so they never need a remembered set update.
func (s *ScanState) doRoot(i heap.RootIndex) {
	start := time.Now()
	h := s.h
	if obj := h.Root(i); obj != heap.Nil {
		switch state := h.CSetState(obj); {
		case state.IsInCSet():
			h.SetRoot(i, s.forwardOrCopy(state, obj))
		case state.IsHumongous():
			h.SetHumongousLive(obj)
		}
	}
	s.strongRoots += time.Since(start)
}

// doOopEvac evacuates the referent of slot and updates slot to point
// at the copy.
func (s *ScanState) doOopEvac(slot heap.Addr) {
	h := s.h
	obj := h.LoadRef(slot)
	if obj == heap.Nil {
		return
	}
	switch state := h.CSetState(obj); {
	case state.IsInCSet():
		obj = s.forwardOrCopy(state, obj)
		h.StoreRef(slot, obj)
	case state.IsHumongous():
		h.SetHumongousLive(obj)
	}
	s.updateRS(h.RegionOf(slot), slot, obj)
}

// forwardOrCopy returns the copy of the collection set object obj,
// making one if nobody has yet.
func (s *ScanState) forwardOrCopy(state heap.CSetState, obj heap.Addr) heap.Addr {
	m := s.h.Mark(obj)
	if m.IsForwarded() {
		return m.Forwardee
	}
	return s.CopyToSurvivorSpace(state, obj, m)
}

// TrimQueue 排空本地队列
// TrimQueue dispatches references until the worker's queue is empty.
// The overflow stack is drained first: only the deque can be stolen
// from, so its entries are left for others as long as possible.
func (s *ScanState) TrimQueue() {
	q := s.queue
	for {
		for ref, ok := q.PopOverflow(); ok; ref, ok = q.PopOverflow() {
			s.Dispatch(ref)
		}
		for ref, ok := q.PopLocal(); ok; ref, ok = q.PopLocal() {
			s.Dispatch(ref)
		}
		if q.IsEmpty() || s.term.Aborted() {
			return
		}
	}
}

// StealAndTrimQueue steals references from other workers, draining
// the worker's own queue after each successful steal.
func (s *ScanState) StealAndTrimQueue() {
	for ref, ok := s.queues.Steal(s.worker, &s.hashSeed); ok; ref, ok = s.queues.Steal(s.worker, &s.hashSeed) {
		s.steals++
		s.Dispatch(ref)
		s.TrimQueue()
		if s.term.Aborted() {
			return
		}
	}
}

func (s *ScanState) offerTermination() bool {
	start := time.Now()
	s.termAttempts++
	done := s.term.OfferTermination()
	s.termTime += time.Since(start)
	return done
}

// EvacuateFollowers runs the worker until every queue is empty and
// all workers agree the phase is over, or the phase is aborted.
func (s *ScanState) EvacuateFollowers() {
	s.TrimQueue()
	for {
		s.StealAndTrimQueue()
		if s.offerTermination() {
			return
		}
	}
}

// flush retires the worker's PLABs and returns its statistics.
func (s *ScanState) flush() Stats {
	s.plab.RetireAllocBuffers()
	wasted, undo := s.plab.Waste()
	return Stats{
		Worker:            s.worker,
		Elapsed:           time.Since(s.start),
		StrongRoots:       s.strongRoots,
		Termination:       s.termTime,
		TermAttempts:      s.termAttempts,
		Steals:            s.steals,
		Copied:            s.copied,
		CopiedBytes:       sys.WordsToBytes(s.copiedWords),
		AllocWasteBytes:   sys.WordsToBytes(wasted),
		UndoWasteBytes:    sys.WordsToBytes(undo),
		TenuringThreshold: s.tenuringThreshold,
	}
}
