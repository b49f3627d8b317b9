// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mythoi/g1evac/agetable"
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/plab"
	"github.com/mythoi/g1evac/taskqueue"
)

// ErrOverflowExhausted is returned by Run when a worker's overflow
// stack hit Flags.MaxOverflow. The pause is aborted and the heap is
// left partially evacuated.
var ErrOverflowExhausted = taskqueue.ErrOverflowExhausted

// Config describes one evacuation pause.
type Config struct {
	// Workers is the number of parallel workers. At least 1.
	Workers int

	Flags Flags
	Hooks Hooks

	// TenuringThreshold is the age at which young objects are
	// promoted during this pause.
	TenuringThreshold uint8

	// MaxSurvivorRegions and MaxOldRegions bound the regions the
	// pause may take for copies. 0 means no bound beyond the heap.
	MaxSurvivorRegions int
	MaxOldRegions      int

	// AllocContexts is the number of allocation contexts regions are
	// tagged with. At least 1.
	AllocContexts int

	// Output receives the statistics enabled by Flags. nil discards
	// them.
	Output io.Writer
}

// Result is what a pause reports once every worker is done.
type Result struct {
	Workers []Stats

	// FailedRegions is the number of regions with at least one object
	// that could not be evacuated.
	FailedRegions int

	// PreservedMarks is the number of objects forwarded to themselves.
	PreservedMarks int

	// AgeTable is the merged age table of all workers.
	AgeTable agetable.Table

	// TenuringThreshold is the threshold computed for the next pause.
	TenuringThreshold uint8

	// SurvivingYoungWords[i] is the number of words copied out of the
	// young region with young index i.
	SurvivingYoungWords []uint64

	Elapsed time.Duration
}

// Copied returns the number of objects copied by all workers.
func (r *Result) Copied() uint64 {
	var n uint64
	for i := range r.Workers {
		n += r.Workers[i].Copied
	}
	return n
}

// A Pause evacuates the collection set of a heap once.
//
// The caller selects the collection set and registers the roots
// before Run. After Run it restores preserved marks and reclaims the
// collection set:
//
//	p, err := evac.NewPause(h, cfg)
//	res, err := p.Run()
//	p.RestorePreservedMarks()
//	h.ReclaimCollectionSet()
type Pause struct {
	h   *heap.Heap
	cfg Config

	survivor *plab.Space
	old      *plab.Space
	queues   *taskqueue.Set
	term     *taskqueue.Terminator

	states    []*ScanState
	preserved []PreservedMark
	ran       bool
}

// NewPause prepares a pause over h.
func NewPause(h *heap.Heap, cfg Config) (*Pause, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("evac: bad worker count %d", cfg.Workers)
	}
	if cfg.AllocContexts < 1 {
		cfg.AllocContexts = 1
	}
	if err := cfg.Flags.Validate(); err != nil {
		return nil, err
	}
	p := &Pause{
		h:        h,
		cfg:      cfg,
		survivor: plab.NewSpace(h, heap.RegionSurvivor, cfg.MaxSurvivorRegions),
		old:      plab.NewSpace(h, heap.RegionOld, cfg.MaxOldRegions),
		queues:   taskqueue.NewSet(cfg.Workers, cfg.Flags.TaskQueueSize, cfg.Flags.MaxOverflow),
	}
	p.term = taskqueue.NewTerminator(cfg.Workers, p.queues)
	return p, nil
}

func (p *Pause) plabConfig() plab.Config {
	c := plab.Config{
		WastePct: p.cfg.Flags.ParallelGCBufferWastePct,
		Contexts: p.cfg.AllocContexts,
	}
	c.DesiredWords[heap.Young] = p.cfg.Flags.YoungPLABWords
	c.DesiredWords[heap.Old] = p.cfg.Flags.OldPLABWords
	return c
}

// Survivor returns the space young copies are made in.
func (p *Pause) Survivor() *plab.Space { return p.survivor }

// Old returns the space promoted copies are made in.
func (p *Pause) Old() *plab.Space { return p.old }

// Run 执行一次疏散暂停
// Run seeds the workers' queues with the roots, round-robin, runs the
// workers until the collection set is evacuated and merges their
// results. It can only be called once.
func (p *Pause) Run() (*Result, error) {
	if p.ran {
		return nil, errors.New("evac: pause already ran")
	}
	p.ran = true
	start := time.Now()

	n := p.cfg.Workers
	err := catchOverflow(func() {
		for i := 0; i < p.h.NumRoots(); i++ {
			p.queues.Queue(i % n).Push(taskqueue.RootSlot(heap.RootIndex(i)))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("evac: seeding roots: %w", err)
	}

	p.states = make([]*ScanState, n)
	for i := range p.states {
		p.states[i] = newScanState(p, i)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, s := range p.states {
		wg.Add(1)
		go func(i int, s *ScanState) {
			defer wg.Done()
			errs[i] = p.work(s)
		}(i, s)
	}
	wg.Wait()

	res := p.merge()
	res.Elapsed = time.Since(start)
	p.print(res)
	if err := errors.Join(errs...); err != nil {
		return res, err
	}
	return res, nil
}

// work runs one worker. Overflow exhaustion aborts the phase for
// every worker; any other panic is a bug and is not recovered.
func (p *Pause) work(s *ScanState) error {
	err := catchOverflow(s.EvacuateFollowers)
	if err != nil {
		p.term.Abort()
		return fmt.Errorf("evac: worker %d: %w", s.worker, err)
	}
	return nil
}

func catchOverflow(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if r != taskqueue.ErrOverflowExhausted {
				panic(r)
			}
			err = taskqueue.ErrOverflowExhausted
		}
	}()
	f()
	return nil
}

// merge folds the per-worker state into a Result once all workers
// have stopped.
func (p *Pause) merge() *Result {
	res := &Result{
		Workers:             make([]Stats, len(p.states)),
		SurvivingYoungWords: make([]uint64, p.h.YoungCSetLength()),
	}
	for i, s := range p.states {
		res.Workers[i] = s.flush()
		res.AgeTable.Merge(&s.ageTable)
		res.FailedRegions += s.failedRegions
		for j, w := range s.survivingYoungWords[1:] {
			res.SurvivingYoungWords[j] += w
		}
		p.preserved = append(p.preserved, s.preserved...)
	}
	res.PreservedMarks = len(p.preserved)
	f := &p.cfg.Flags
	res.TenuringThreshold = res.AgeTable.ComputeTenuringThreshold(
		p.survivorCapacity(), f.TargetSurvivorRatio, f.MaxTenuringThreshold)
	return res
}

// survivorCapacity is the most survivor space can hold.
func (p *Pause) survivorCapacity() uint64 {
	if c := p.survivor.CapacityBytes(); c != 0 {
		return c
	}
	return uint64(p.h.NumRegions()) * p.h.RegionBytes()
}

func (p *Pause) print(res *Result) {
	w := p.cfg.Output
	if w == nil {
		return
	}
	f := &p.cfg.Flags
	if f.PrintTerminationStats {
		printTerminationStatsHeader(w)
		for i := range res.Workers {
			printTerminationStats(w, &res.Workers[i])
		}
	}
	if f.PrintTenuringDistribution {
		res.AgeTable.Print(w, p.survivorCapacity(), f.TargetSurvivorRatio,
			res.TenuringThreshold, f.MaxTenuringThreshold)
	}
}
