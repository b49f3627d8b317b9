// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"strconv"
	"sync/atomic"
)

// RegionIndex is a stable handle for a region.
type RegionIndex uint32

// RegionType is what a region is currently used for.
type RegionType uint8

const (
	RegionFree RegionType = iota
	RegionEden
	RegionSurvivor
	RegionOld
	RegionHumongous
)

var regionTypeNames = [...]string{
	RegionFree:      "free",
	RegionEden:      "eden",
	RegionSurvivor:  "survivor",
	RegionOld:       "old",
	RegionHumongous: "humongous",
}

func (t RegionType) String() string {
	if int(t) < len(regionTypeNames) {
		return regionTypeNames[t]
	}
	return "RegionType(" + strconv.Itoa(int(t)) + ")"
}

// CSetState 集合状态
// CSetState is the collection set membership of a region. The
// values double as evacuation destinations: Young means "copy into
// survivor space", Old means "copy into old space".
type CSetState int8

const (
	// Humongous marks a humongous region that is a candidate for
	// eager reclaim. It is not evacuated.
	Humongous CSetState = -1
	NotInCSet CSetState = 0
	Young     CSetState = 1
	Old       CSetState = 2

	// NumDests is the number of evacuation destinations plus one
	// so that a destination can index an array directly.
	NumDests = 3
)

func (s CSetState) IsInCSetOrHumongous() bool { return s != NotInCSet }
func (s CSetState) IsInCSet() bool            { return s > NotInCSet }
func (s CSetState) IsHumongous() bool         { return s == Humongous }
func (s CSetState) IsYoung() bool             { return s == Young }
func (s CSetState) IsOld() bool               { return s == Old }

func (s CSetState) String() string {
	switch s {
	case Humongous:
		return "humongous"
	case NotInCSet:
		return "not-in-cset"
	case Young:
		return "young"
	case Old:
		return "old"
	}
	return "CSetState(" + strconv.Itoa(int(s)) + ")"
}

// AllocContext partitions allocation within a destination. Each
// context gets its own PLAB per worker.
type AllocContext uint8

// A Region is a fixed-size slice of the arena.
type Region struct {
	index  RegionIndex
	bottom Addr
	end    Addr

	// top is the next free word. It only moves under CAS so
	// several PLAB refills can carve the same region in parallel.
	top atomic.Uint64
	typ atomic.Uint32

	// cset and youngIndex are written before a pause and after
	// it, never during it.
	cset       CSetState
	youngIndex int
	context    AllocContext

	// evacFailed is set at most once per pause, by the first
	// worker that self-forwards an object of this region.
	evacFailed    atomic.Bool
	humongousLive atomic.Bool
}

func (r *Region) reset() {
	r.top.Store(uint64(r.bottom))
	r.typ.Store(uint32(RegionFree))
	r.cset = NotInCSet
	r.youngIndex = -1
	r.context = 0
	r.evacFailed.Store(false)
	r.humongousLive.Store(false)
}

func (r *Region) Index() RegionIndex   { return r.index }
func (r *Region) Bottom() Addr         { return r.bottom }
func (r *Region) End() Addr            { return r.end }
func (r *Region) Top() Addr            { return Addr(r.top.Load()) }
func (r *Region) Type() RegionType     { return RegionType(r.typ.Load()) }
func (r *Region) CSetState() CSetState { return r.cset }

// IsYoung reports whether r is an eden or survivor region.
func (r *Region) IsYoung() bool {
	t := r.Type()
	return t == RegionEden || t == RegionSurvivor
}

// Contains reports whether a lies in [bottom, end).
func (r *Region) Contains(a Addr) bool {
	return a >= r.bottom && a < r.end
}

// Used returns the number of allocated words.
func (r *Region) Used() uint64 {
	return uint64(r.Top() - r.bottom)
}

// Available returns the number of unallocated words.
func (r *Region) Available() uint64 {
	return uint64(r.end - r.Top())
}

// YoungIndexInCSet returns the position of r among the young
// collection set regions, or -1 if r is not a young cset region.
func (r *Region) YoungIndexInCSet() int { return r.youngIndex }

func (r *Region) AllocContext() AllocContext     { return r.context }
func (r *Region) SetAllocContext(c AllocContext) { r.context = c }

// EvacuationFailed reports whether some object of r could not be
// evacuated during the current pause.
func (r *Region) EvacuationFailed() bool {
	return r.evacFailed.Load()
}

// SetEvacuationFailed 设置 evac 失败 只有第一个调用者返回 true
// SetEvacuationFailed sets the evacuation failure flag. It returns
// true only for the caller that actually flipped it.
func (r *Region) SetEvacuationFailed() bool {
	if r.evacFailed.Load() {
		return false
	}
	return r.evacFailed.CompareAndSwap(false, true)
}

// HumongousLive reports whether a reference to the humongous object
// in r was found during the pause.
func (r *Region) HumongousLive() bool {
	return r.humongousLive.Load()
}

// ParAllocate bumps top by words. It returns Nil if the region
// cannot fit the request. Safe for concurrent use.
func (r *Region) ParAllocate(words uint64) Addr {
	a, _ := r.ParAllocateRange(words, words)
	return a
}

// ParAllocateRange 分配 [min, desired] 字
// ParAllocateRange allocates at least min and at most desired words.
// It returns the start of the span and its size, or Nil if fewer than
// min words remain.
func (r *Region) ParAllocateRange(min, desired uint64) (Addr, uint64) {
	for {
		top := r.top.Load()
		avail := uint64(r.end) - top
		if avail < min {
			return Nil, 0
		}
		want := desired
		if want > avail {
			want = avail
		}
		if r.top.CompareAndSwap(top, top+want) {
			return Addr(top), want
		}
	}
}

// Return gives back [a, a+words) if it is still the last allocation
// in the region. It reports whether the words were returned.
func (r *Region) Return(a Addr, words uint64) bool {
	return r.top.CompareAndSwap(uint64(a.Add(words)), uint64(a))
}
