// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap is a word-addressed model of a region-based heap.
//
// The heap is one arena of words split into equally sized regions.
// Objects, regions and roots are referred to by stable indexes
// (Addr, RegionIndex, RootIndex) rather than by Go pointers, so any
// number of workers can race on the same object graph using only
// atomic word operations.
//
//	arena:  [ region 0 | region 1 | ... | region n-1 ]
//	region: [ obj | obj | ... | top ... end )
//	object: [ mark | klass | (length) | refs... | data... ]
//
// Address 0 is nil and is never handed out by any allocator.
package heap

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/mythoi/g1evac/internal/sys"
)

// Addr 堆中的字索引 0 表示 nil
// An Addr is the index of a word in the heap arena.
type Addr uint64

// Nil is the null reference.
const Nil Addr = 0

// Add returns a+words.
func (a Addr) Add(words uint64) Addr {
	return a + Addr(words)
}

// Config describes the shape of a heap.
type Config struct {
	// RegionWords is the size of one region in words. It must be a
	// power of two.
	RegionWords uint64

	// Regions is the number of regions in the arena.
	Regions int
}

var (
	// ErrRegionFull is returned by the object builders when the
	// target region has no room left for the object.
	ErrRegionFull = errors.New("heap: region full")

	// ErrNoFreeRegion is returned when every region is in use.
	ErrNoFreeRegion = errors.New("heap: no free region")
)

// A Heap is the arena plus its region table, the monitor table used
// for displaced mark words and the root table.
type Heap struct {
	words []atomic.Uint64

	logRegionWords uint
	regionWords    uint64
	regions        []Region

	// freeLock protects free. Free regions are handed out to the
	// destination spaces concurrently during a pause.
	freeLock sync.Mutex
	free     []RegionIndex

	// monitors and roots are only grown outside a pause.
	monitors []*monitor
	roots    []Addr

	youngCSetLength int
}

// New allocates a heap of cfg.Regions regions of cfg.RegionWords words.
func New(cfg Config) (*Heap, error) {
	if cfg.RegionWords < minRegionWords || cfg.RegionWords&(cfg.RegionWords-1) != 0 {
		return nil, fmt.Errorf("heap: region size %d words is not a power of two >= %d", cfg.RegionWords, minRegionWords)
	}
	if cfg.Regions <= 0 {
		return nil, fmt.Errorf("heap: bad region count %d", cfg.Regions)
	}
	h := &Heap{
		words:          make([]atomic.Uint64, uint64(cfg.Regions)*cfg.RegionWords),
		logRegionWords: uint(bits.TrailingZeros64(cfg.RegionWords)),
		regionWords:    cfg.RegionWords,
		regions:        make([]Region, cfg.Regions),
		free:           make([]RegionIndex, 0, cfg.Regions),
		// Monitor 0 is reserved so that an all-zero mark word is
		// never a valid displaced mark.
		monitors: []*monitor{nil},
	}
	for i := range h.regions {
		r := &h.regions[i]
		r.index = RegionIndex(i)
		r.bottom = Addr(uint64(i) * cfg.RegionWords)
		if i == 0 {
			// Word 0 is nil.
			r.bottom = 1
		}
		r.end = Addr(uint64(i+1) * cfg.RegionWords)
		r.reset()
	}
	// Hand out low regions first.
	for i := cfg.Regions - 1; i >= 0; i-- {
		h.free = append(h.free, RegionIndex(i))
	}
	return h, nil
}

// minRegionWords keeps room for at least a few objects per region.
const minRegionWords = 16

// RegionWords returns the size of a region in words.
func (h *Heap) RegionWords() uint64 {
	return h.regionWords
}

// RegionBytes returns the size of a region in bytes.
func (h *Heap) RegionBytes() uint64 {
	return sys.WordsToBytes(h.regionWords)
}

// NumRegions returns the number of regions in the arena.
func (h *Heap) NumRegions() int {
	return len(h.regions)
}

// InReserved reports whether a is a non-nil address inside the arena.
func (h *Heap) InReserved(a Addr) bool {
	return a != Nil && uint64(a) < uint64(len(h.words))
}

// Region returns the region with index i.
func (h *Heap) Region(i RegionIndex) *Region {
	return &h.regions[i]
}

// RegionOf 返回 a 所在的 region
// RegionOf returns the region containing a. a must be in the arena.
func (h *Heap) RegionOf(a Addr) *Region {
	return &h.regions[uint64(a)>>h.logRegionWords]
}

// SameRegion reports whether a and b live in the same region.
func (h *Heap) SameRegion(a, b Addr) bool {
	return uint64(a)>>h.logRegionWords == uint64(b)>>h.logRegionWords
}

// CSetState returns the collection set state of the region containing a.
// This is the "in collection set fast test" used on every scanned slot.
func (h *Heap) CSetState(a Addr) CSetState {
	return h.RegionOf(a).cset
}

// Word atomically loads the word at a.
func (h *Heap) Word(a Addr) uint64 {
	return h.words[a].Load()
}

// SetWord atomically stores v at a.
func (h *Heap) SetWord(a Addr, v uint64) {
	h.words[a].Store(v)
}

// LoadRef loads the reference held in slot.
func (h *Heap) LoadRef(slot Addr) Addr {
	return Addr(h.words[slot].Load())
}

// StoreRef stores ref into slot.
func (h *Heap) StoreRef(slot, ref Addr) {
	h.words[slot].Store(uint64(ref))
}

// Copy copies n words from from to to. The spans must not overlap.
func (h *Heap) Copy(from, to Addr, n uint64) {
	src := h.words[from : from.Add(n)]
	dst := h.words[to : to.Add(n)]
	for i := range src {
		dst[i].Store(src[i].Load())
	}
}

// AllocateRegion takes a free region and gives it type t.
// It is safe for concurrent use.
func (h *Heap) AllocateRegion(t RegionType) (*Region, error) {
	if t == RegionFree {
		panic("heap: allocating a free region")
	}
	h.freeLock.Lock()
	n := len(h.free)
	if n == 0 {
		h.freeLock.Unlock()
		return nil, ErrNoFreeRegion
	}
	i := h.free[n-1]
	h.free = h.free[:n-1]
	h.freeLock.Unlock()

	r := &h.regions[i]
	r.typ.Store(uint32(t))
	return r, nil
}

// freeRegion returns r to the free list.
func (h *Heap) freeRegion(r *Region) {
	r.reset()
	h.freeLock.Lock()
	h.free = append(h.free, r.index)
	h.freeLock.Unlock()
}

// FreeRegions returns the number of free regions.
func (h *Heap) FreeRegions() int {
	h.freeLock.Lock()
	defer h.freeLock.Unlock()
	return len(h.free)
}
