// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package taskqueue implements the per-worker work-stealing queues
// that carry references between evacuation workers.
package taskqueue

import (
	"strconv"

	"github.com/mythoi/g1evac/heap"
)

// Ref 引用标签 低两位表示类型
// A Ref is a tagged reference to pending work. The low two bits say
// what the rest of the value is:
//
//	heap slot      address of a heap word holding a reference
//	root slot      index of a root slot holding a reference
//	partial array  address of a from-space object array whose copy
//	               still has elements left to scan
//
// The zero Ref is never valid; queues use it to mark empty slots.
type Ref uint64

const (
	refTagBits = 2
	refTagMask = 1<<refTagBits - 1

	refHeapSlot     = 0
	refRootSlot     = 1
	refPartialArray = 2
)

// HeapSlot returns the Ref for the heap slot at slot.
func HeapSlot(slot heap.Addr) Ref {
	if slot == heap.Nil {
		panic("taskqueue: nil heap slot")
	}
	return Ref(slot)<<refTagBits | refHeapSlot
}

// RootSlot returns the Ref for root slot i.
func RootSlot(i heap.RootIndex) Ref {
	return Ref(i)<<refTagBits | refRootSlot
}

// PartialArray returns the continuation Ref for the from-space array obj.
func PartialArray(obj heap.Addr) Ref {
	return Ref(obj)<<refTagBits | refPartialArray
}

func (r Ref) IsHeapSlot() bool     { return r&refTagMask == refHeapSlot }
func (r Ref) IsRootSlot() bool     { return r&refTagMask == refRootSlot }
func (r Ref) IsPartialArray() bool { return r&refTagMask == refPartialArray }

// Addr returns the heap slot or the from-space array r refers to.
func (r Ref) Addr() heap.Addr {
	if r.IsRootSlot() {
		panic("taskqueue: Addr of a root slot ref")
	}
	return heap.Addr(r >> refTagBits)
}

// Root returns the root slot index r refers to.
func (r Ref) Root() heap.RootIndex {
	if !r.IsRootSlot() {
		panic("taskqueue: Root of a non-root ref")
	}
	return heap.RootIndex(r >> refTagBits)
}

func (r Ref) String() string {
	v := strconv.FormatUint(uint64(r>>refTagBits), 16)
	switch r & refTagMask {
	case refHeapSlot:
		return "slot:0x" + v
	case refRootSlot:
		return "root:0x" + v
	case refPartialArray:
		return "partial:0x" + v
	}
	return "bad:0x" + strconv.FormatUint(uint64(r), 16)
}
