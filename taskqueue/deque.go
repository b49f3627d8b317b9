// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskqueue

import (
	"sync/atomic"

	"github.com/mythoi/g1evac/internal/sys"
)

// Deque 无锁的单生产者多消费者的定长双端队列
// 生产者从头 push 和 pop 窃取者只能 pop 尾
// A Deque is a lock-free fixed-size single-producer, multi-consumer
// queue. The owning worker pushes and pops at the head; any number of
// thieves pop at the tail.
type Deque struct {
	// headTail packs together a 32-bit head index and a 32-bit
	// tail index. Both are indexes into vals modulo len(vals)-1.
	//
	// tail = index of oldest ref in the deque
	// head = index of next slot to fill
	//
	// Slots in the range [tail, head) are owned by consumers.
	// A consumer continues to own a slot outside this range until
	// it zeroes the slot, at which point ownership passes to the
	// owner.
	//
	// The head index is stored in the most-significant bits so
	// that we can atomically add to it and the overflow is
	// harmless.
	headTail atomic.Uint64

	_ sys.CacheLinePad

	// vals is a ring buffer of refs. Its size is a power of 2.
	// A zero slot is free. A slot is still in use until both the
	// tail index has moved beyond it and the slot has been zeroed.
	vals []atomic.Uint64
}

const dequeueBits = 32

// dequeueLimit is the maximum size of a Deque.
//
// This must be at most (1<<dequeueBits)/2 because detecting fullness
// depends on wrapping around the ring buffer without wrapping around
// the index. We divide by 4 so this fits in an int on 32-bit.
const dequeueLimit = (1 << dequeueBits) / 4

// NewDeque returns a Deque holding up to size refs. size is rounded
// up to a power of two.
func NewDeque(size int) *Deque {
	d := new(Deque)
	d.init(size)
	return d
}

func (d *Deque) init(size int) {
	if size <= 0 || size > dequeueLimit {
		sys.Throw("taskqueue: bad deque size")
	}
	n := 1
	for n < size {
		n <<= 1
	}
	d.vals = make([]atomic.Uint64, n)
}

func (d *Deque) unpack(ptrs uint64) (head, tail uint32) {
	const mask = 1<<dequeueBits - 1
	head = uint32((ptrs >> dequeueBits) & mask)
	tail = uint32(ptrs & mask)
	return
}

func (d *Deque) pack(head, tail uint32) uint64 {
	const mask = 1<<dequeueBits - 1
	return (uint64(head) << dequeueBits) |
		uint64(tail&mask)
}

// Cap returns the number of refs d can hold.
func (d *Deque) Cap() int {
	return len(d.vals)
}

// PushHead 添加 ref 到头部 队列已满返回 false
// PushHead adds ref at the head of the deque. It returns false if the
// deque is full. It must only be called by the owner.
func (d *Deque) PushHead(ref Ref) bool {
	if ref == 0 {
		sys.Throw("taskqueue: pushing the zero ref")
	}
	ptrs := d.headTail.Load()
	head, tail := d.unpack(ptrs)
	if (tail+uint32(len(d.vals)))&(1<<dequeueBits-1) == head {
		// Deque is full.
		return false
	}
	slot := &d.vals[head&uint32(len(d.vals)-1)]

	// Check if the head slot has been released by PopTail.
	if slot.Load() != 0 {
		// Another thief is still cleaning up the tail, so
		// the deque is actually still full.
		return false
	}

	// The head slot is free, so we own it.
	slot.Store(uint64(ref))

	// Increment head. This passes ownership of slot to PopTail
	// and acts as a store barrier for writing the slot.
	d.headTail.Add(1 << dequeueBits)
	return true
}

// PopHead removes and returns the ref at the head of the deque,
// the one pushed most recently. It returns false if the deque is
// empty. It must only be called by the owner.
func (d *Deque) PopHead() (Ref, bool) {
	var slot *atomic.Uint64
	for {
		ptrs := d.headTail.Load()
		head, tail := d.unpack(ptrs)
		if tail == head {
			// Deque is empty.
			return 0, false
		}

		// Confirm tail and decrement head. We do this before
		// reading the value to take back ownership of this
		// slot. A thief racing for the last ref CASes the same
		// word, so exactly one of us gets it.
		head--
		ptrs2 := d.pack(head, tail)
		if d.headTail.CompareAndSwap(ptrs, ptrs2) {
			// We successfully took back slot.
			slot = &d.vals[head&uint32(len(d.vals)-1)]
			break
		}
	}

	ref := Ref(slot.Load())
	// Zero the slot. Unlike PopTail, this isn't racing with
	// PushHead, so ordering doesn't matter here.
	slot.Store(0)
	return ref, true
}

// PopTail 窃取尾部元素 可以由多个窃取者调用
// PopTail removes and returns the ref at the tail of the deque, the
// oldest one. It returns false if the deque is empty. It may be
// called by any number of thieves.
func (d *Deque) PopTail() (Ref, bool) {
	var slot *atomic.Uint64
	for {
		ptrs := d.headTail.Load()
		head, tail := d.unpack(ptrs)
		if tail == head {
			// Deque is empty.
			return 0, false
		}

		// Confirm head and tail (for our speculative check
		// above) and increment tail. If this succeeds, then
		// we own the slot at tail.
		ptrs2 := d.pack(head, tail+1)
		if d.headTail.CompareAndSwap(ptrs, ptrs2) {
			slot = &d.vals[tail&uint32(len(d.vals)-1)]
			break
		}
	}

	// We now own slot.
	ref := Ref(slot.Load())

	// Tell PushHead that we're done with this slot by zeroing it.
	slot.Store(0)
	// At this point PushHead owns the slot.

	return ref, true
}

// Len returns the number of refs in the deque. It may be stale by the
// time it returns but never counts a slot that was not pushed.
func (d *Deque) Len() int {
	head, tail := d.unpack(d.headTail.Load())
	return int(head - tail)
}

// IsEmpty reports whether the deque holds no refs.
func (d *Deque) IsEmpty() bool {
	head, tail := d.unpack(d.headTail.Load())
	return head == tail
}
