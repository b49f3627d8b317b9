// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskqueue

import "github.com/mythoi/g1evac/internal/sys"

// WorkQueue is what an evacuation worker needs from its queue.
//
// Push, PopLocal and PopOverflow are owner-only. Steal and IsEmpty may
// be called by any worker at any time.
type WorkQueue interface {
	Push(ref Ref)
	PopLocal() (Ref, bool)
	PopOverflow() (Ref, bool)
	Steal() (Ref, bool)
	IsEmpty() bool
}

// Queue 每个 worker 的工作队列
// 有界的无锁双端队列 + 无界的溢出栈
// A Queue is a worker's work queue: a bounded lock-free deque that
// other workers can steal from, backed by an overflow stack that only
// the owner drains.
type Queue struct {
	deque    Deque
	overflow OverflowStack

	_ sys.CacheLinePad
}

var _ WorkQueue = (*Queue)(nil)

// NewQueue returns a queue whose deque holds size refs and whose
// overflow stack holds at most maxOverflow refs (0 for no limit).
func NewQueue(size, maxOverflow int) *Queue {
	q := new(Queue)
	q.deque.init(size)
	q.overflow.SetLimit(maxOverflow)
	return q
}

// Push adds ref at the owner's end. It never fails: when the deque is
// full ref goes onto the overflow stack. If the overflow stack cannot
// grow either, Push panics with ErrOverflowExhausted.
func (q *Queue) Push(ref Ref) {
	if q.deque.PushHead(ref) {
		return
	}
	if !q.overflow.Push(ref) {
		panic(ErrOverflowExhausted)
	}
}

// PopLocal removes the most recently pushed ref from the deque.
func (q *Queue) PopLocal() (Ref, bool) {
	return q.deque.PopHead()
}

// PopOverflow removes the most recently pushed ref from the overflow
// stack.
func (q *Queue) PopOverflow() (Ref, bool) {
	return q.overflow.Pop()
}

// Steal removes the oldest ref from the deque. Thieves never touch
// the overflow stack.
func (q *Queue) Steal() (Ref, bool) {
	return q.deque.PopTail()
}

// IsEmpty reports whether both the deque and the overflow stack are
// empty.
func (q *Queue) IsEmpty() bool {
	return q.deque.IsEmpty() && q.overflow.IsEmpty()
}

// Len returns the number of refs in the deque and the overflow stack.
func (q *Queue) Len() int {
	return q.deque.Len() + q.overflow.Len()
}

// StealableLen returns the number of refs a thief could take.
func (q *Queue) StealableLen() int {
	return q.deque.Len()
}

// OverflowLen returns the number of refs on the overflow stack.
func (q *Queue) OverflowLen() int {
	return q.overflow.Len()
}
