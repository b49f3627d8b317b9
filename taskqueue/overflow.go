// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Lock-free overflow stack.

package taskqueue

import (
	"errors"
	"sync/atomic"
)

// ErrOverflowExhausted 溢出栈无法增长
// ErrOverflowExhausted is the panic value raised by Queue.Push when
// the overflow stack has hit its limit. A pending ref can never be
// dropped, so this ends the whole evacuation phase.
var ErrOverflowExhausted = errors.New("taskqueue: overflow stack exhausted")

// An overflowNode holds one ref on the overflow stack. Nodes are never
// reused, so a popped node cannot come back under the same address
// while another popper still holds it and the stack needs no ABA
// counter.
type overflowNode struct {
	next *overflowNode
	ref  Ref
}

// OverflowStack is an unbounded lock-free LIFO of refs.
//
// The zero value is an empty stack with no limit.
type OverflowStack struct {
	head atomic.Pointer[overflowNode]

	// n counts the refs on the stack. It is bumped before the
	// node is published and dropped after it is unlinked, so a
	// concurrent observer never sees n == 0 while a ref is on
	// the stack.
	n atomic.Int64

	// limit is the largest n allowed, or 0 for no limit.
	limit int64
}

// SetLimit bounds the stack to limit refs. 0 means unbounded.
func (s *OverflowStack) SetLimit(limit int) {
	s.limit = int64(limit)
}

// Push 将 ref 压入栈中 超过上限返回 false
// Push adds ref to the top of the stack. It returns false, leaving the
// stack untouched, if the stack is at its limit.
func (s *OverflowStack) Push(ref Ref) bool {
	if n := s.n.Add(1); s.limit > 0 && n > s.limit {
		s.n.Add(-1)
		return false
	}
	node := &overflowNode{ref: ref}
	for {
		old := s.head.Load()
		node.next = old
		if s.head.CompareAndSwap(old, node) {
			return true
		}
	}
}

// Pop removes and returns the most recently pushed ref.
func (s *OverflowStack) Pop() (Ref, bool) {
	for {
		old := s.head.Load()
		if old == nil {
			return 0, false
		}
		if s.head.CompareAndSwap(old, old.next) {
			s.n.Add(-1)
			return old.ref, true
		}
	}
}

// Len returns the number of refs on the stack.
func (s *OverflowStack) Len() int {
	return int(s.n.Load())
}

// IsEmpty reports whether the stack holds no refs.
func (s *OverflowStack) IsEmpty() bool {
	return s.n.Load() == 0
}
