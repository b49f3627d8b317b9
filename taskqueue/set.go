// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskqueue

// A Set holds every worker's queue and lets workers steal from each
// other. Queue i belongs to worker i.
type Set struct {
	queues []*Queue
}

// NewSet creates n queues, each with a deque of size refs and an
// overflow stack bounded by maxOverflow (0 for no limit).
func NewSet(n, size, maxOverflow int) *Set {
	s := &Set{queues: make([]*Queue, n)}
	for i := range s.queues {
		s.queues[i] = NewQueue(size, maxOverflow)
	}
	return s
}

// Len returns the number of queues.
func (s *Set) Len() int {
	return len(s.queues)
}

// Queue returns the queue of worker i.
func (s *Set) Queue(i int) *Queue {
	return s.queues[i]
}

// Steal 从其他 worker 窃取任务
// Steal tries to take a ref from some queue other than worker's.
// It makes 2*n best-of-two attempts before giving up. seed is the
// worker's private random state.
func (s *Set) Steal(worker int, seed *uint32) (Ref, bool) {
	for i := 0; i < 2*len(s.queues); i++ {
		if ref, ok := s.stealBestOf2(worker, seed); ok {
			return ref, true
		}
	}
	return 0, false
}

// stealBestOf2 picks two random victims and steals from the one with
// more stealable work.
func (s *Set) stealBestOf2(worker int, seed *uint32) (Ref, bool) {
	n := uint32(len(s.queues))
	switch {
	case n > 2:
		k1 := uint32(worker)
		for k1 == uint32(worker) {
			k1 = parkMiller(seed) % n
		}
		k2 := uint32(worker)
		for k2 == uint32(worker) || k2 == k1 {
			k2 = parkMiller(seed) % n
		}
		if s.queues[k2].StealableLen() > s.queues[k1].StealableLen() {
			return s.queues[k2].Steal()
		}
		return s.queues[k1].Steal()
	case n == 2:
		return s.queues[(worker+1)%2].Steal()
	}
	return 0, false
}

// Peek reports whether any queue, overflow stacks included, holds work.
func (s *Set) Peek() bool {
	for _, q := range s.queues {
		if !q.IsEmpty() {
			return true
		}
	}
	return false
}

// parkMiller is the Park-Miller "minimal standard" generator. It
// advances seed and returns the new value. seed must not be 0.
func parkMiller(seed *uint32) uint32 {
	const (
		a = 16807
		m = 2147483647 // 2^31-1
	)
	next := uint32(uint64(*seed) * a % m)
	*seed = next
	return next
}

// InitialSeed is the starting value for a worker's steal seed.
const InitialSeed = 17
