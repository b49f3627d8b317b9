// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskqueue

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mythoi/g1evac/heap"
)

func TestRefTags(t *testing.T) {
	s := HeapSlot(0x40)
	if !s.IsHeapSlot() || s.Addr() != 0x40 {
		t.Errorf("heap slot %v", s)
	}
	r := RootSlot(0)
	if r == 0 || !r.IsRootSlot() || r.Root() != 0 {
		t.Errorf("root slot %v", r)
	}
	p := PartialArray(0x80)
	if !p.IsPartialArray() || p.Addr() != 0x80 || p.IsHeapSlot() {
		t.Errorf("partial array %v", p)
	}
	if got := p.String(); got != "partial:0x80" {
		t.Errorf("String = %q", got)
	}
}

func TestDequeOrder(t *testing.T) {
	d := NewDeque(4)
	for i := 1; i <= 4; i++ {
		if !d.PushHead(HeapSlot(heap.Addr(i))) {
			t.Fatalf("push %d failed", i)
		}
	}
	if d.PushHead(HeapSlot(5)) {
		t.Fatal("push into full deque succeeded")
	}
	if ref, ok := d.PopTail(); !ok || ref.Addr() != 1 {
		t.Fatalf("PopTail = %v, %v, want oldest", ref, ok)
	}
	if ref, ok := d.PopHead(); !ok || ref.Addr() != 4 {
		t.Fatalf("PopHead = %v, %v, want newest", ref, ok)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}
	d.PopHead()
	d.PopHead()
	if !d.IsEmpty() {
		t.Fatal("deque not empty")
	}
	if _, ok := d.PopTail(); ok {
		t.Fatal("PopTail on empty deque succeeded")
	}
}

func TestDequeSizeRoundsUp(t *testing.T) {
	if got := NewDeque(5).Cap(); got != 8 {
		t.Fatalf("Cap = %d, want 8", got)
	}
}

func TestQueueOverflow(t *testing.T) {
	q := NewQueue(2, 0)
	for i := 1; i <= 5; i++ {
		q.Push(HeapSlot(heap.Addr(i)))
	}
	if q.StealableLen() != 2 || q.OverflowLen() != 3 || q.Len() != 5 {
		t.Fatalf("deque %d overflow %d", q.StealableLen(), q.OverflowLen())
	}
	// Overflow drains LIFO.
	for _, want := range []heap.Addr{5, 4, 3} {
		ref, ok := q.PopOverflow()
		if !ok || ref.Addr() != want {
			t.Fatalf("PopOverflow = %v, %v, want %d", ref, ok, want)
		}
	}
	if _, ok := q.PopOverflow(); ok {
		t.Fatal("overflow not empty")
	}
	if q.IsEmpty() {
		t.Fatal("queue reports empty with refs in the deque")
	}
}

func TestQueueOverflowExhausted(t *testing.T) {
	q := NewQueue(1, 2)
	q.Push(HeapSlot(1))
	q.Push(HeapSlot(2))
	q.Push(HeapSlot(3))
	defer func() {
		if r := recover(); r != ErrOverflowExhausted {
			t.Fatalf("recovered %v, want ErrOverflowExhausted", r)
		}
		if q.OverflowLen() != 2 {
			t.Fatalf("overflow len = %d after failed push", q.OverflowLen())
		}
	}()
	q.Push(HeapSlot(4))
	t.Fatal("push past the overflow limit did not panic")
}

func TestOverflowNotEmptyWhileHeld(t *testing.T) {
	var s OverflowStack
	s.Push(RootSlot(1))
	if s.IsEmpty() {
		t.Fatal("empty with one ref pushed")
	}
	s.Pop()
	if !s.IsEmpty() {
		t.Fatal("not empty after popping the only ref")
	}
}

func TestStealSingleQueue(t *testing.T) {
	s := NewSet(1, 8, 0)
	s.Queue(0).Push(HeapSlot(1))
	seed := uint32(InitialSeed)
	if _, ok := s.Steal(0, &seed); ok {
		t.Fatal("stole from own queue")
	}
}

func TestStealTakesOldest(t *testing.T) {
	s := NewSet(4, 8, 0)
	q := s.Queue(2)
	q.Push(HeapSlot(10))
	q.Push(HeapSlot(11))
	seed := uint32(InitialSeed)
	ref, ok := s.Steal(0, &seed)
	if !ok || ref.Addr() != 10 {
		t.Fatalf("Steal = %v, %v, want slot 10", ref, ok)
	}
}

func TestParkMiller(t *testing.T) {
	seed := uint32(1)
	// Known first outputs of the minimal standard generator.
	for _, want := range []uint32{16807, 282475249, 1622650073} {
		if got := parkMiller(&seed); got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

// TestWorkStealingExactlyOnce runs workers that expand a binary tree
// of refs. Only worker 0 is seeded, so the others live off steals.
// Every node must be processed exactly once and the phase must end.
func TestWorkStealingExactlyOnce(t *testing.T) {
	const (
		workers = 8
		nodes   = 1 << 15
	)
	set := NewSet(workers, 64, 0)
	term := NewTerminator(workers, set)
	var counts [nodes + 1]atomic.Int32

	set.Queue(0).Push(HeapSlot(1))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			q := set.Queue(w)
			seed := uint32(InitialSeed + w)
			process := func(ref Ref) {
				k := ref.Addr()
				counts[k].Add(1)
				for _, c := range []heap.Addr{2 * k, 2*k + 1} {
					if c <= nodes {
						q.Push(HeapSlot(c))
					}
				}
			}
			trim := func() {
				for !q.IsEmpty() {
					for ref, ok := q.PopOverflow(); ok; ref, ok = q.PopOverflow() {
						process(ref)
					}
					for ref, ok := q.PopLocal(); ok; ref, ok = q.PopLocal() {
						process(ref)
					}
				}
			}
			for {
				trim()
				for ref, ok := set.Steal(w, &seed); ok; ref, ok = set.Steal(w, &seed) {
					process(ref)
					trim()
				}
				if term.OfferTermination() {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for k := 1; k <= nodes; k++ {
		if n := counts[k].Load(); n != 1 {
			t.Fatalf("node %d processed %d times", k, n)
		}
	}
	if set.Peek() {
		t.Fatal("work left after termination")
	}
}

func TestTerminatorAbort(t *testing.T) {
	set := NewSet(2, 8, 0)
	term := NewTerminator(2, set)
	done := make(chan bool)
	go func() { done <- term.OfferTermination() }()
	term.Abort()
	if !<-done {
		t.Fatal("aborted offer returned false")
	}
	if !term.Aborted() {
		t.Fatal("Aborted = false")
	}
}
