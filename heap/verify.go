// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "fmt"

// ForEachReachable calls fn once for every object reachable from the
// root slots, in depth-first order. It must not run during a pause.
func (h *Heap) ForEachReachable(fn func(obj Addr)) {
	seen := make(map[Addr]bool)
	var stack []Addr
	for _, a := range h.roots {
		if a != Nil && !seen[a] {
			seen[a] = true
			stack = append(stack, a)
		}
	}
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(obj)
		first, n := h.RefSlots(obj)
		for i := uint64(0); i < n; i++ {
			ref := h.LoadRef(first.Add(i))
			if ref != Nil && !seen[ref] {
				seen[ref] = true
				stack = append(stack, ref)
			}
		}
	}
}

// VerifyAfterEvacuation checks the heap right after a pause and
// before the collection set is reclaimed: no reachable reference may
// point into a collection set region unless its target failed
// evacuation and was forwarded to itself.
func (h *Heap) VerifyAfterEvacuation() error {
	stale := func(ref Addr) bool {
		return ref != Nil && h.CSetState(ref).IsInCSet() && !h.Mark(ref).IsSelfForwarded(ref)
	}
	for i, a := range h.roots {
		if stale(a) {
			return fmt.Errorf("heap: root %d holds stale reference %#x into %s region %d",
				i, a, h.CSetState(a), h.RegionOf(a).Index())
		}
	}
	var err error
	h.ForEachReachable(func(obj Addr) {
		if err != nil {
			return
		}
		first, n := h.RefSlots(obj)
		for i := uint64(0); i < n; i++ {
			if ref := h.LoadRef(first.Add(i)); stale(ref) {
				err = fmt.Errorf("heap: object %#x slot %d holds stale reference %#x into %s region %d",
					obj, i, ref, h.CSetState(ref), h.RegionOf(ref).Index())
				return
			}
		}
	})
	return err
}
