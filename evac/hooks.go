// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import "github.com/mythoi/g1evac/heap"

// Hooks are the calls the engine makes to the rest of the collector.
// Any of them may be nil. They are called from every worker at once
// and must be safe for concurrent use.
type Hooks struct {
	// EnqueueCard is called when slot, in a region that is not
	// young, now refers to obj in a different region. The collector
	// logs the card covering slot for remembered set refinement.
	EnqueueCard func(worker int, slot, obj heap.Addr)

	// StringDedup is called for every string object a worker copied
	// when Flags.StringDedup is set. obj is the new copy.
	StringDedup func(fromYoung, toYoung bool, worker int, obj heap.Addr)

	// EvacFailure is called once per region, by the worker that
	// first failed to evacuate one of its objects.
	EvacFailure func(r *heap.Region)
}
