// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskqueue

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/mythoi/g1evac/internal/sys"
)

const (
	// yieldsBeforeSleep is how many times an idle worker yields
	// before it starts sleeping between checks.
	yieldsBeforeSleep = 5000

	// sleepBetweenChecks is the pause between checks after that.
	sleepBetweenChecks = time.Millisecond
)

// A Terminator decides when a group of workers sharing a Set has run
// out of work.
//
// A worker offers termination only when its own queue is empty and a
// steal round found nothing. While it waits it holds no work, so once
// every worker has offered nobody can produce more work and the phase
// is over. A waiting worker that sees work in any queue withdraws its
// offer before going back to steal it.
type Terminator struct {
	n       int32
	queues  *Set
	offered atomic.Int32

	_ sys.CacheLinePad

	aborted atomic.Bool
}

// NewTerminator returns a terminator for n workers stealing from queues.
func NewTerminator(n int, queues *Set) *Terminator {
	return &Terminator{n: int32(n), queues: queues}
}

// OfferTermination 提供终止
// 所有 worker 都提供终止时返回 true
// 发现有新的任务时撤回并返回 false
// OfferTermination blocks until either every worker has offered
// termination, in which case it returns true, or some queue holds
// work again, in which case it withdraws the offer and returns false.
// It also returns true once the phase has been aborted.
func (t *Terminator) OfferTermination() bool {
	t.offered.Add(1)
	yields := 0
	for {
		if t.offered.Load() == t.n || t.aborted.Load() {
			return true
		}
		if yields < yieldsBeforeSleep {
			yields++
			runtime.Gosched()
		} else {
			time.Sleep(sleepBetweenChecks)
		}
		if t.queues.Peek() {
			t.offered.Add(-1)
			return false
		}
	}
}

// Abort ends the phase for every worker. Used when a worker hits a
// fatal resource exhaustion and cannot finish its work.
func (t *Terminator) Abort() {
	t.aborted.Store(true)
}

// Aborted reports whether Abort was called.
func (t *Terminator) Aborted() bool {
	return t.aborted.Load()
}
