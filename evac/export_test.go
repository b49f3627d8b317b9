// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import "github.com/mythoi/g1evac/taskqueue"

// NewScanState gives tests a single worker state of p without running
// the pause.
func NewScanState(p *Pause) *ScanState {
	s := newScanState(p, len(p.states))
	p.states = append(p.states, s)
	return s
}

func (s *ScanState) Queue() *taskqueue.Queue { return s.queue }
