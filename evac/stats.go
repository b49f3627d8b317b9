// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"fmt"
	"io"
	"time"

	"github.com/mythoi/g1evac/internal/sys"
)

// Stats are one worker's numbers for a pause.
type Stats struct {
	Worker int

	Elapsed     time.Duration // from state creation to flush
	StrongRoots time.Duration // spent evacuating root referents
	Termination time.Duration // spent offering termination

	TermAttempts int
	Steals       int

	Copied      uint64 // objects this worker published copies of
	CopiedBytes uint64

	AllocWasteBytes uint64 // PLAB tails that could not be returned
	UndoWasteBytes  uint64 // undone copies that could not be rewound

	// TenuringThreshold is the worker's threshold at the end of the
	// pause. It is 0 if the worker ran out of survivor space.
	TenuringThreshold uint8
}

// WasteBytes returns all bytes lost to PLAB handling.
func (st *Stats) WasteBytes() uint64 {
	return st.AllocWasteBytes + st.UndoWasteBytes
}

func printTerminationStatsHeader(w io.Writer) {
	fmt.Fprintln(w, "GC Termination Stats")
	fmt.Fprintln(w, "     elapsed  --strong roots-- -------termination------- ------waste (KiB)------")
	fmt.Fprintln(w, "thr     ms        ms      %        ms      %    attempts  total   alloc    undo")
	fmt.Fprintln(w, "--- --------- --------- ------ --------- ------ -------- ------- ------- -------")
}

func printTerminationStats(w io.Writer, st *Stats) {
	elapsed := ms(st.Elapsed)
	roots := ms(st.StrongRoots)
	term := ms(st.Termination)
	fmt.Fprintf(w, "%3d %9.2f %9.2f %6.2f %9.2f %6.2f %8d %7d %7d %7d\n",
		st.Worker, elapsed, roots, percent(roots, elapsed),
		term, percent(term, elapsed), st.TermAttempts,
		st.WasteBytes()/sys.K, st.AllocWasteBytes/sys.K, st.UndoWasteBytes/sys.K)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return part * 100 / whole
}
