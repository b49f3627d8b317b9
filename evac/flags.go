// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mythoi/g1evac/heap"
)

// Flags tune an evacuation pause. The names follow the collector
// options they model.
type Flags struct {
	// ParGCArrayScanChunk is the number of elements of an object
	// array scanned per task. Arrays at least this long are scanned
	// in chunks that other workers can steal.
	ParGCArrayScanChunk uint64

	// ParallelGCBufferWastePct is the share of a PLAB, in percent,
	// that may be thrown away when refilling it.
	ParallelGCBufferWastePct uint64

	// YoungPLABWords and OldPLABWords are the PLAB sizes for copies
	// into survivor and old space.
	YoungPLABWords uint64
	OldPLABWords   uint64

	// MaxTenuringThreshold caps the tenuring threshold computed for
	// the next pause.
	MaxTenuringThreshold uint8

	// TargetSurvivorRatio is the percentage of survivor capacity the
	// threshold computation aims to fill.
	TargetSurvivorRatio uint64

	// TaskQueueSize is the capacity of each worker's deque.
	TaskQueueSize int

	// MaxOverflow bounds each worker's overflow stack. 0 means no
	// bound. Exceeding it aborts the pause.
	MaxOverflow int

	// StringDedup enables the string deduplication hook.
	StringDedup bool

	// EvacuationFailureALotInterval makes every Nth copy attempt of
	// each worker fail after its allocation succeeded. 0 disables it.
	EvacuationFailureALotInterval uint64

	// PrintTerminationStats prints per-worker statistics after the pause.
	PrintTerminationStats bool

	// PrintTenuringDistribution prints the merged age table.
	PrintTenuringDistribution bool
}

// DefaultFlags returns the default tuning.
func DefaultFlags() Flags {
	return Flags{
		ParGCArrayScanChunk:      50,
		ParallelGCBufferWastePct: 10,
		YoungPLABWords:           4096,
		OldPLABWords:             1024,
		MaxTenuringThreshold:     heap.MaxAge,
		TargetSurvivorRatio:      50,
		TaskQueueSize:            1 << 14,
	}
}

type flagVar struct {
	name  string
	value any // *uint64, *uint8, *int or *bool
}

func (f *Flags) vars() []flagVar {
	return []flagVar{
		{"pargcarrayscanchunk", &f.ParGCArrayScanChunk},
		{"parallelgcbufferwastepct", &f.ParallelGCBufferWastePct},
		{"youngplabwords", &f.YoungPLABWords},
		{"oldplabwords", &f.OldPLABWords},
		{"maxtenuringthreshold", &f.MaxTenuringThreshold},
		{"targetsurvivorratio", &f.TargetSurvivorRatio},
		{"taskqueuesize", &f.TaskQueueSize},
		{"maxoverflow", &f.MaxOverflow},
		{"stringdedup", &f.StringDedup},
		{"evacuationfailurealotinterval", &f.EvacuationFailureALotInterval},
		{"printterminationstats", &f.PrintTerminationStats},
		{"printtenuringdistribution", &f.PrintTenuringDistribution},
	}
}

// Parse applies settings of the form "name=value,name=value" to f,
// the way GODEBUG is parsed. Names are matched case-insensitively.
// Fields without '=' and unknown names are ignored. A malformed value
// is an error and leaves the remaining fields unparsed.
func (f *Flags) Parse(s string) error {
	vars := f.vars()
	for p := s; p != ""; {
		var field string
		field, p, _ = strings.Cut(p, ",")
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		for _, v := range vars {
			if v.name != key {
				continue
			}
			if err := setFlag(v.value, value); err != nil {
				return fmt.Errorf("evac: flag %s: %w", key, err)
			}
		}
	}
	return f.Validate()
}

func setFlag(dst any, value string) error {
	switch dst := dst.(type) {
	case *uint64:
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		*dst = n
	case *uint8:
		n, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return err
		}
		*dst = uint8(n)
	case *int:
		n, err := strconv.ParseInt(value, 0, 0)
		if err != nil {
			return err
		}
		*dst = int(n)
	case *bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*dst = b
	default:
		panic("evac: bad flag type")
	}
	return nil
}

// ParseFlags returns DefaultFlags updated by s. See Flags.Parse.
func ParseFlags(s string) (Flags, error) {
	f := DefaultFlags()
	err := f.Parse(s)
	return f, err
}

// Validate reports the first setting outside its legal range.
func (f *Flags) Validate() error {
	switch {
	case f.ParGCArrayScanChunk == 0:
		return fmt.Errorf("evac: ParGCArrayScanChunk must be positive")
	case f.ParallelGCBufferWastePct > 100:
		return fmt.Errorf("evac: ParallelGCBufferWastePct %d out of range [0, 100]", f.ParallelGCBufferWastePct)
	case f.YoungPLABWords == 0 || f.OldPLABWords == 0:
		return fmt.Errorf("evac: PLAB sizes must be positive")
	case f.MaxTenuringThreshold > heap.MaxAge:
		return fmt.Errorf("evac: MaxTenuringThreshold %d exceeds %d", f.MaxTenuringThreshold, heap.MaxAge)
	case f.TargetSurvivorRatio > 100:
		return fmt.Errorf("evac: TargetSurvivorRatio %d out of range [0, 100]", f.TargetSurvivorRatio)
	case f.TaskQueueSize <= 0:
		return fmt.Errorf("evac: TaskQueueSize must be positive")
	case f.MaxOverflow < 0:
		return fmt.Errorf("evac: MaxOverflow must not be negative")
	}
	return nil
}
