// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agetable

import (
	"strings"
	"testing"
)

func TestMergeAndClear(t *testing.T) {
	var a, b Table
	a.Add(1, 100)
	a.Add(3, 10)
	b.Add(1, 50)
	b.Add(15, 7)
	a.Merge(&b)
	if a.Sizes[1] != 150 || a.Sizes[3] != 10 || a.Sizes[15] != 7 {
		t.Fatalf("merged sizes %v", a.Sizes)
	}
	if a.Total() != 167 {
		t.Fatalf("Total = %d, want 167", a.Total())
	}
	a.Clear()
	if a.Total() != 0 {
		t.Fatalf("Total after Clear = %d", a.Total())
	}
}

func TestComputeTenuringThreshold(t *testing.T) {
	tests := []struct {
		name     string
		sizes    map[uint8]uint64
		capacity uint64
		ratio    uint64
		max      uint8
		want     uint8
	}{
		{"empty", nil, 1000, 50, 15, 15},
		{"empty low max", nil, 1000, 50, 6, 6},
		{"age 1 overflows", map[uint8]uint64{1: 501}, 1000, 50, 15, 1},
		{"age 1 exactly fits", map[uint8]uint64{1: 500}, 1000, 50, 15, 15},
		{"accumulates", map[uint8]uint64{1: 200, 2: 200, 3: 200}, 1000, 50, 15, 3},
		{"age 0 ignored", map[uint8]uint64{0: 10000}, 1000, 50, 15, 15},
		{"capped", map[uint8]uint64{4: 600}, 1000, 50, 2, 2},
		{"zero capacity", map[uint8]uint64{2: 1}, 0, 50, 15, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tab Table
			for age, n := range tt.sizes {
				tab.Add(age, n)
			}
			if got := tab.ComputeTenuringThreshold(tt.capacity, tt.ratio, tt.max); got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrint(t *testing.T) {
	var tab Table
	tab.Add(1, 512)
	tab.Add(3, 64)
	var sb strings.Builder
	tab.Print(&sb, 2048, 50, 3, 15)
	want := "Desired survivor size 1024 bytes, new threshold 3 (max 15)\n" +
		"- age   1:        512 bytes,        512 total\n" +
		"- age   3:         64 bytes,        576 total\n"
	if got := sb.String(); got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}
