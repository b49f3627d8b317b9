// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package agetable records how many bytes survive at each age and
// derives the tenuring threshold for the next pause from it.
package agetable

import (
	"fmt"
	"io"

	"github.com/mythoi/g1evac/heap"
)

// Size is the number of ages a table tracks, 0 through heap.MaxAge.
const Size = heap.MaxAge + 1

// Table 年龄表 每个年龄存活的字节数
// A Table is a histogram of surviving bytes by age. Each worker owns
// one during a pause; the tables are merged once every worker is done,
// so a Table is never shared.
type Table struct {
	Sizes [Size]uint64
}

// Add records bytes surviving at age.
func (t *Table) Add(age uint8, bytes uint64) {
	t.Sizes[age] += bytes
}

// Merge adds every bucket of other into t.
func (t *Table) Merge(other *Table) {
	for i, n := range other.Sizes {
		t.Sizes[i] += n
	}
}

// Clear empties every bucket.
func (t *Table) Clear() {
	t.Sizes = [Size]uint64{}
}

// Total returns the bytes recorded across all ages.
func (t *Table) Total() uint64 {
	var n uint64
	for _, s := range t.Sizes {
		n += s
	}
	return n
}

// DesiredSurvivorSize is the number of survivor bytes the policy aims
// to keep: targetRatio percent of the survivor capacity.
func DesiredSurvivorSize(survivorCapacity, targetRatio uint64) uint64 {
	return survivorCapacity * targetRatio / 100
}

// ComputeTenuringThreshold 计算下一次暂停的晋升阈值
// ComputeTenuringThreshold returns the youngest age at which the bytes
// of ages 1 through that age exceed the desired survivor size. Objects
// that old or older get promoted in the next pause. The result is
// capped at maxThreshold.
func (t *Table) ComputeTenuringThreshold(survivorCapacity, targetRatio uint64, maxThreshold uint8) uint8 {
	desired := DesiredSurvivorSize(survivorCapacity, targetRatio)
	var total uint64
	age := uint8(1)
	for age < Size {
		total += t.Sizes[age]
		if total > desired {
			break
		}
		age++
	}
	if age > maxThreshold {
		return maxThreshold
	}
	return age
}

// Print writes the table in the form
//
//	Desired survivor size 1024 bytes, new threshold 3 (max 15)
//	- age   1:        512 bytes,        512 total
//
// Ages with no surviving bytes are skipped.
func (t *Table) Print(w io.Writer, survivorCapacity, targetRatio uint64, threshold, maxThreshold uint8) {
	fmt.Fprintf(w, "Desired survivor size %d bytes, new threshold %d (max %d)\n",
		DesiredSurvivorSize(survivorCapacity, targetRatio), threshold, maxThreshold)
	var total uint64
	for age := 1; age < Size; age++ {
		n := t.Sizes[age]
		total += n
		if n > 0 {
			fmt.Fprintf(w, "- age %3d: %10d bytes, %10d total\n", age, n, total)
		}
	}
}
