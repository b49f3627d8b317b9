// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys holds the machine constants and the fatal error
// plumbing shared by every evacuation package.
package sys

import "golang.org/x/sys/cpu"

const (
	// HeapWordSize 堆字 字节大小
	// HeapWordSize is the size in bytes of one heap word. Every size
	// the engine deals with (object sizes, PLAB sizes, region sizes)
	// is measured in heap words.
	HeapWordSize = 8

	// LogHeapWordSize is log2(HeapWordSize).
	LogHeapWordSize = 3

	// K is one kibibyte, used when printing waste statistics.
	K = 1024
)

// CacheLinePad 防止伪共享
// CacheLinePad is placed between structures that are written by
// different workers so they never share a cache line.
type CacheLinePad = cpu.CacheLinePad

// A FatalError is an unrecoverable invariant violation. It is raised
// by Throw and is never expected to be recovered in production.
type FatalError string

func (e FatalError) Error() string {
	return "fatal error: " + string(e)
}

// Throw 致命错误 直接 panic
// Throw reports a broken invariant. It panics with a FatalError.
func Throw(s string) {
	panic(FatalError(s))
}

// WordsToBytes converts a heap word count to bytes.
func WordsToBytes(words uint64) uint64 {
	return words << LogHeapWordSize
}
