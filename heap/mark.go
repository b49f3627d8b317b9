// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "sync/atomic"

// Mark words.
//
// The first word of every object is its mark word. In memory it is a
// packed uint64, but everything outside this file works with the
// decoded Mark, which is one of three variants:
//
//	MarkUnlocked   age and identity hash live in the mark word itself
//	MarkDisplaced  the object is locked; its real header (age, hash)
//	               was moved into a monitor and the mark names it
//	MarkForwarded  the object was evacuated; the mark holds the copy
//
// Encoding, low two bits are the tag:
//
//	unlocked:  hash:32 | unused:1 | age:4 | unused:1 | 01
//	displaced: monitor index                          | 00
//	forwarded: forwardee address                      | 11

// MaxAge is the largest age a mark word can record.
const MaxAge = 15

const (
	markTagBits      = 2
	markTagMask      = 1<<markTagBits - 1
	markTagDisplaced = 0
	markTagUnlocked  = 1
	markTagForwarded = 3

	markAgeShift  = 3
	markAgeMask   = MaxAge
	markHashShift = 8
)

// MarkKind 标志 mark 的变体
// MarkKind selects the variant of a Mark.
type MarkKind uint8

const (
	MarkUnlocked MarkKind = iota
	MarkDisplaced
	MarkForwarded
)

// MonitorIndex is a handle for a monitor holding a displaced header.
type MonitorIndex uint32

// A Mark is the decoded mark word of an object.
type Mark struct {
	Kind MarkKind

	// Age and Hash are meaningful for MarkUnlocked.
	Age  uint8
	Hash uint32

	// Monitor is meaningful for MarkDisplaced.
	Monitor MonitorIndex

	// Forwardee is meaningful for MarkForwarded.
	Forwardee Addr
}

// PrototypeMark is the mark of a freshly allocated object.
var PrototypeMark = Mark{Kind: MarkUnlocked}

// ForwardingMark returns the mark of an object forwarded to to.
func ForwardingMark(to Addr) Mark {
	return Mark{Kind: MarkForwarded, Forwardee: to}
}

func (m Mark) IsForwarded() bool      { return m.Kind == MarkForwarded }
func (m Mark) HasDisplacedMark() bool { return m.Kind == MarkDisplaced }

// IsSelfForwarded reports whether m forwards obj to itself, which is
// how an object that failed evacuation is marked.
func (m Mark) IsSelfForwarded(obj Addr) bool {
	return m.Kind == MarkForwarded && m.Forwardee == obj
}

// WithAge returns m with its age replaced. m must be unlocked.
func (m Mark) WithAge(age uint8) Mark {
	if m.Kind != MarkUnlocked {
		panic("heap: WithAge on a mark that is not unlocked")
	}
	m.Age = age & markAgeMask
	return m
}

func (m Mark) word() uint64 {
	switch m.Kind {
	case MarkUnlocked:
		return uint64(m.Hash)<<markHashShift | uint64(m.Age&markAgeMask)<<markAgeShift | markTagUnlocked
	case MarkDisplaced:
		return uint64(m.Monitor)<<markTagBits | markTagDisplaced
	case MarkForwarded:
		return uint64(m.Forwardee)<<markTagBits | markTagForwarded
	}
	panic("heap: bad mark kind")
}

func markOf(w uint64) Mark {
	switch w & markTagMask {
	case markTagUnlocked:
		return Mark{
			Kind: MarkUnlocked,
			Age:  uint8(w>>markAgeShift) & markAgeMask,
			Hash: uint32(w >> markHashShift),
		}
	case markTagDisplaced:
		return Mark{Kind: MarkDisplaced, Monitor: MonitorIndex(w >> markTagBits)}
	case markTagForwarded:
		return Mark{Kind: MarkForwarded, Forwardee: Addr(w >> markTagBits)}
	}
	panic("heap: bad mark word")
}

// A monitor holds the header displaced by a locked object.
type monitor struct {
	header atomic.Uint64
}

// Mark loads the mark of obj.
func (h *Heap) Mark(obj Addr) Mark {
	return markOf(h.words[obj].Load())
}

// SetMark stores m as the mark of obj.
func (h *Heap) SetMark(obj Addr, m Mark) {
	h.words[obj].Store(m.word())
}

// Forwardee returns the address obj was forwarded to, if any.
func (h *Heap) Forwardee(obj Addr) (Addr, bool) {
	m := h.Mark(obj)
	if !m.IsForwarded() {
		return Nil, false
	}
	return m.Forwardee, true
}

// ForwardToAtomic 原子设置转发指针
// ForwardToAtomic tries to install a forwarding pointer to to in obj.
// It retries while the mark changes under it without being forwarded.
// If it installs the pointer it returns (to, true). If some other
// worker forwarded obj first it returns that worker's forwardee and
// false; every loser observes the same forwardee.
func (h *Heap) ForwardToAtomic(obj, to Addr) (Addr, bool) {
	fwd := ForwardingMark(to).word()
	w := &h.words[obj]
	old := w.Load()
	for old&markTagMask != markTagForwarded {
		if w.CompareAndSwap(old, fwd) {
			return to, true
		}
		old = w.Load()
	}
	return markOf(old).Forwardee, false
}

// DisplacedMark returns the header saved in the monitor named by m.
func (h *Heap) DisplacedMark(m Mark) Mark {
	if !m.HasDisplacedMark() {
		panic("heap: mark has no displaced header")
	}
	return markOf(h.monitors[m.Monitor].header.Load())
}

// SetDisplacedMark replaces the header saved in the monitor named by m.
func (h *Heap) SetDisplacedMark(m Mark, header Mark) {
	if !m.HasDisplacedMark() {
		panic("heap: mark has no displaced header")
	}
	h.monitors[m.Monitor].header.Store(header.word())
}

// MarkAge returns the age recorded for an object whose mark is m,
// following a displaced mark into its monitor.
func (h *Heap) MarkAge(m Mark) uint8 {
	if m.HasDisplacedMark() {
		return h.DisplacedMark(m).Age
	}
	return m.Age
}

// Inflate locks obj: its unlocked header moves into a new monitor
// and the object's mark is replaced by a displaced mark naming it.
// It must not be called during a pause.
func (h *Heap) Inflate(obj Addr) MonitorIndex {
	m := h.Mark(obj)
	if m.Kind != MarkUnlocked {
		panic("heap: inflating an object that is not unlocked")
	}
	mon := new(monitor)
	mon.header.Store(m.word())
	i := MonitorIndex(len(h.monitors))
	h.monitors = append(h.monitors, mon)
	h.SetMark(obj, Mark{Kind: MarkDisplaced, Monitor: i})
	return i
}
