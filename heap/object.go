// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "strconv"

// Kind is the shape of an object, recorded in its klass word.
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindPlain is a fixed-layout object: refs followed by data.
	KindPlain
	// KindString is a plain object that is a deduplication candidate.
	KindString
	// KindObjArray is an array of references.
	KindObjArray
	// KindTypeArray is an array of raw data words.
	KindTypeArray
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindPlain:     "plain",
	KindString:    "string",
	KindObjArray:  "objarray",
	KindTypeArray: "typearray",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Object layout, in words from the object start.
const (
	markOffset   = 0
	klassOffset  = 1
	lengthOffset = 2

	// PlainHeaderWords is the header size of plain objects and strings.
	PlainHeaderWords = 2
	// ArrayHeaderWords is the header size of arrays (mark, klass, length).
	ArrayHeaderWords = 3
)

// klass word: kind:8 | refs:24 | data:32
const (
	klassKindMask  = 1<<8 - 1
	klassRefsShift = 8
	klassRefsMask  = 1<<24 - 1
	klassDataShift = 32

	// MaxFields bounds the reference field count of a plain object.
	MaxFields = klassRefsMask
)

func klassWord(k Kind, refs, data uint64) uint64 {
	return uint64(k) | (refs&klassRefsMask)<<klassRefsShift | data<<klassDataShift
}

// Kind returns the kind of obj.
func (h *Heap) Kind(obj Addr) Kind {
	return Kind(h.Word(obj+klassOffset) & klassKindMask)
}

// IsArray reports whether obj is an array.
func (h *Heap) IsArray(obj Addr) bool {
	k := h.Kind(obj)
	return k == KindObjArray || k == KindTypeArray
}

// IsObjArray reports whether obj is an array of references.
func (h *Heap) IsObjArray(obj Addr) bool {
	return h.Kind(obj) == KindObjArray
}

// Size 对象的字大小 包含对象头
// Size returns the size of obj in words, header included. For arrays
// it reads the length field, so it must be called on a from-space
// array whose length has not been repurposed as a scan index.
func (h *Heap) Size(obj Addr) uint64 {
	kw := h.Word(obj + klassOffset)
	switch Kind(kw & klassKindMask) {
	case KindPlain, KindString:
		return PlainHeaderWords + (kw>>klassRefsShift)&klassRefsMask + kw>>klassDataShift
	case KindObjArray, KindTypeArray:
		return ArrayHeaderWords + h.ArrayLength(obj)
	}
	panic("heap: size of object with bad klass at " + strconv.FormatUint(uint64(obj), 10))
}

// ArrayLength returns the length field of the array obj.
func (h *Heap) ArrayLength(obj Addr) uint64 {
	return h.Word(obj + lengthOffset)
}

// SetArrayLength overwrites the length field of the array obj.
func (h *Heap) SetArrayLength(obj Addr, n uint64) {
	h.SetWord(obj+lengthOffset, n)
}

// RefSlots returns the first reference slot of obj and the number of
// reference slots. Type arrays have none.
func (h *Heap) RefSlots(obj Addr) (first Addr, n uint64) {
	kw := h.Word(obj + klassOffset)
	switch Kind(kw & klassKindMask) {
	case KindPlain, KindString:
		return obj + PlainHeaderWords, (kw >> klassRefsShift) & klassRefsMask
	case KindObjArray:
		return obj + ArrayHeaderWords, h.ArrayLength(obj)
	}
	return Nil, 0
}

// ElementSlot returns the slot of element i of the array obj.
func (h *Heap) ElementSlot(obj Addr, i uint64) Addr {
	return obj.Add(ArrayHeaderWords + i)
}

// Field returns reference field i of the plain object obj.
func (h *Heap) Field(obj Addr, i uint64) Addr {
	return h.LoadRef(obj.Add(PlainHeaderWords + i))
}

// SetField stores ref in reference field i of the plain object obj.
func (h *Heap) SetField(obj Addr, i uint64, ref Addr) {
	h.StoreRef(obj.Add(PlainHeaderWords+i), ref)
}

// Element returns element i of the array obj.
func (h *Heap) Element(obj Addr, i uint64) Addr {
	return h.LoadRef(h.ElementSlot(obj, i))
}

// SetElement stores ref as element i of the array obj.
func (h *Heap) SetElement(obj Addr, i uint64, ref Addr) {
	h.StoreRef(h.ElementSlot(obj, i), ref)
}

// dataSlot returns the address of data word i of obj.
func (h *Heap) dataSlot(obj Addr, i uint64) Addr {
	kw := h.Word(obj + klassOffset)
	switch Kind(kw & klassKindMask) {
	case KindPlain, KindString:
		return obj.Add(PlainHeaderWords + (kw>>klassRefsShift)&klassRefsMask + i)
	case KindTypeArray:
		return obj.Add(ArrayHeaderWords + i)
	}
	panic("heap: object has no data words")
}

// Data returns data word i of obj.
func (h *Heap) Data(obj Addr, i uint64) uint64 {
	return h.Word(h.dataSlot(obj, i))
}

// SetData stores v as data word i of obj.
func (h *Heap) SetData(obj Addr, i uint64, v uint64) {
	h.SetWord(h.dataSlot(obj, i), v)
}

// Object builders. They carve objects out of r with a plain bump and
// are meant for setting up a heap before a pause.

func (h *Heap) newObject(r *Region, words uint64, klass uint64) (Addr, error) {
	obj := r.ParAllocate(words)
	if obj == Nil {
		return Nil, ErrRegionFull
	}
	for a := obj; a < obj.Add(words); a++ {
		h.SetWord(a, 0)
	}
	h.SetMark(obj, PrototypeMark)
	h.SetWord(obj+klassOffset, klass)
	return obj, nil
}

// NewObject allocates a plain object with refs reference fields and
// data raw words in r.
func (h *Heap) NewObject(r *Region, refs, data uint64) (Addr, error) {
	if refs > MaxFields {
		panic("heap: too many fields")
	}
	return h.newObject(r, PlainHeaderWords+refs+data, klassWord(KindPlain, refs, data))
}

// NewString allocates a string object holding data raw words in r.
func (h *Heap) NewString(r *Region, data uint64) (Addr, error) {
	return h.newObject(r, PlainHeaderWords+data, klassWord(KindString, 0, data))
}

// NewObjArray allocates an array of n references in r.
func (h *Heap) NewObjArray(r *Region, n uint64) (Addr, error) {
	obj, err := h.newObject(r, ArrayHeaderWords+n, klassWord(KindObjArray, 0, 0))
	if err == nil {
		h.SetArrayLength(obj, n)
	}
	return obj, err
}

// NewTypeArray allocates an array of n raw words in r.
func (h *Heap) NewTypeArray(r *Region, n uint64) (Addr, error) {
	obj, err := h.newObject(r, ArrayHeaderWords+n, klassWord(KindTypeArray, 0, 0))
	if err == nil {
		h.SetArrayLength(obj, n)
	}
	return obj, err
}

// NewHumongous allocates a type array of n words in a fresh humongous
// region. The object must fit in one region.
func (h *Heap) NewHumongous(n uint64) (Addr, error) {
	if ArrayHeaderWords+n > h.regionWords {
		return Nil, ErrRegionFull
	}
	r, err := h.AllocateRegion(RegionHumongous)
	if err != nil {
		return Nil, err
	}
	return h.NewTypeArray(r, n)
}
