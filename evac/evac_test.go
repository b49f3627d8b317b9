// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evac_test

import (
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mythoi/g1evac/evac"
	"github.com/mythoi/g1evac/heap"
	"github.com/mythoi/g1evac/internal/sys"
)

// testHeap builds object graphs for a pause.
type testHeap struct {
	t     *testing.T
	h     *heap.Heap
	eden  *heap.Region
	cset  []*heap.Region
	ages  map[heap.Addr]uint8
	young map[heap.Addr]bool
}

func newTestHeap(t *testing.T, regionWords uint64, regions int) *testHeap {
	t.Helper()
	h, err := heap.New(heap.Config{RegionWords: regionWords, Regions: regions})
	if err != nil {
		t.Fatal(err)
	}
	th := &testHeap{t: t, h: h}
	// Region 0 starts at word 1; keep it out of the way.
	th.region(heap.RegionOld)
	return th
}

func (th *testHeap) region(typ heap.RegionType) *heap.Region {
	th.t.Helper()
	r, err := th.h.AllocateRegion(typ)
	if err != nil {
		th.t.Fatal(err)
	}
	return r
}

// csetRegion takes a region of type typ that joins the collection set
// when the pause is started.
func (th *testHeap) csetRegion(typ heap.RegionType) *heap.Region {
	r := th.region(typ)
	th.cset = append(th.cset, r)
	return r
}

// alloc calls f on the current eden region, moving to a fresh one
// when it is full.
func (th *testHeap) alloc(f func(r *heap.Region) (heap.Addr, error)) heap.Addr {
	th.t.Helper()
	if th.eden != nil {
		if obj, err := f(th.eden); err == nil {
			return obj
		}
	}
	th.eden = th.csetRegion(heap.RegionEden)
	obj, err := f(th.eden)
	if err != nil {
		th.t.Fatal(err)
	}
	return obj
}

func (th *testHeap) object(r *heap.Region, refs, data uint64) heap.Addr {
	th.t.Helper()
	obj, err := th.h.NewObject(r, refs, data)
	if err != nil {
		th.t.Fatal(err)
	}
	return obj
}

func (th *testHeap) pause(cfg evac.Config) *evac.Pause {
	th.t.Helper()
	for _, r := range th.cset {
		th.h.AddToCollectionSet(r)
	}
	th.cset = nil
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Flags == (evac.Flags{}) {
		cfg.Flags = evac.DefaultFlags()
	}
	p, err := evac.NewPause(th.h, cfg)
	if err != nil {
		th.t.Fatal(err)
	}
	return p
}

func run(t *testing.T, p *evac.Pause) *evac.Result {
	t.Helper()
	res, err := p.Run()
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// Single worker, three young roots of age 0, threshold 2: everything
// lands in survivor space at age 1.
func TestThreeRootsToSurvivor(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	eden := th.csetRegion(heap.RegionEden)
	var objs []heap.Addr
	for i := 0; i < 3; i++ {
		obj := th.object(eden, 0, 2)
		h.SetData(obj, 0, uint64(100+i))
		h.AddRoot(obj)
		objs = append(objs, obj)
	}
	res := run(t, th.pause(evac.Config{TenuringThreshold: 2}))

	if res.FailedRegions != 0 {
		t.Fatalf("FailedRegions = %d, want 0", res.FailedRegions)
	}
	for i := range objs {
		obj := h.Root(heap.RootIndex(i))
		if r := h.RegionOf(obj); r.Type() != heap.RegionSurvivor {
			t.Errorf("root %d copied into %v region", i, r.Type())
		}
		if m := h.Mark(obj); m.Kind != heap.MarkUnlocked || m.Age != 1 {
			t.Errorf("root %d mark %+v, want unlocked age 1", i, m)
		}
		if got := h.Data(obj, 0); got != uint64(100+i) {
			t.Errorf("root %d data %d, want %d", i, got, 100+i)
		}
		if fwd, ok := h.Forwardee(objs[i]); !ok || fwd != obj {
			t.Errorf("original %d forwarded to %#x, %v", i, fwd, ok)
		}
	}
	want := sys.WordsToBytes(3 * (heap.PlainHeaderWords + 2))
	if got := res.AgeTable.Sizes[1]; got != want {
		t.Fatalf("age table bucket 1 = %d, want %d", got, want)
	}
	if res.AgeTable.Total() != want {
		t.Fatalf("age table holds %d bytes outside bucket 1", res.AgeTable.Total()-want)
	}
	if res.SurvivingYoungWords[0] != 12 {
		t.Fatalf("SurvivingYoungWords = %v, want [12]", res.SurvivingYoungWords)
	}
	if res.TenuringThreshold != heap.MaxAge {
		t.Fatalf("next threshold %d, want %d", res.TenuringThreshold, heap.MaxAge)
	}
}

// Survivor space fits two of three objects: the third is promoted and
// the worker stops using survivor space.
func TestSurvivorOverflowPromotes(t *testing.T) {
	th := newTestHeap(t, 128, 8)
	h := th.h
	// 50-word objects; two per eden region.
	a := th.csetRegion(heap.RegionEden)
	b := th.csetRegion(heap.RegionEden)
	for _, r := range []*heap.Region{a, a, b} {
		h.AddRoot(th.object(r, 0, 48))
	}
	p := th.pause(evac.Config{TenuringThreshold: 15, MaxSurvivorRegions: 1})
	res := run(t, p)

	var survivor, old int
	for i := 0; i < h.NumRoots(); i++ {
		switch typ := h.RegionOf(h.Root(heap.RootIndex(i))).Type(); typ {
		case heap.RegionSurvivor:
			survivor++
		case heap.RegionOld:
			old++
			if age := h.Mark(h.Root(heap.RootIndex(i))).Age; age != 0 {
				t.Errorf("promoted object has age %d, want 0", age)
			}
		default:
			t.Errorf("root %d in %v region", i, typ)
		}
	}
	if survivor != 2 || old != 1 {
		t.Fatalf("survivor %d old %d, want 2 and 1", survivor, old)
	}
	if got := res.Workers[0].TenuringThreshold; got != 0 {
		t.Fatalf("worker threshold %d, want 0", got)
	}
	if res.FailedRegions != 0 {
		t.Fatalf("FailedRegions = %d", res.FailedRegions)
	}
	if got := res.AgeTable.Sizes[1]; got != sys.WordsToBytes(100) {
		t.Fatalf("age table bucket 1 = %d, want %d", got, sys.WordsToBytes(100))
	}
}

// No space at all: both workers race to self-forward the same object.
// The region is flagged once and the object stays in place.
func TestEvacuationFailure(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		h, err := heap.New(heap.Config{RegionWords: 64, Regions: 1})
		if err != nil {
			t.Fatal(err)
		}
		eden, _ := h.AllocateRegion(heap.RegionEden)
		child, _ := h.NewObject(eden, 0, 1)
		obj, _ := h.NewObject(eden, 1, 1)
		h.SetField(obj, 0, child)
		orig := heap.Mark{Kind: heap.MarkUnlocked, Age: 3, Hash: 42}
		h.SetMark(obj, orig)
		h.AddRoot(obj)
		h.AddRoot(obj)
		h.AddToCollectionSet(eden)

		var hooked atomic.Int32
		p, err := evac.NewPause(h, evac.Config{
			Workers:           2,
			Flags:             evac.DefaultFlags(),
			TenuringThreshold: 15,
			Hooks: evac.Hooks{
				EvacFailure: func(r *heap.Region) {
					if r != eden {
						t.Errorf("failure hook for region %d", r.Index())
					}
					hooked.Add(1)
				},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		res := run(t, p)

		if res.FailedRegions != 1 || hooked.Load() != 1 {
			t.Fatalf("FailedRegions %d, hook calls %d, want 1 and 1", res.FailedRegions, hooked.Load())
		}
		if !eden.EvacuationFailed() {
			t.Fatal("region not flagged")
		}
		if h.Root(0) != obj || h.Root(1) != obj {
			t.Fatalf("roots moved to %#x %#x", h.Root(0), h.Root(1))
		}
		if !h.Mark(obj).IsSelfForwarded(obj) || !h.Mark(child).IsSelfForwarded(child) {
			t.Fatal("objects not self-forwarded")
		}
		if err := h.VerifyAfterEvacuation(); err != nil {
			t.Fatal(err)
		}
		if res.PreservedMarks != 2 {
			t.Fatalf("PreservedMarks = %d, want 2", res.PreservedMarks)
		}
		if n := p.RestorePreservedMarks(); n != 2 {
			t.Fatalf("restored %d marks, want 2", n)
		}
		if m := h.Mark(obj); m != orig {
			t.Fatalf("restored mark %+v, want %+v", m, orig)
		}
		if st := h.ReclaimCollectionSet(); st.Retained != 1 || st.Freed != 0 {
			t.Fatalf("reclaim %+v", st)
		}
		if eden.Type() != heap.RegionOld {
			t.Fatalf("failed region became %v, want old", eden.Type())
		}
	}
}

func TestSingleWinner(t *testing.T) {
	for iter := 0; iter < 20; iter++ {
		th := newTestHeap(t, 256, 16)
		h := th.h
		obj := th.object(th.csetRegion(heap.RegionEden), 0, 1)
		for i := 0; i < 64; i++ {
			h.AddRoot(obj)
		}
		res := run(t, th.pause(evac.Config{Workers: 8, TenuringThreshold: 15}))
		if res.Copied() != 1 {
			t.Fatalf("copied %d times", res.Copied())
		}
		fwd, _ := h.Forwardee(obj)
		for i := 0; i < h.NumRoots(); i++ {
			if got := h.Root(heap.RootIndex(i)); got != fwd {
				t.Fatalf("root %d = %#x, want %#x", i, got, fwd)
			}
		}
	}
}

func TestDisplacedMarkCopy(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	obj := th.object(th.csetRegion(heap.RegionEden), 0, 1)
	h.SetMark(obj, heap.PrototypeMark.WithAge(2))
	mon := h.Inflate(obj)
	h.AddRoot(obj)
	run(t, th.pause(evac.Config{TenuringThreshold: 15}))

	to := h.Root(0)
	m := h.Mark(to)
	if m.Kind != heap.MarkDisplaced || m.Monitor != mon {
		t.Fatalf("copy mark %+v, want displaced into monitor %d", m, mon)
	}
	if age := h.MarkAge(m); age != 3 {
		t.Fatalf("displaced age %d, want 3", age)
	}
}

func TestOldRegionsStayOld(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	obj := th.object(th.csetRegion(heap.RegionOld), 0, 1)
	h.SetMark(obj, heap.PrototypeMark.WithAge(1))
	h.AddRoot(obj)
	res := run(t, th.pause(evac.Config{TenuringThreshold: 15}))

	to := h.Root(0)
	if typ := h.RegionOf(to).Type(); typ != heap.RegionOld {
		t.Fatalf("old object copied into %v region", typ)
	}
	if age := h.Mark(to).Age; age != 1 {
		t.Fatalf("age %d, want 1 unchanged", age)
	}
	if res.AgeTable.Total() != 0 {
		t.Fatal("old copy recorded in the age table")
	}
	if len(res.SurvivingYoungWords) != 0 {
		t.Fatalf("SurvivingYoungWords = %v for an old-only collection set", res.SurvivingYoungWords)
	}
}

func TestHumongousLiveness(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	live, err := h.NewHumongous(100)
	if err != nil {
		t.Fatal(err)
	}
	dead, err := h.NewHumongous(100)
	if err != nil {
		t.Fatal(err)
	}
	h.AddToCollectionSet(h.RegionOf(live))
	h.AddToCollectionSet(h.RegionOf(dead))

	holder := th.object(th.csetRegion(heap.RegionEden), 1, 0)
	h.SetField(holder, 0, live)
	h.AddRoot(holder)
	run(t, th.pause(evac.Config{TenuringThreshold: 15}))

	if h.Field(h.Root(0), 0) != live {
		t.Fatal("humongous object moved")
	}
	if !h.RegionOf(live).HumongousLive() || h.RegionOf(dead).HumongousLive() {
		t.Fatal("wrong humongous liveness")
	}
	if st := h.ReclaimCollectionSet(); st.HumongousFreed != 1 || st.Freed != 1 {
		t.Fatalf("reclaim %+v, want one humongous and one eden region freed", st)
	}
}

// A promoted object pointing at a survivor gets its slot logged.
func TestRememberedSetHook(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	eden := th.csetRegion(heap.RegionEden)
	young := th.object(eden, 0, 1)
	aged := th.object(eden, 1, 0)
	h.SetMark(aged, heap.PrototypeMark.WithAge(1))
	h.SetField(aged, 0, young)
	h.AddRoot(aged)

	type card struct{ slot, obj heap.Addr }
	var (
		mu    sync.Mutex
		cards []card
	)
	res := run(t, th.pause(evac.Config{
		TenuringThreshold: 1,
		Hooks: evac.Hooks{
			EnqueueCard: func(worker int, slot, obj heap.Addr) {
				mu.Lock()
				cards = append(cards, card{slot, obj})
				mu.Unlock()
			},
		},
	}))

	to := h.Root(0)
	if typ := h.RegionOf(to).Type(); typ != heap.RegionOld {
		t.Fatalf("aged object in %v region", typ)
	}
	youngTo := h.Field(to, 0)
	if typ := h.RegionOf(youngTo).Type(); typ != heap.RegionSurvivor {
		t.Fatalf("young object in %v region", typ)
	}
	want := []card{{to + heap.PlainHeaderWords, youngTo}}
	if !reflect.DeepEqual(cards, want) {
		t.Fatalf("cards %v, want %v", cards, want)
	}
	if res.Workers[0].Copied != 2 {
		t.Fatalf("copied %d", res.Workers[0].Copied)
	}
}

func TestStringDedupHook(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		th := newTestHeap(t, 256, 8)
		h := th.h
		str, err := h.NewString(th.csetRegion(heap.RegionEden), 3)
		if err != nil {
			t.Fatal(err)
		}
		plain := th.object(th.eden0(), 0, 3)
		h.AddRoot(str)
		h.AddRoot(plain)

		var calls []heap.Addr
		flags := evac.DefaultFlags()
		flags.StringDedup = enabled
		run(t, th.pause(evac.Config{
			Flags:             flags,
			TenuringThreshold: 15,
			Hooks: evac.Hooks{
				StringDedup: func(fromYoung, toYoung bool, worker int, obj heap.Addr) {
					if !fromYoung || !toYoung || worker != 0 {
						t.Errorf("hook args %v %v %d", fromYoung, toYoung, worker)
					}
					calls = append(calls, obj)
				},
			},
		}))
		want := 0
		if enabled {
			want = 1
		}
		if len(calls) != want {
			t.Fatalf("enabled=%v: %d hook calls, want %d", enabled, len(calls), want)
		}
		if enabled && calls[0] != h.Root(0) {
			t.Fatalf("hook saw %#x, want the copy %#x", calls[0], h.Root(0))
		}
	}
}

// eden0 returns the last collection set region taken.
func (th *testHeap) eden0() *heap.Region {
	return th.cset[len(th.cset)-1]
}

// Large arrays are scanned in chunks whose union is exactly [0, len).
func TestPartialArrayChunks(t *testing.T) {
	const length = 237
	th := newTestHeap(t, 512, 8)
	h := th.h
	arr, err := h.NewObjArray(th.csetRegion(heap.RegionEden), length)
	if err != nil {
		t.Fatal(err)
	}
	p := th.pause(evac.Config{TenuringThreshold: 15})
	s := evac.NewScanState(p)

	to := s.CopyToSurvivorSpace(heap.Young, arr, h.Mark(arr))
	if h.ArrayLength(to) != 0 {
		t.Fatalf("copy length %d before scanning, want 0", h.ArrayLength(to))
	}
	var covered [length]int
	var chunks [][2]uint64
	q := s.Queue()
	for ref, ok := q.PopLocal(); ok; ref, ok = q.PopLocal() {
		if !ref.IsPartialArray() || ref.Addr() != arr {
			t.Fatalf("unexpected ref %v", ref)
		}
		start := h.ArrayLength(to)
		s.Dispatch(ref)
		end := h.ArrayLength(to)
		chunks = append(chunks, [2]uint64{start, end})
		for i := start; i < end; i++ {
			covered[i]++
		}
	}
	for i, n := range covered {
		if n != 1 {
			t.Fatalf("index %d scanned %d times (chunks %v)", i, n, chunks)
		}
	}
	want := [][2]uint64{{0, 50}, {50, 100}, {100, 150}, {150, length}}
	if !reflect.DeepEqual(chunks, want) {
		t.Fatalf("chunks %v, want %v", chunks, want)
	}
	if h.ArrayLength(to) != length {
		t.Fatalf("copy length %d after scanning, want %d", h.ArrayLength(to), length)
	}
}

func TestShortArrayScannedInline(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	eden := th.csetRegion(heap.RegionEden)
	arr, _ := h.NewObjArray(eden, 49)
	elem := th.object(eden, 0, 1)
	h.SetElement(arr, 48, elem)
	h.AddRoot(arr)
	run(t, th.pause(evac.Config{TenuringThreshold: 15}))

	to := h.Root(0)
	if h.ArrayLength(to) != 49 {
		t.Fatalf("length %d", h.ArrayLength(to))
	}
	if got := h.Element(to, 48); got == elem || h.RegionOf(got).Type() != heap.RegionSurvivor {
		t.Fatalf("element not evacuated: %#x", got)
	}
}

func TestOverflowExhaustionAborts(t *testing.T) {
	th := newTestHeap(t, 1024, 8)
	h := th.h
	eden := th.csetRegion(heap.RegionEden)
	// Far more fields than a thief could drain while they are pushed.
	obj := th.object(eden, 100, 0)
	for i := uint64(0); i < 100; i++ {
		h.SetField(obj, i, th.object(eden, 0, 1))
	}
	h.AddRoot(obj)
	flags := evac.DefaultFlags()
	flags.TaskQueueSize = 1
	flags.MaxOverflow = 1
	p := th.pause(evac.Config{Workers: 2, Flags: flags, TenuringThreshold: 15})
	_, err := p.Run()
	if !errors.Is(err, evac.ErrOverflowExhausted) {
		t.Fatalf("Run error %v, want ErrOverflowExhausted", err)
	}
	if _, err := p.Run(); err == nil {
		t.Fatal("second Run succeeded")
	}
}

func TestEvacuationFailureALotUndoes(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	eden := th.csetRegion(heap.RegionEden)
	var objs []heap.Addr
	for i := 0; i < 4; i++ {
		obj := th.object(eden, 0, 1)
		h.AddRoot(obj)
		objs = append(objs, obj)
	}
	flags := evac.DefaultFlags()
	flags.EvacuationFailureALotInterval = 2
	p := th.pause(evac.Config{Flags: flags, TenuringThreshold: 15})
	res := run(t, p)

	if res.Copied() != 2 || res.PreservedMarks != 2 {
		t.Fatalf("copied %d preserved %d, want 2 and 2", res.Copied(), res.PreservedMarks)
	}
	if res.FailedRegions != 1 {
		t.Fatalf("FailedRegions = %d, want 1", res.FailedRegions)
	}
	// Every failed copy was the last PLAB allocation, so undo rewound it.
	if res.Workers[0].UndoWasteBytes != 0 {
		t.Fatalf("undo waste %d bytes", res.Workers[0].UndoWasteBytes)
	}
	if used := p.Survivor().UsedWords(); used != 2*3 {
		t.Fatalf("survivor holds %d words, want %d", used, 2*3)
	}
	if err := h.VerifyAfterEvacuation(); err != nil {
		t.Fatal(err)
	}
}

func TestTerminationStatsOutput(t *testing.T) {
	th := newTestHeap(t, 256, 8)
	h := th.h
	h.AddRoot(th.object(th.csetRegion(heap.RegionEden), 0, 1))
	var out strings.Builder
	flags := evac.DefaultFlags()
	flags.PrintTerminationStats = true
	flags.PrintTenuringDistribution = true
	run(t, th.pause(evac.Config{Workers: 3, Flags: flags, TenuringThreshold: 15, Output: &out}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if lines[0] != "GC Termination Stats" {
		t.Fatalf("first line %q", lines[0])
	}
	// 4 header lines, 3 workers, desired size line, one age line.
	if len(lines) != 4+3+2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[4], "  0 ") || !strings.HasPrefix(lines[6], "  2 ") {
		t.Fatalf("worker rows:\n%s", strings.Join(lines[4:7], "\n"))
	}
	if !strings.HasPrefix(lines[7], "Desired survivor size ") || !strings.HasPrefix(lines[8], "- age   1:") {
		t.Fatalf("age table:\n%s", strings.Join(lines[7:], "\n"))
	}
}

// graph is a random object graph of nodes, plain objects with two
// fields and an id. Field 0 may hold an object array of nodes, field
// 1 a node.
type graph struct {
	th    *testHeap
	nodes []heap.Addr
}

func buildGraph(th *testHeap, rng *rand.Rand, n int, oldShare float64) *graph {
	h := th.h
	g := &graph{th: th}
	oldCSet := th.csetRegion(heap.RegionOld)
	th.ages = make(map[heap.Addr]uint8)
	th.young = make(map[heap.Addr]bool)
	for id := 1; id <= n; id++ {
		var obj heap.Addr
		if rng.Float64() < oldShare {
			var err error
			if obj, err = h.NewObject(oldCSet, 2, 1); err != nil {
				oldCSet = th.csetRegion(heap.RegionOld)
				obj = th.object(oldCSet, 2, 1)
			}
		} else {
			obj = th.alloc(func(r *heap.Region) (heap.Addr, error) { return h.NewObject(r, 2, 1) })
			th.young[obj] = true
		}
		h.SetData(obj, 0, uint64(id))
		age := uint8(rng.Intn(4))
		h.SetMark(obj, heap.PrototypeMark.WithAge(age))
		if id%50 == 0 {
			h.Inflate(obj)
		}
		th.ages[obj] = age
		g.nodes = append(g.nodes, obj)
	}
	pick := func() heap.Addr {
		if rng.Intn(5) == 0 {
			return heap.Nil
		}
		return g.nodes[rng.Intn(n)]
	}
	for _, obj := range g.nodes {
		h.SetField(obj, 1, pick())
		if rng.Intn(8) == 0 {
			length := uint64(rng.Intn(200))
			arr := th.alloc(func(r *heap.Region) (heap.Addr, error) { return h.NewObjArray(r, length) })
			th.young[arr] = true
			for i := uint64(0); i < length; i++ {
				h.SetElement(arr, i, pick())
			}
			h.SetField(obj, 0, arr)
		}
	}
	for i := 0; i < 40; i++ {
		h.AddRoot(g.nodes[rng.Intn(n)])
	}
	return g
}

// snapshot describes the reachable graph by node ids: for each node,
// the id in field 1 followed by the ids in its array, -1 for nil.
func snapshot(h *heap.Heap) (shape map[uint64][]int64, objects int, words uint64) {
	shape = make(map[uint64][]int64)
	id := func(obj heap.Addr) int64 {
		if obj == heap.Nil {
			return -1
		}
		return int64(h.Data(obj, 0))
	}
	h.ForEachReachable(func(obj heap.Addr) {
		objects++
		words += h.Size(obj)
		if h.Kind(obj) != heap.KindPlain {
			return
		}
		s := []int64{id(h.Field(obj, 1))}
		if arr := h.Field(obj, 0); arr != heap.Nil {
			for i := uint64(0); i < h.ArrayLength(arr); i++ {
				s = append(s, id(h.Element(arr, i)))
			}
		}
		shape[uint64(id(obj))] = s
	})
	return shape, objects, words
}

func TestRandomGraph(t *testing.T) {
	for _, tt := range []struct {
		name     string
		workers  int
		failALot uint64
	}{
		{"one worker", 1, 0},
		{"eight workers", 8, 0},
		{"eight workers failing", 8, 7},
	} {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHeap(t, 1024, 256)
			h := th.h
			rng := rand.New(rand.NewSource(1))
			buildGraph(th, rng, 3000, 0.1)

			ages := make(map[uint64]uint8)
			young := make(map[uint64]bool)
			var youngWords uint64
			h.ForEachReachable(func(obj heap.Addr) {
				if th.young[obj] {
					youngWords += h.Size(obj)
				}
				if h.Kind(obj) == heap.KindPlain {
					id := h.Data(obj, 0)
					ages[id] = h.MarkAge(h.Mark(obj))
					young[id] = th.young[obj]
				}
			})
			before, objects, words := snapshot(h)

			flags := evac.DefaultFlags()
			flags.YoungPLABWords = 256
			flags.OldPLABWords = 256
			flags.EvacuationFailureALotInterval = tt.failALot
			var cards atomic.Int64
			p := th.pause(evac.Config{
				Workers:           tt.workers,
				Flags:             flags,
				TenuringThreshold: 2,
				Hooks: evac.Hooks{
					EnqueueCard: func(int, heap.Addr, heap.Addr) { cards.Add(1) },
				},
			})
			res := run(t, p)

			if err := h.VerifyAfterEvacuation(); err != nil {
				t.Fatal(err)
			}
			if got := res.Copied() + uint64(res.PreservedMarks); got != uint64(objects) {
				t.Fatalf("copied %d + failed %d objects, want %d reachable", res.Copied(), res.PreservedMarks, objects)
			}
			if tt.failALot == 0 {
				if res.FailedRegions != 0 {
					t.Fatalf("FailedRegions = %d", res.FailedRegions)
				}
				var copied, surviving uint64
				for _, st := range res.Workers {
					copied += st.CopiedBytes
				}
				for _, w := range res.SurvivingYoungWords {
					surviving += w
				}
				if copied != sys.WordsToBytes(words) || surviving != youngWords {
					t.Fatalf("copied %d bytes, young %d words; want %d bytes, %d words",
						copied, surviving, sys.WordsToBytes(words), youngWords)
				}
			} else if res.FailedRegions == 0 {
				t.Fatal("no region failed")
			}
			if cards.Load() == 0 {
				t.Fatal("no remembered set updates for promoted objects")
			}

			p.RestorePreservedMarks()
			h.ReclaimCollectionSet()

			after, _, _ := snapshot(h)
			if !reflect.DeepEqual(before, after) {
				t.Fatal("object graph changed shape")
			}
			h.ForEachReachable(func(obj heap.Addr) {
				if h.Kind(obj) != heap.KindPlain {
					return
				}
				id := h.Data(obj, 0)
				age := h.MarkAge(h.Mark(obj))
				switch typ := h.RegionOf(obj).Type(); typ {
				case heap.RegionSurvivor:
					want := ages[id] + 1
					if !young[id] || age != want {
						t.Errorf("node %d: survivor age %d, want %d (young %v)", id, age, want, young[id])
					}
				case heap.RegionOld:
					if age != ages[id] {
						t.Errorf("node %d: old age %d, want %d", id, age, ages[id])
					}
				default:
					t.Errorf("node %d in %v region", id, typ)
				}
			})
		})
	}
}
