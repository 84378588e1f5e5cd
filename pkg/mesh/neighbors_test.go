package mesh

import (
	"math"
	"testing"
	"time"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

func TestUpsertAndTouch(t *testing.T) {
	tbl := NewTable(300 * time.Second)
	now := time.Now()
	n := Neighbor{ID: 1, Name: "a", LastSeen: now, Signal: 0.8}

	if !tbl.Upsert(n) {
		t.Fatalf("first upsert should report unknown")
	}
	if tbl.Upsert(n) {
		t.Fatalf("second upsert should report known")
	}
	if tbl.Len() != 1 {
		t.Fatalf("len = %d, want 1", tbl.Len())
	}

	later := now.Add(10 * time.Second)
	if !tbl.Touch(1, later) {
		t.Fatalf("touch of known neighbor failed")
	}
	got, ok := tbl.Neighbor(1)
	if !ok || !got.LastSeen.Equal(later) {
		t.Fatalf("touch did not refresh: %+v", got)
	}
	if tbl.Touch(99, later) {
		t.Fatalf("touch of unknown neighbor should be ignored")
	}

	// a route exists as soon as the neighbor does
	if _, ok := tbl.Route(1); !ok {
		t.Fatalf("no route after upsert")
	}
}

func TestSweepEvictsStale(t *testing.T) {
	tbl := NewTable(300 * time.Second)
	base := time.Now()
	tbl.Upsert(Neighbor{ID: 1, Name: "stale", LastSeen: base, Signal: 0.9})
	tbl.Upsert(Neighbor{ID: 2, Name: "fresh", LastSeen: base, Signal: 0.9})
	tbl.Touch(2, base.Add(200*time.Second))

	evicted := tbl.Sweep(base.Add(301 * time.Second))
	if len(evicted) != 1 || evicted[0] != comm.NodeID(1) {
		t.Fatalf("evicted = %v, want [1]", evicted)
	}
	if _, ok := tbl.Neighbor(1); ok {
		t.Fatalf("stale neighbor still present")
	}
	if _, ok := tbl.Route(1); ok {
		t.Fatalf("route to evicted neighbor still present")
	}
	if _, ok := tbl.Route(2); !ok {
		t.Fatalf("route to live neighbor lost")
	}
}

func TestSweepKeepsExactWindow(t *testing.T) {
	tbl := NewTable(300 * time.Second)
	base := time.Now()
	tbl.Upsert(Neighbor{ID: 1, LastSeen: base, Signal: 1})

	// exactly at the boundary: silence must exceed the window to evict
	if evicted := tbl.Sweep(base.Add(300 * time.Second)); len(evicted) != 0 {
		t.Fatalf("evicted at boundary: %v", evicted)
	}
	if evicted := tbl.Sweep(base.Add(300*time.Second + time.Millisecond)); len(evicted) != 1 {
		t.Fatalf("not evicted past boundary: %v", evicted)
	}
}

func TestRouteReliabilityDecays(t *testing.T) {
	tbl := NewTable(300 * time.Second)
	base := time.Now()
	tbl.Upsert(Neighbor{ID: 1, LastSeen: base, Signal: 1.0})

	r, ok := tbl.Route(1)
	if !ok || math.Abs(r.Reliability-1.0) > 1e-9 {
		t.Fatalf("fresh route reliability = %v", r.Reliability)
	}

	// half the staleness window of silence costs a quarter of the trust
	tbl.Sweep(base.Add(150 * time.Second))
	r, ok = tbl.Route(1)
	if !ok || math.Abs(r.Reliability-0.75) > 1e-9 {
		t.Fatalf("decayed reliability = %v, want 0.75", r.Reliability)
	}
	if r.HopCount != 1 || r.NextHop != comm.NodeID(1) {
		t.Fatalf("route shape changed: %+v", r)
	}
}

func TestNeighborsSortedBySignal(t *testing.T) {
	tbl := NewTable(300 * time.Second)
	now := time.Now()
	tbl.Upsert(Neighbor{ID: 3, LastSeen: now, Signal: 0.2})
	tbl.Upsert(Neighbor{ID: 1, LastSeen: now, Signal: 0.9})
	tbl.Upsert(Neighbor{ID: 2, LastSeen: now, Signal: 0.9})

	ns := tbl.Neighbors()
	if len(ns) != 3 {
		t.Fatalf("len = %d", len(ns))
	}
	if ns[0].ID != 1 || ns[1].ID != 2 || ns[2].ID != 3 {
		t.Fatalf("order = %v, %v, %v", ns[0].ID, ns[1].ID, ns[2].ID)
	}
}

func TestHasCapability(t *testing.T) {
	n := Neighbor{Capabilities: []string{"relay", "sms-gateway"}}
	if !n.HasCapability("sms-gateway") {
		t.Fatalf("capability lookup failed")
	}
	if n.HasCapability("inference") {
		t.Fatalf("phantom capability")
	}
}
