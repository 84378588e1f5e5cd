package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// Neighbor is a node heard directly over the radio, tracked with a staleness
// timeout.
type Neighbor struct {
	ID           comm.NodeID
	Name         string
	LastSeen     time.Time
	Signal       float64 // normalized [0,1]
	Capabilities []string
	Battery      float64 // [0,1]
	Lat, Lon     float64
	HasPosition  bool
}

// HasCapability reports whether the neighbor advertises cap.
func (n *Neighbor) HasCapability(cap string) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// RouteEntry is next-hop info derived from the neighbor set. Under the
// single-hop model the next hop is the destination itself.
type RouteEntry struct {
	Dest        comm.NodeID
	NextHop     comm.NodeID
	HopCount    int
	Reliability float64
	Updated     time.Time
}

// Table owns the neighbor set and the routing table derived from it. Only
// the mesh engine mutates it; external readers get snapshot copies.
type Table struct {
	mu         sync.RWMutex
	neighbors  map[comm.NodeID]Neighbor
	routes     map[comm.NodeID]RouteEntry
	staleAfter time.Duration
}

// NewTable creates an empty table with the given staleness window.
func NewTable(staleAfter time.Duration) *Table {
	return &Table{
		neighbors:  make(map[comm.NodeID]Neighbor),
		routes:     make(map[comm.NodeID]RouteEntry),
		staleAfter: staleAfter,
	}
}

// Upsert inserts or refreshes a neighbor from a discovery announcement and
// reports whether it was previously unknown. The route to a (re)discovered
// neighbor becomes usable immediately rather than waiting for the next
// refresh cycle.
func (t *Table) Upsert(n Neighbor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.neighbors[n.ID]
	t.neighbors[n.ID] = n
	t.routes[n.ID] = routeFor(n, n.LastSeen, t.staleAfter)
	return !known
}

// Touch refreshes a known neighbor's staleness timer. Unknown ids are
// ignored: liveness without an announcement does not create a neighbor.
func (t *Table) Touch(id comm.NodeID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.neighbors[id]
	if !ok {
		return false
	}
	if at.After(n.LastSeen) {
		n.LastSeen = at
		t.neighbors[id] = n
	}
	return true
}

// Neighbor returns a copy of one neighbor.
func (t *Table) Neighbor(id comm.NodeID) (Neighbor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.neighbors[id]
	return n, ok
}

// Neighbors returns a snapshot sorted by descending signal strength.
func (t *Table) Neighbors() []Neighbor {
	t.mu.RLock()
	out := make([]Neighbor, 0, len(t.neighbors))
	for _, n := range t.neighbors {
		out = append(out, n)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Signal != out[j].Signal {
			return out[i].Signal > out[j].Signal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Route returns the routing entry for dest, if any.
func (t *Table) Route(dest comm.NodeID) (RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[dest]
	return r, ok
}

// Routes returns a snapshot of the routing table.
func (t *Table) Routes() []RouteEntry {
	t.mu.RLock()
	out := make([]RouteEntry, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Dest < out[j].Dest })
	return out
}

// Len returns the neighbor count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.neighbors)
}

// Sweep evicts neighbors silent for longer than the staleness window, then
// recomputes the routing table from the survivors. Returns the evicted ids.
func (t *Table) Sweep(now time.Time) []comm.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []comm.NodeID
	for id, n := range t.neighbors {
		if now.Sub(n.LastSeen) > t.staleAfter {
			delete(t.neighbors, id)
			evicted = append(evicted, id)
		}
	}
	t.routes = make(map[comm.NodeID]RouteEntry, len(t.neighbors))
	for id, n := range t.neighbors {
		t.routes[id] = routeFor(n, now, t.staleAfter)
	}
	return evicted
}

// routeFor derives the single-hop route entry for a neighbor: reliability is
// the signal strength decayed by how long the neighbor has been silent
// relative to the staleness window.
func routeFor(n Neighbor, now time.Time, staleAfter time.Duration) RouteEntry {
	age := now.Sub(n.LastSeen)
	if age < 0 {
		age = 0
	}
	decay := 1.0
	if staleAfter > 0 {
		decay = 1.0 - 0.5*float64(age)/float64(staleAfter)
	}
	rel := n.Signal * decay
	if rel < 0 {
		rel = 0
	}
	return RouteEntry{
		Dest:        n.ID,
		NextHop:     n.ID,
		HopCount:    1,
		Reliability: rel,
		Updated:     now,
	}
}
