package route

import (
	"sort"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/mesh"
)

// MeshView is the read side of the mesh engine the selector consults.
type MeshView interface {
	Neighbors() []mesh.Neighbor
}

// NetPeer is one known internet-capable peer.
type NetPeer struct {
	Name         string
	Capabilities []string
}

// Selector resolves a concrete remote target for transports whose
// addressing is not implied by the recipient: the best-placed mesh neighbor,
// or a known internet peer.
type Selector struct {
	view     MeshView
	netPeers []NetPeer
}

func NewSelector(view MeshView, netPeers []NetPeer) *Selector {
	return &Selector{view: view, netPeers: netPeers}
}

// neededCapability maps a query type to the service a remote peer must
// advertise to be useful for it. Empty means any peer will do.
func neededCapability(typ comm.QueryType) string {
	switch typ {
	case comm.QueryInference:
		return "inference"
	case comm.QueryRetrieval:
		return "retrieval"
	case comm.QuerySync:
		return "sync"
	default:
		return ""
	}
}

// MeshTarget picks the best neighbor for a context: signal strength
// weighted at 0.6, capability match at 0.4, with a small bonus for a
// well-charged battery. Returns false when no neighbor qualifies; the
// caller then treats the mesh as unavailable for this context and moves to
// the next fallback.
func (s *Selector) MeshTarget(qc comm.QueryContext) (comm.NodeID, bool) {
	if s.view == nil {
		return 0, false
	}
	needed := neededCapability(qc.Type)

	type scored struct {
		id    comm.NodeID
		score float64
	}
	var candidates []scored
	for _, n := range s.view.Neighbors() {
		if needed != "" && !n.HasCapability(needed) {
			continue
		}
		// qualifying neighbors all carry the full 0.4 capability term
		sc := 0.6*n.Signal + 0.4
		if n.Battery > 0.8 {
			sc += 0.05
		}
		candidates = append(candidates, scored{id: n.ID, score: sc})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].id, true
}

// InternetTarget returns the first known peer advertising the needed
// service. Internet routing to a specific peer is not latency-critical, so
// there is no scoring here.
func (s *Selector) InternetTarget(qc comm.QueryContext) (string, bool) {
	needed := neededCapability(qc.Type)
	for _, p := range s.netPeers {
		if needed == "" || hasCap(p.Capabilities, needed) {
			return p.Name, true
		}
	}
	return "", false
}

func hasCap(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
