// Package comm defines the shared vocabulary of the communication fabric:
// transport layers, capability profiles, query contexts and routing decisions.
package comm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Layer identifies one physical/network delivery path for policy decisions.
type Layer int

const (
	LayerUnknown Layer = iota
	LayerSMS
	LayerMeshRadio
	LayerInternet
	LayerShortRange
)

func (l Layer) String() string {
	switch l {
	case LayerSMS:
		return "sms"
	case LayerMeshRadio:
		return "mesh-radio"
	case LayerInternet:
		return "internet"
	case LayerShortRange:
		return "short-range"
	default:
		return "unknown"
	}
}

// ParseLayer maps a config/wire name to a Layer.
func ParseLayer(s string) (Layer, error) {
	switch s {
	case "sms":
		return LayerSMS, nil
	case "mesh-radio", "mesh", "radio":
		return LayerMeshRadio, nil
	case "internet":
		return LayerInternet, nil
	case "short-range", "shortrange":
		return LayerShortRange, nil
	}
	return LayerUnknown, fmt.Errorf("unknown layer %q", s)
}

// Layers lists every concrete transport layer in declaration order.
func Layers() []Layer {
	return []Layer{LayerSMS, LayerMeshRadio, LayerInternet, LayerShortRange}
}

// LayerCapability is the static+measured profile of one layer. Snapshots are
// returned by value; callers never see live registry state.
type LayerCapability struct {
	Latency     time.Duration
	Reliability float64 // delivery success estimate in [0,1]
	Bandwidth   int64   // bytes/sec
	RangeKM     float64 // 0 = effectively unlimited
	PowerCost   float64 // relative energy cost in [0,1]
	Available   bool
}

// NodeID is a stable 64-bit mesh node identity derived from the node name.
type NodeID uint64

// Broadcast addresses every node in radio range.
const Broadcast NodeID = 0xffffffffffffffff

func (id NodeID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// ParseNodeID reads the hex form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad node id %q: %w", s, err)
	}
	return NodeID(v), nil
}

// DeriveNodeID hashes a human node name into a NodeID. The zero and broadcast
// values are reserved, so hashes landing there are nudged off.
func DeriveNodeID(name string) NodeID {
	h := xxhash.Sum64String(name)
	if h == 0 || h == uint64(Broadcast) {
		h ^= 0x9e3779b97f4a7c15
	}
	return NodeID(h)
}

// Sender transmits one opaque payload on a specific layer. Implementations
// wrap the physical drivers; the delivery queue only ever sees this contract.
type Sender interface {
	Layer() Layer
	// Send delivers payload toward target, a layer-specific address: a node
	// name for mesh, a phone number for SMS, a peer name for internet.
	Send(ctx context.Context, target string, payload []byte) error
}

// ErrLayerUnavailable reports that a layer cannot currently carry traffic.
// It is an expected operating condition, not a fault.
var ErrLayerUnavailable = errors.New("layer unavailable")
