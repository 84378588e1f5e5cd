// Package node assembles a full communication node from its parts: mesh
// engine, capability registry, transport senders, router, and the reliable
// delivery queue. Everything below this package is wiring-agnostic; this is
// the one place that knows the whole shape.
package node

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/config"
	"github.com/srex-dev/EVY-sub000/pkg/layers"
	"github.com/srex-dev/EVY-sub000/pkg/mesh"
	"github.com/srex-dev/EVY-sub000/pkg/queue"
	"github.com/srex-dev/EVY-sub000/pkg/route"
	"github.com/srex-dev/EVY-sub000/pkg/ttlkv"
)

// Inbound is one payload another node delivered to us, on any layer.
type Inbound struct {
	Layer   comm.Layer
	Source  string // layer-specific; empty when the link has no addressing
	Kind    string // data, sync, emergency
	Payload []byte
	At      time.Time
}

// Node is a running communication fabric endpoint.
type Node struct {
	cfg *config.Config
	id  comm.NodeID

	seenKV  *ttlkv.Store
	auditKV *ttlkv.Store

	engine     *mesh.Engine
	registry   *layers.Registry
	classifier *route.Classifier
	router     *route.Router
	dispatcher *layers.Dispatcher
	queue      *queue.DeliveryQueue

	shortRange *layers.ShortRangeLayer

	mu         sync.RWMutex
	inboundCbs []func(Inbound)

	closeOnce sync.Once
}

// New wires a node from configuration. Start must be called before the
// node moves traffic.
func New(cfg *config.Config) (*Node, error) {
	id := comm.DeriveNodeID(cfg.NodeName)

	n := &Node{
		cfg:     cfg,
		id:      id,
		seenKV:  ttlkv.New(ttlkv.Options{}),
		auditKV: ttlkv.New(ttlkv.Options{}),
	}

	link, err := buildRadio(cfg.Mesh.Radio)
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("mesh radio: %w", err)
	}
	n.engine = mesh.NewEngine(mesh.Config{
		NodeID:            id,
		Name:              cfg.NodeName,
		Capabilities:      cfg.Capabilities,
		Lat:               cfg.Mesh.Lat,
		Lon:               cfg.Mesh.Lon,
		HasPosition:       cfg.Mesh.Lat != 0 || cfg.Mesh.Lon != 0,
		DiscoveryInterval: time.Duration(cfg.Mesh.DiscoveryIntervalS) * time.Second,
		RouteRefresh:      time.Duration(cfg.Mesh.RouteRefreshS) * time.Second,
		StaleAfter:        time.Duration(cfg.Mesh.NeighborStaleS) * time.Second,
		DedupWindow:       time.Duration(cfg.Mesh.DedupWindowS) * time.Second,
		DefaultTTL:        uint8(cfg.Mesh.DefaultTTL),
		MaxPayload:        cfg.Mesh.MaxPayload,
	}, link, n.seenKV)

	n.registry = layers.NewRegistry(
		time.Duration(cfg.Routing.StatusPollS)*time.Second,
		time.Duration(cfg.Routing.StatsUpdateS)*time.Second)
	n.classifier = route.NewClassifier(id)

	selector := route.NewSelector(n.engine, netPeers(cfg.Layers.Internet))
	n.router = route.NewRouter(n.registry.Status, nil, selector)
	n.dispatcher = layers.NewDispatcher(n.router, n.registry, n.classifier)

	if err := n.buildSenders(); err != nil {
		n.engine.Close()
		n.closeStores()
		return nil, err
	}

	n.queue = queue.New(n.dispatcher.Send, n.auditKV, queue.Options{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryDelays:    retryDelays(cfg.Queue.RetryDelaysS),
		PollInterval:   time.Duration(cfg.Queue.PollIntervalMS) * time.Millisecond,
		AuditRetention: time.Duration(cfg.Queue.AuditRetentionS) * time.Second,
	})

	for _, t := range []mesh.PacketType{mesh.PacketData, mesh.PacketSync, mesh.PacketEmergency} {
		t := t
		n.engine.RegisterHandler(t, func(pkt *mesh.Packet) { n.onMeshPacket(pkt) })
	}

	return n, nil
}

// buildSenders registers one sender per enabled layer and hooks each
// layer's availability source into the registry.
func (n *Node) buildSenders() error {
	cfg := n.cfg.Layers

	n.dispatcher.Register(layers.NewMeshSender(n.engine))
	n.registry.SetSource(comm.LayerMeshRadio, n.engine.Available)

	if cfg.SMS.Enable {
		n.dispatcher.Register(layers.NewSMS(cfg.SMS))
		// the cellular network is out of our sight; treat it as nominally up
		n.registry.SetSource(comm.LayerSMS, func() bool { return true })
	}
	if cfg.Internet.Enable {
		inet := layers.NewInternet(cfg.Internet)
		n.dispatcher.Register(inet)
		n.registry.SetSource(comm.LayerInternet, inet.Reachable)
	}
	if cfg.ShortRange.Enable {
		sr, err := layers.NewShortRange(cfg.ShortRange)
		if err != nil {
			return err
		}
		n.shortRange = sr
		sr.OnReceive(func(payload []byte) {
			n.deliver(Inbound{
				Layer:   comm.LayerShortRange,
				Kind:    "data",
				Payload: payload,
				At:      time.Now(),
			})
		})
		n.dispatcher.Register(sr)
		n.registry.SetSource(comm.LayerShortRange, sr.Available)
	}
	return nil
}

// Start launches the mesh loops, the availability poller, and the queue
// workers.
func (n *Node) Start(ctx context.Context) {
	zap.L().Info("node starting",
		zap.String("name", n.cfg.NodeName),
		zap.Stringer("id", n.id))
	n.engine.Start(ctx)
	n.registry.Start(ctx)
	n.queue.Start(ctx)
}

// Close drains the queue workers, then tears the stack down outside-in.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		n.queue.Close()
		n.engine.Close()
		n.registry.Close()
		if n.shortRange != nil {
			_ = n.shortRange.Close()
		}
		n.closeStores()
		zap.L().Info("node stopped", zap.String("name", n.cfg.NodeName))
	})
}

func (n *Node) closeStores() {
	n.seenKV.Close()
	n.auditKV.Close()
}

// Submit classifies content and queues it for reliable delivery, returning
// the message id for later status lookups.
func (n *Node) Submit(dest string, content []byte, typ comm.QueryType, emergencyLevel int) string {
	qc := n.classifier.Classify(content, typ, emergencyLevel)
	meta := map[string]string{layers.MetaQueryType: typ.String()}
	if emergencyLevel > 0 {
		meta[layers.MetaEmergencyLevel] = strconv.Itoa(emergencyLevel)
	}
	return n.queue.Enqueue(dest, content, qc.Priority, meta)
}

// SubmitEmergency queues an alert at the given severity.
func (n *Node) SubmitEmergency(dest string, content []byte, level int) string {
	return n.Submit(dest, content, comm.QueryEmergencyAlert, level)
}

// Decide runs classification and routing without sending anything. It is
// the dry-run surface the ctl tool exposes.
func (n *Node) Decide(content []byte, typ comm.QueryType, emergencyLevel int) comm.RoutingDecision {
	return n.router.Route(n.classifier.Classify(content, typ, emergencyLevel))
}

// OnInbound registers a callback for payloads delivered to this node.
func (n *Node) OnInbound(fn func(Inbound)) {
	n.mu.Lock()
	n.inboundCbs = append(n.inboundCbs, fn)
	n.mu.Unlock()
}

// Queue exposes the delivery queue for status lookups.
func (n *Node) Queue() *queue.DeliveryQueue { return n.queue }

// Mesh exposes the mesh engine.
func (n *Node) Mesh() *mesh.Engine { return n.engine }

// ID is this node's derived mesh identity.
func (n *Node) ID() comm.NodeID { return n.id }

// NodeStatus is a point-in-time summary of the whole stack.
type NodeStatus struct {
	Name   string                          `json:"name"`
	ID     string                          `json:"id"`
	Queue  queue.Stats                     `json:"queue"`
	Mesh   mesh.EngineStats                `json:"mesh"`
	Layers map[string]comm.LayerCapability `json:"layers"`
}

func (n *Node) Status() NodeStatus {
	caps := n.registry.Status()
	out := make(map[string]comm.LayerCapability, len(caps))
	for l, c := range caps {
		out[l.String()] = c
	}
	return NodeStatus{
		Name:   n.cfg.NodeName,
		ID:     n.id.String(),
		Queue:  n.queue.Stats(),
		Mesh:   n.engine.Stats(),
		Layers: out,
	}
}

func (n *Node) onMeshPacket(pkt *mesh.Packet) {
	// a broadcast can reach us along several paths; deliver it once
	if n.engine.Seen(pkt.Source, pkt.Seq) {
		return
	}
	if pkt.Type == mesh.PacketEmergency {
		zap.L().Warn("emergency received over mesh",
			zap.Stringer("source", pkt.Source),
			zap.Int("bytes", len(pkt.Payload)))
	}
	n.deliver(Inbound{
		Layer:   comm.LayerMeshRadio,
		Source:  pkt.Source.String(),
		Kind:    pkt.Type.String(),
		Payload: pkt.Payload,
		At:      time.Now(),
	})
}

func (n *Node) deliver(in Inbound) {
	n.mu.RLock()
	cbs := make([]func(Inbound), len(n.inboundCbs))
	copy(cbs, n.inboundCbs)
	n.mu.RUnlock()
	for _, fn := range cbs {
		fn(in)
	}
	zap.L().Debug("inbound payload",
		zap.Stringer("layer", in.Layer),
		zap.String("kind", in.Kind),
		zap.String("source", in.Source),
		zap.Int("bytes", len(in.Payload)))
}

func buildRadio(cfg config.RadioConfig) (mesh.RadioLink, error) {
	switch cfg.Driver {
	case "udp":
		return mesh.NewUDPRadio(cfg.Listen, cfg.BridgeAddr)
	default:
		// lone in-process airspace; real neighbors arrive via the udp bridge
		return mesh.NewAirspace().Join(), nil
	}
}

func netPeers(cfg config.InternetConfig) []route.NetPeer {
	out := make([]route.NetPeer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		out = append(out, route.NetPeer{Name: p.Name, Capabilities: p.Capabilities})
	}
	return out
}

func retryDelays(secs []int) []time.Duration {
	out := make([]time.Duration, 0, len(secs))
	for _, s := range secs {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
