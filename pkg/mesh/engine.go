package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/ttlkv"
)

// Handler consumes one locally delivered packet. Deduplication of repeated
// deliveries is the handler's job; Engine.Seen is the shared hint for it.
type Handler func(pkt *Packet)

var (
	ErrNoRoute   = errors.New("no route to destination")
	ErrNoPayload = errors.New("empty payload")
)

// Config parameterizes an Engine. Zero durations select the defaults used
// across the fabric (30s discovery, 60s refresh, 300s staleness).
type Config struct {
	NodeID       comm.NodeID
	Name         string
	Capabilities []string
	// Battery reports charge in [0,1]; nil means always full.
	Battery func() float64
	// Position is advertised in discovery packets when set.
	Lat, Lon    float64
	HasPosition bool

	DiscoveryInterval time.Duration
	RouteRefresh      time.Duration
	StaleAfter        time.Duration
	DedupWindow       time.Duration
	DefaultTTL        uint8
	MaxPayload        int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DiscoveryInterval <= 0 {
		out.DiscoveryInterval = 30 * time.Second
	}
	if out.RouteRefresh <= 0 {
		out.RouteRefresh = 60 * time.Second
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 300 * time.Second
	}
	if out.DedupWindow <= 0 {
		out.DedupWindow = 600 * time.Second
	}
	if out.DefaultTTL == 0 {
		out.DefaultTTL = 5
	}
	if out.MaxPayload <= 0 {
		out.MaxPayload = 8192
	}
	if out.Battery == nil {
		out.Battery = func() float64 { return 1.0 }
	}
	return out
}

// Engine owns the neighbor/routing tables and all packet lifecycle on the
// radio transport. It is the only writer of its tables; everything exposed
// to other components is a snapshot.
type Engine struct {
	cfg   Config
	link  RadioLink
	table *Table
	seen  *SeenCache

	mu           sync.RWMutex
	handlers     map[PacketType]Handler
	discoveryCbs []func(Neighbor)

	seq       atomic.Uint32
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startedAt time.Time

	txFrames  atomic.Uint64
	rxFrames  atomic.Uint64
	rxDropped atomic.Uint64
	forwarded atomic.Uint64
	delivered atomic.Uint64
}

// NewEngine wires an engine to its radio link. The engine takes ownership of
// the link and closes it on Close.
func NewEngine(cfg Config, link RadioLink, kv *ttlkv.Store) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		link:      link,
		table:     NewTable(cfg.StaleAfter),
		seen:      NewSeenCache(kv, cfg.DedupWindow, 4096),
		handlers:  make(map[PacketType]Handler),
		closeCh:   make(chan struct{}),
		startedAt: time.Now(),
	}
	link.SetReceiver(e.receive)
	return e
}

// RegisterHandler binds a packet type to a handler. Intended to be called
// once per type before Start; unregistered types resolve to a log-and-ignore
// default at dispatch time.
func (e *Engine) RegisterHandler(t PacketType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
}

// OnDiscovery registers a callback fired once per newly discovered neighbor.
func (e *Engine) OnDiscovery(fn func(Neighbor)) {
	e.mu.Lock()
	e.discoveryCbs = append(e.discoveryCbs, fn)
	e.mu.Unlock()
}

// Start launches the discovery broadcaster and the routing-table refresher.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.discoveryLoop(ctx)
	go e.refreshLoop(ctx)
}

// Close stops the periodic workers and the radio link.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closeCh) })
	e.wg.Wait()
	_ = e.link.Close()
}

func (e *Engine) NodeID() comm.NodeID { return e.cfg.NodeID }

// Available reports whether the mesh can currently carry traffic: a mesh
// with no neighbors has nowhere to send.
func (e *Engine) Available() bool { return e.table.Len() > 0 }

// Neighbors returns a snapshot of the neighbor set.
func (e *Engine) Neighbors() []Neighbor { return e.table.Neighbors() }

// Routes returns a snapshot of the routing table.
func (e *Engine) Routes() []RouteEntry { return e.table.Routes() }

// Seen is the shared (source, seq) dedup hint for handlers.
func (e *Engine) Seen(source comm.NodeID, seq uint32) bool { return e.seen.Seen(source, seq) }

// EngineStats is a point-in-time snapshot of the engine counters.
type EngineStats struct {
	Neighbors int
	TxFrames  uint64
	RxFrames  uint64
	RxDropped uint64
	Forwarded uint64
	Delivered uint64
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Neighbors: e.table.Len(),
		TxFrames:  e.txFrames.Load(),
		RxFrames:  e.rxFrames.Load(),
		RxDropped: e.rxDropped.Load(),
		Forwarded: e.forwarded.Load(),
		Delivered: e.delivered.Load(),
	}
}

// Send transmits a unicast packet toward dest via its next hop. Returns
// ErrNoRoute when dest is not currently routable; the caller treats that as
// the layer being unavailable for this destination, not a protocol fault.
func (e *Engine) Send(dest comm.NodeID, t PacketType, prio comm.Priority, payload []byte, flags uint16) error {
	if len(payload) == 0 {
		return ErrNoPayload
	}
	if len(payload) > e.cfg.MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrOversize, len(payload), e.cfg.MaxPayload)
	}
	route, ok := e.table.Route(dest)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, dest)
	}
	pkt := &Packet{
		Type:     t,
		Priority: prio,
		TTL:      e.cfg.DefaultTTL,
		Flags:    flags,
		Source:   e.cfg.NodeID,
		Dest:     dest,
		Seq:      e.seq.Add(1),
		Payload:  payload,
	}
	frame, err := pkt.EncodeFrame()
	if err != nil {
		return err
	}
	if err := e.link.Send(frame); err != nil {
		return err
	}
	e.txFrames.Add(1)
	zap.L().Debug("mesh tx",
		zap.Stringer("type", t),
		zap.Stringer("dest", dest),
		zap.Stringer("next_hop", route.NextHop),
		zap.Uint32("seq", pkt.Seq))
	return nil
}

// Broadcast transmits to every node in radio range. Broadcasts are consumed
// by receivers and never relayed, so they carry a one-hop TTL.
func (e *Engine) Broadcast(t PacketType, prio comm.Priority, payload []byte) error {
	if len(payload) == 0 {
		return ErrNoPayload
	}
	if len(payload) > e.cfg.MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrOversize, len(payload), e.cfg.MaxPayload)
	}
	pkt := &Packet{
		Type:     t,
		Priority: prio,
		TTL:      1,
		Source:   e.cfg.NodeID,
		Dest:     comm.Broadcast,
		Seq:      e.seq.Add(1),
		Payload:  payload,
	}
	frame, err := pkt.EncodeFrame()
	if err != nil {
		return err
	}
	if err := e.link.Send(frame); err != nil {
		return err
	}
	e.txFrames.Add(1)
	return nil
}

// ---- receive path ----

// receive runs on the radio's delivery goroutine.
func (e *Engine) receive(frame []byte, signal float64) {
	e.rxFrames.Add(1)
	pkt, err := DecodeFrame(frame)
	if err != nil {
		// integrity failures are dropped here and never travel further
		e.rxDropped.Add(1)
		zap.L().Debug("mesh frame rejected", zap.Error(err))
		return
	}
	if pkt.Source == e.cfg.NodeID {
		return // own transmission echoed back
	}
	if pkt.Dest != e.cfg.NodeID && !pkt.Broadcast() {
		e.forward(pkt)
		return
	}

	e.delivered.Add(1)
	switch pkt.Type {
	case PacketDiscovery:
		e.handleDiscovery(pkt, signal)
	case PacketHeartbeat:
		e.table.Touch(pkt.Source, time.Now())
		if pkt.AckRequested() && !pkt.Broadcast() {
			e.sendAck(pkt)
		}
		e.dispatch(pkt)
	case PacketAck:
		e.table.Touch(pkt.Source, time.Now())
		e.dispatch(pkt)
	default:
		if pkt.AckRequested() && !pkt.Broadcast() {
			e.sendAck(pkt)
		}
		e.dispatch(pkt)
	}
}

// forward relays a packet addressed to someone else toward its next hop.
// TTL bounds relay depth; the seen cache stops the same frame from being
// relayed twice by this node. No retries here: at this layer unreachable is
// an outcome, not a failure.
func (e *Engine) forward(pkt *Packet) {
	if pkt.TTL == 0 {
		e.rxDropped.Add(1)
		zap.L().Debug("ttl exhausted, dropped",
			zap.Stringer("source", pkt.Source),
			zap.Stringer("dest", pkt.Dest),
			zap.Uint32("seq", pkt.Seq))
		return
	}
	pkt.TTL--
	if pkt.TTL == 0 {
		e.rxDropped.Add(1)
		zap.L().Debug("ttl reached zero, dropped",
			zap.Stringer("source", pkt.Source),
			zap.Stringer("dest", pkt.Dest),
			zap.Uint32("seq", pkt.Seq))
		return
	}
	if e.seen.Seen(pkt.Source, pkt.Seq) {
		zap.L().Debug("duplicate frame, not re-forwarded",
			zap.Stringer("source", pkt.Source),
			zap.Uint32("seq", pkt.Seq))
		return
	}
	route, ok := e.table.Route(pkt.Dest)
	if !ok {
		e.rxDropped.Add(1)
		zap.L().Debug("no route, dropped",
			zap.Stringer("dest", pkt.Dest),
			zap.Uint32("seq", pkt.Seq))
		return
	}
	frame, err := pkt.EncodeFrame()
	if err != nil {
		e.rxDropped.Add(1)
		zap.L().Warn("re-encode failed", zap.Error(err))
		return
	}
	if err := e.link.Send(frame); err != nil {
		zap.L().Warn("forward transmit failed", zap.Error(err))
		return
	}
	e.forwarded.Add(1)
	e.txFrames.Add(1)
	zap.L().Debug("mesh forward",
		zap.Stringer("dest", pkt.Dest),
		zap.Stringer("next_hop", route.NextHop),
		zap.Uint8("ttl", pkt.TTL))
}

func (e *Engine) handleDiscovery(pkt *Packet, signal float64) {
	var ann Announce
	if err := UnmarshalPayload(pkt.Payload, &ann); err != nil {
		e.rxDropped.Add(1)
		zap.L().Debug("bad discovery payload", zap.Error(err))
		return
	}
	n := Neighbor{
		ID:           pkt.Source,
		Name:         ann.Name,
		LastSeen:     time.Now(),
		Signal:       clamp01(signal),
		Capabilities: ann.Capabilities,
		Battery:      ann.Battery,
		Lat:          ann.Lat,
		Lon:          ann.Lon,
		HasPosition:  ann.HasPosition,
	}
	if e.table.Upsert(n) {
		zap.L().Info("neighbor discovered",
			zap.Stringer("id", n.ID),
			zap.String("name", n.Name),
			zap.Float64("signal", n.Signal),
			zap.Strings("capabilities", n.Capabilities))
		e.mu.RLock()
		cbs := append(([]func(Neighbor))(nil), e.discoveryCbs...)
		e.mu.RUnlock()
		for _, cb := range cbs {
			cb(n)
		}
	}
}

func (e *Engine) dispatch(pkt *Packet) {
	e.mu.RLock()
	h := e.handlers[pkt.Type]
	e.mu.RUnlock()
	if h == nil {
		zap.L().Debug("no handler registered, packet ignored",
			zap.Stringer("type", pkt.Type),
			zap.Stringer("source", pkt.Source),
			zap.Uint32("seq", pkt.Seq))
		return
	}
	h(pkt)
}

func (e *Engine) sendAck(pkt *Packet) {
	body, err := MarshalPayload(AckBody{Seq: pkt.Seq, Type: pkt.Type})
	if err != nil {
		return
	}
	if err := e.Send(pkt.Source, PacketAck, pkt.Priority, body, 0); err != nil {
		zap.L().Debug("ack not sent", zap.Stringer("to", pkt.Source), zap.Error(err))
	}
}

// ---- periodic workers ----

func (e *Engine) discoveryLoop(ctx context.Context) {
	defer e.wg.Done()
	t := time.NewTicker(e.cfg.DiscoveryInterval)
	defer t.Stop()
	e.sendDiscovery()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closeCh:
			return
		case <-t.C:
			e.sendDiscovery()
			e.pingQuiet()
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	t := time.NewTicker(e.cfg.RouteRefresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closeCh:
			return
		case <-t.C:
			evicted := e.table.Sweep(time.Now())
			for _, id := range evicted {
				zap.L().Info("neighbor evicted", zap.Stringer("id", id))
			}
		}
	}
}

func (e *Engine) sendDiscovery() {
	ann := Announce{
		Name:         e.cfg.Name,
		Capabilities: e.cfg.Capabilities,
		Battery:      e.cfg.Battery(),
		Lat:          e.cfg.Lat,
		Lon:          e.cfg.Lon,
		HasPosition:  e.cfg.HasPosition,
	}
	payload, err := MarshalPayload(ann)
	if err != nil {
		zap.L().Error("discovery payload encode failed", zap.Error(err))
		return
	}
	if err := e.Broadcast(PacketDiscovery, comm.PriorityNormal, payload); err != nil {
		zap.L().Warn("discovery broadcast failed", zap.Error(err))
	}
}

// pingQuiet sends ack-requesting heartbeats to neighbors that have been
// silent for over half the staleness window, refreshing liveness before the
// sweeper gives up on them.
func (e *Engine) pingQuiet() {
	now := time.Now()
	body, err := MarshalPayload(HeartbeatBody{
		Battery: e.cfg.Battery(),
		UptimeS: uint64(now.Sub(e.startedAt) / time.Second),
	})
	if err != nil {
		return
	}
	for _, n := range e.table.Neighbors() {
		if now.Sub(n.LastSeen) <= e.cfg.StaleAfter/2 {
			continue
		}
		if err := e.Send(n.ID, PacketHeartbeat, comm.PriorityLow, body, FlagAckRequested); err != nil {
			zap.L().Debug("heartbeat not sent", zap.Stringer("to", n.ID), zap.Error(err))
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
