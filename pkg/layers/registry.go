// Package layers holds the transport capability registry and the concrete
// senders for each communication layer: SMS, mesh radio, internet, and
// short-range. The dispatcher at the bottom of the package walks a routing
// decision's fallback chain across them.
package layers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// baselineCapability is the static profile a layer starts from before any
// measurements arrive. SMS is slow but near-certain; the mesh radio is
// low-bandwidth but cheap; internet is fast when it exists at all.
func baselineCapability(layer comm.Layer) comm.LayerCapability {
	switch layer {
	case comm.LayerSMS:
		return comm.LayerCapability{Latency: 5 * time.Second, Reliability: 0.95, Bandwidth: 140, PowerCost: 0.3}
	case comm.LayerMeshRadio:
		return comm.LayerCapability{Latency: 2 * time.Second, Reliability: 0.7, Bandwidth: 250, RangeKM: 10, PowerCost: 0.2}
	case comm.LayerInternet:
		return comm.LayerCapability{Latency: time.Second, Reliability: 0.8, Bandwidth: 125000, PowerCost: 0.5}
	case comm.LayerShortRange:
		return comm.LayerCapability{Latency: 500 * time.Millisecond, Reliability: 0.9, Bandwidth: 250000, RangeKM: 0.1, PowerCost: 0.1}
	default:
		return comm.LayerCapability{}
	}
}

// ewma smoothing factor for measured reliability and latency.
const measureAlpha = 0.2

// Registry tracks the static+measured capability profile and live
// availability of every layer. Availability sources are polled on the
// status cycle; send outcomes feed the measured profile.
type Registry struct {
	mu      sync.RWMutex
	caps    map[comm.Layer]comm.LayerCapability
	sources map[comm.Layer]func() bool

	poll      time.Duration
	statsEach time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistry seeds baseline profiles for all layers, every one of them
// unavailable until a source says otherwise.
func NewRegistry(poll, statsEach time.Duration) *Registry {
	if poll <= 0 {
		poll = 60 * time.Second
	}
	if statsEach <= 0 {
		statsEach = 60 * time.Second
	}
	caps := make(map[comm.Layer]comm.LayerCapability, 4)
	for _, l := range comm.Layers() {
		caps[l] = baselineCapability(l)
	}
	return &Registry{
		caps:      caps,
		sources:   make(map[comm.Layer]func() bool),
		poll:      poll,
		statsEach: statsEach,
		closeCh:   make(chan struct{}),
	}
}

// SetSource registers a layer's availability probe and applies it once so
// the layer is usable before the first poll cycle.
func (r *Registry) SetSource(layer comm.Layer, fn func() bool) {
	r.mu.Lock()
	r.sources[layer] = fn
	r.mu.Unlock()
	r.refresh(layer)
}

// Status returns a copy of every layer's current profile.
func (r *Registry) Status() map[comm.Layer]comm.LayerCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[comm.Layer]comm.LayerCapability, len(r.caps))
	for l, c := range r.caps {
		out[l] = c
	}
	return out
}

// Capability returns one layer's current profile.
func (r *Registry) Capability(layer comm.Layer) comm.LayerCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[layer]
}

// RecordResult folds one send outcome into the measured profile: the
// reliability estimate moves toward the observed success rate, and latency
// toward the observed round trip on success.
func (r *Registry) RecordResult(layer comm.Layer, ok bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, known := r.caps[layer]
	if !known {
		return
	}
	outcome := 0.0
	if ok {
		outcome = 1.0
	}
	c.Reliability = (1-measureAlpha)*c.Reliability + measureAlpha*outcome
	if ok && elapsed > 0 {
		c.Latency = time.Duration((1-measureAlpha)*float64(c.Latency) + measureAlpha*float64(elapsed))
	}
	r.caps[layer] = c
}

// refresh re-evaluates one layer's availability source.
func (r *Registry) refresh(layer comm.Layer) {
	r.mu.RLock()
	fn := r.sources[layer]
	r.mu.RUnlock()
	if fn == nil {
		return
	}
	up := fn()

	r.mu.Lock()
	c := r.caps[layer]
	changed := c.Available != up
	c.Available = up
	r.caps[layer] = c
	r.mu.Unlock()

	if changed {
		zap.L().Info("layer availability changed",
			zap.Stringer("layer", layer),
			zap.Bool("available", up))
	}
}

func (r *Registry) refreshAll() {
	for _, l := range comm.Layers() {
		r.refresh(l)
	}
}

// Start launches the status poller and the periodic profile logger.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.pollLoop(ctx)
	go r.statsLoop(ctx)
}

func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.closeCh) })
	r.wg.Wait()
}

func (r *Registry) pollLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.poll)
	defer t.Stop()
	r.refreshAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		case <-t.C:
			r.refreshAll()
		}
	}
}

func (r *Registry) statsLoop(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.statsEach)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closeCh:
			return
		case <-t.C:
			for l, c := range r.Status() {
				zap.L().Debug("layer profile",
					zap.Stringer("layer", l),
					zap.Bool("available", c.Available),
					zap.Duration("latency", c.Latency),
					zap.Float64("reliability", c.Reliability))
			}
		}
	}
}
