package layers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
	"github.com/srex-dev/EVY-sub000/pkg/queue"
	"github.com/srex-dev/EVY-sub000/pkg/route"
)

// Metadata keys the dispatcher reads from queued messages.
const (
	MetaQueryType      = "query_type"
	MetaEmergencyLevel = "emergency_level"
)

// PrioritySender is an optional sender upgrade for transports that carry
// priority natively (the mesh marks emergency packets on the air).
type PrioritySender interface {
	comm.Sender
	SendPriority(ctx context.Context, target string, payload []byte, prio comm.Priority) error
}

// Dispatcher is the queue's send step: classify the message, route it, and
// walk the decision's fallback chain until one layer carries it. Every
// attempt's outcome feeds the capability registry so the next decision sees
// fresher numbers.
type Dispatcher struct {
	router     *route.Router
	registry   *Registry
	classifier *route.Classifier

	mu      sync.RWMutex
	senders map[comm.Layer]comm.Sender
}

func NewDispatcher(router *route.Router, registry *Registry, classifier *route.Classifier) *Dispatcher {
	return &Dispatcher{
		router:     router,
		registry:   registry,
		classifier: classifier,
		senders:    make(map[comm.Layer]comm.Sender),
	}
}

// Register installs the sender for its layer, replacing any previous one.
func (d *Dispatcher) Register(s comm.Sender) {
	d.mu.Lock()
	d.senders[s.Layer()] = s
	d.mu.Unlock()
}

func (d *Dispatcher) sender(layer comm.Layer) comm.Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.senders[layer]
}

// Send implements queue.SendFunc. It routes on every attempt, so retry
// number three sees the availability picture of now, not of enqueue time.
func (d *Dispatcher) Send(ctx context.Context, msg *queue.Message) error {
	qc := d.contextFor(msg)
	decision := d.router.Route(qc)
	pol := d.router.PolicyFor(qc)

	chain := append([]comm.Layer{decision.Layer}, decision.Fallbacks...)
	if pol.MaxRetries > 0 && len(chain) > pol.MaxRetries+1 {
		chain = chain[:pol.MaxRetries+1]
	}

	status := d.registry.Status()
	var lastErr error
	for i, layer := range chain {
		sender := d.sender(layer)
		if sender == nil {
			continue
		}
		if lc, ok := status[layer]; !ok || !lc.Available {
			zap.L().Debug("skipping unavailable layer",
				zap.Stringer("layer", layer),
				zap.String("id", msg.ID))
			continue
		}
		target := targetFor(layer, decision, msg)
		attemptCtx, cancel := context.WithTimeout(ctx, pol.Timeout)
		start := time.Now()
		err := sendOn(attemptCtx, sender, target, msg.Content, msg.Priority)
		cancel()
		d.registry.RecordResult(layer, err == nil, time.Since(start))
		if err == nil {
			zap.L().Info("message dispatched",
				zap.String("id", msg.ID),
				zap.Stringer("layer", layer),
				zap.Int("attempt", i+1),
				zap.String("reason", decision.Reason))
			return nil
		}
		lastErr = err
		zap.L().Warn("layer send failed",
			zap.String("id", msg.ID),
			zap.Stringer("layer", layer),
			zap.Error(err))
	}
	if lastErr == nil {
		lastErr = comm.ErrLayerUnavailable
	}
	return fmt.Errorf("no layer carried %s: %w", msg.ID, lastErr)
}

// contextFor rebuilds the routing context from the queued message. The
// classifier re-derives tier and constraints from content and metadata;
// the enqueued priority is authoritative and overrides the derived one.
func (d *Dispatcher) contextFor(msg *queue.Message) comm.QueryContext {
	typ := comm.QueryInference
	if s, ok := msg.Metadata[MetaQueryType]; ok {
		if t, err := comm.ParseQueryType(s); err == nil {
			typ = t
		}
	}
	level := 0
	if s, ok := msg.Metadata[MetaEmergencyLevel]; ok {
		if n, err := strconv.Atoi(s); err == nil {
			level = n
		}
	}
	qc := d.classifier.Classify(msg.Content, typ, level)
	qc.Priority = msg.Priority
	return qc
}

// targetFor picks the address for one attempt. An explicit destination on
// the message always wins; otherwise the decision's resolved target fills
// the blank for the layer it was resolved on.
func targetFor(layer comm.Layer, decision comm.RoutingDecision, msg *queue.Message) string {
	if msg.Destination != "" {
		return msg.Destination
	}
	if layer == decision.Layer {
		return decision.Target
	}
	return ""
}

func sendOn(ctx context.Context, s comm.Sender, target string, payload []byte, prio comm.Priority) error {
	if ps, ok := s.(PrioritySender); ok {
		return ps.SendPriority(ctx, target, payload, prio)
	}
	return s.Send(ctx, target, payload)
}
