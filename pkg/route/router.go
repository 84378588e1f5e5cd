package route

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// StatusFunc reports the current capability profile of every layer.
type StatusFunc func() map[comm.Layer]comm.LayerCapability

// Router is the routing decision engine. Route never fails: an absent
// transport is a normal operating condition folded into the decision, not
// an error surfaced to the caller.
type Router struct {
	status   StatusFunc
	policies *PolicyTable
	selector *Selector
}

func NewRouter(status StatusFunc, policies *PolicyTable, selector *Selector) *Router {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Router{status: status, policies: policies, selector: selector}
}

// PolicyFor exposes the policy governing a context, for callers that need
// its timeout and retry budget alongside the decision.
func (r *Router) PolicyFor(qc comm.QueryContext) Policy {
	return r.policies.For(qc)
}

// Route picks the best available transport for a context. The policy table
// narrows the candidates, the scorer ranks what is actually up, and the
// remaining candidates become the ordered fallback chain. Ties break toward
// the transport earlier in the policy's preference order. With nothing
// viable at all, SMS is forced as the last resort.
func (r *Router) Route(qc comm.QueryContext) comm.RoutingDecision {
	caps := r.status()
	pol := r.policies.For(qc)

	type candidate struct {
		layer  comm.Layer
		score  float64
		target string
	}
	var viable []candidate
	for _, layer := range pol.Preference {
		lc, ok := caps[layer]
		if !ok || !lc.Available {
			continue
		}
		target, ok := r.resolveTarget(layer, qc)
		if !ok {
			continue
		}
		viable = append(viable, candidate{
			layer:  layer,
			score:  Score(layer, lc, qc),
			target: target,
		})
	}

	if len(viable) == 0 {
		return r.forceSMS(qc, caps)
	}

	// stable sort keeps policy preference order on equal scores
	sort.SliceStable(viable, func(i, j int) bool { return viable[i].score > viable[j].score })

	best := viable[0]
	fallbacks := make([]comm.Layer, 0, len(viable)-1)
	for _, c := range viable[1:] {
		fallbacks = append(fallbacks, c.layer)
	}
	d := comm.RoutingDecision{
		Layer:                best.layer,
		Target:               best.target,
		Priority:             qc.Priority,
		EstimatedLatency:     caps[best.layer].Latency,
		EstimatedReliability: caps[best.layer].Reliability,
		Fallbacks:            fallbacks,
		Reason:               fmt.Sprintf("best of %d candidates, score %.3f", len(viable), best.score),
	}
	zap.L().Debug("routing decision",
		zap.Stringer("layer", d.Layer),
		zap.String("target", d.Target),
		zap.Stringer("query_type", qc.Type),
		zap.Stringer("priority", d.Priority),
		zap.String("reason", d.Reason))
	return d
}

// forceSMS is the hard-coded emergency fallback when no candidate survived:
// SMS is the universal last resort. When even SMS cannot be confirmed, the
// decision still names it but says so in the reason; user-visible failure
// reporting is the caller's job.
func (r *Router) forceSMS(qc comm.QueryContext, caps map[comm.Layer]comm.LayerCapability) comm.RoutingDecision {
	d := comm.RoutingDecision{
		Layer:    comm.LayerSMS,
		Priority: qc.Priority,
	}
	if lc, ok := caps[comm.LayerSMS]; ok && lc.Available {
		d.EstimatedLatency = lc.Latency
		d.EstimatedReliability = lc.Reliability
		d.Reason = "no viable candidate, forced sms fallback"
		zap.L().Warn("no viable layer, forcing sms", zap.Stringer("query_type", qc.Type))
	} else {
		d.Reason = "emergency fallback, no layer confirmed"
		zap.L().Error("no layer available at all", zap.Stringer("query_type", qc.Type))
	}
	return d
}

// resolveTarget picks the concrete remote for layers that need one. SMS and
// short-range address the ultimate recipient directly and need no
// resolution here.
func (r *Router) resolveTarget(layer comm.Layer, qc comm.QueryContext) (string, bool) {
	if r.selector == nil {
		return "", true
	}
	switch layer {
	case comm.LayerMeshRadio:
		id, ok := r.selector.MeshTarget(qc)
		if !ok {
			return "", false
		}
		return id.String(), true
	case comm.LayerInternet:
		name, ok := r.selector.InternetTarget(qc)
		if !ok {
			return "", false
		}
		return name, true
	default:
		return "", true
	}
}
