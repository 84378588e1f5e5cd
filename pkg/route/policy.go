package route

import (
	"time"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// Policy is one row of the routing policy table: the transport preference
// order consulted before scoring, plus the response timeout and retry count
// the delivery queue applies to messages routed under it.
type Policy struct {
	Preference []comm.Layer
	Timeout    time.Duration
	MaxRetries int
}

type policyKey struct {
	Type       comm.QueryType
	Complexity comm.Complexity
}

// PolicyTable maps (query type, complexity) to a policy, with per-tier
// defaults for types it does not know.
type PolicyTable struct {
	exact  map[policyKey]Policy
	byTier map[comm.Complexity]Policy
}

// DefaultPolicies builds the static policy table. Emergency alerts always
// prefer SMS then mesh then internet in that order: for life-safety traffic
// the reliability of the absolute fallback matters more than optimality.
func DefaultPolicies() *PolicyTable {
	return &PolicyTable{
		exact: map[policyKey]Policy{
			{comm.QueryEmergencyAlert, comm.ComplexityEmergency}: {
				Preference: []comm.Layer{comm.LayerSMS, comm.LayerMeshRadio, comm.LayerInternet},
				Timeout:    30 * time.Second,
				MaxRetries: 5,
			},
			{comm.QueryInference, comm.ComplexityComplex}: {
				Preference: []comm.Layer{comm.LayerInternet, comm.LayerMeshRadio, comm.LayerShortRange},
				Timeout:    60 * time.Second,
				MaxRetries: 3,
			},
			{comm.QueryInference, comm.ComplexityMedium}: {
				Preference: []comm.Layer{comm.LayerInternet, comm.LayerShortRange, comm.LayerMeshRadio},
				Timeout:    30 * time.Second,
				MaxRetries: 3,
			},
			{comm.QueryRetrieval, comm.ComplexitySimple}: {
				Preference: []comm.Layer{comm.LayerShortRange, comm.LayerMeshRadio, comm.LayerSMS, comm.LayerInternet},
				Timeout:    15 * time.Second,
				MaxRetries: 2,
			},
			// content sync is bulk traffic and never goes over SMS
			{comm.QuerySync, comm.ComplexityMedium}: {
				Preference: []comm.Layer{comm.LayerInternet, comm.LayerShortRange, comm.LayerMeshRadio},
				Timeout:    120 * time.Second,
				MaxRetries: 3,
			},
			{comm.QueryStatus, comm.ComplexitySimple}: {
				Preference: []comm.Layer{comm.LayerShortRange, comm.LayerMeshRadio, comm.LayerInternet, comm.LayerSMS},
				Timeout:    10 * time.Second,
				MaxRetries: 1,
			},
		},
		byTier: map[comm.Complexity]Policy{
			comm.ComplexitySimple: {
				Preference: []comm.Layer{comm.LayerShortRange, comm.LayerMeshRadio, comm.LayerSMS, comm.LayerInternet},
				Timeout:    15 * time.Second,
				MaxRetries: 2,
			},
			comm.ComplexityMedium: {
				Preference: []comm.Layer{comm.LayerInternet, comm.LayerMeshRadio, comm.LayerShortRange, comm.LayerSMS},
				Timeout:    30 * time.Second,
				MaxRetries: 3,
			},
			comm.ComplexityComplex: {
				Preference: []comm.Layer{comm.LayerInternet, comm.LayerMeshRadio, comm.LayerShortRange},
				Timeout:    60 * time.Second,
				MaxRetries: 3,
			},
			comm.ComplexityEmergency: {
				Preference: []comm.Layer{comm.LayerSMS, comm.LayerMeshRadio, comm.LayerInternet, comm.LayerShortRange},
				Timeout:    30 * time.Second,
				MaxRetries: 5,
			},
		},
	}
}

// For returns the policy governing a context: the exact (type, complexity)
// row when one exists, otherwise the complexity tier's default.
func (t *PolicyTable) For(qc comm.QueryContext) Policy {
	if p, ok := t.exact[policyKey{qc.Type, qc.Complexity}]; ok {
		return p
	}
	if p, ok := t.byTier[qc.Complexity]; ok {
		return p
	}
	return t.byTier[comm.ComplexityMedium]
}
