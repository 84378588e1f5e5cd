package comm

import (
	"fmt"
	"time"
)

// Priority orders queued traffic. Lower numeric value wins; the ordering is
// total: emergency < high < normal < low.
type Priority uint8

const (
	PriorityEmergency Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	NumPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "invalid"
	}
}

// QueryType declares what kind of outbound item is being routed.
type QueryType int

const (
	QueryInference QueryType = iota
	QueryRetrieval
	QuerySync
	QueryStatus
	QueryEmergencyAlert
)

func (t QueryType) String() string {
	switch t {
	case QueryInference:
		return "inference"
	case QueryRetrieval:
		return "retrieval"
	case QuerySync:
		return "sync"
	case QueryStatus:
		return "status"
	case QueryEmergencyAlert:
		return "emergency-alert"
	default:
		return "unknown"
	}
}

// ParseQueryType maps the String form back to a QueryType.
func ParseQueryType(s string) (QueryType, error) {
	switch s {
	case "inference":
		return QueryInference, nil
	case "retrieval":
		return QueryRetrieval, nil
	case "sync":
		return QuerySync, nil
	case "status":
		return QueryStatus, nil
	case "emergency-alert":
		return QueryEmergencyAlert, nil
	}
	return QueryInference, fmt.Errorf("unknown query type %q", s)
}

// Complexity tiers drive default tolerances and the policy table.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityMedium
	ComplexityComplex
	ComplexityEmergency
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityComplex:
		return "complex"
	case ComplexityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// QueryContext is the normalized description of one outbound item. It is
// built once by the classifier and never mutated afterwards.
type QueryContext struct {
	Type                   QueryType
	Complexity             Complexity
	Priority               Priority
	SizeEstimate           int64 // payload bytes; 0 = unknown
	EmergencyLevel         int   // 0 = none
	LatencyTolerance       time.Duration
	ReliabilityRequirement float64
	Origin                 NodeID
	CreatedAt              time.Time
}

// RoutingDecision is the outcome of one route call: the chosen layer, an
// optional concrete target, and the ordered fallbacks to try after it.
type RoutingDecision struct {
	Layer                Layer
	Target               string // layer-specific address; empty when the sender resolves it
	Priority             Priority
	EstimatedLatency     time.Duration
	EstimatedReliability float64
	Fallbacks            []Layer
	Reason               string
}
