// Package route decides how an outbound item should travel: the classifier
// normalizes requests into query contexts, the policy table narrows the
// transport candidates, the scorer ranks them against measured capability,
// and the selector resolves a concrete remote target for the winner.
package route

import (
	"time"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// tierProfile is the latency/reliability envelope assumed for a complexity
// tier when the caller does not state one.
type tierProfile struct {
	latencyTolerance time.Duration
	reliability      float64
}

var tierProfiles = map[comm.Complexity]tierProfile{
	comm.ComplexitySimple:    {latencyTolerance: 8 * time.Second, reliability: 0.5},
	comm.ComplexityMedium:    {latencyTolerance: 15 * time.Second, reliability: 0.7},
	comm.ComplexityComplex:   {latencyTolerance: 30 * time.Second, reliability: 0.85},
	comm.ComplexityEmergency: {latencyTolerance: 30 * time.Second, reliability: 0.99},
}

// Classifier turns raw outbound requests into normalized QueryContexts.
// Emergency detection is the caller's hint (keyword-triggered upstream); the
// classifier trusts it and never re-derives it from content.
type Classifier struct {
	origin comm.NodeID
	nowFn  func() time.Time
}

func NewClassifier(origin comm.NodeID) *Classifier {
	return &Classifier{origin: origin, nowFn: time.Now}
}

// Classify derives complexity from the declared intent and payload size,
// then fills the tier's latency/reliability envelope. An emergency hint, or
// the emergency-alert type itself, forces top priority regardless of other
// signals.
func (c *Classifier) Classify(payload []byte, typ comm.QueryType, emergencyLevel int) comm.QueryContext {
	size := int64(len(payload))
	if typ == comm.QueryEmergencyAlert && emergencyLevel == 0 {
		emergencyLevel = 1
	}

	complexity := complexityFor(typ, size, emergencyLevel)
	prof := tierProfiles[complexity]

	qc := comm.QueryContext{
		Type:                   typ,
		Complexity:             complexity,
		Priority:               priorityFor(typ, complexity),
		SizeEstimate:           size,
		EmergencyLevel:         emergencyLevel,
		LatencyTolerance:       prof.latencyTolerance,
		ReliabilityRequirement: prof.reliability,
		Origin:                 c.origin,
		CreatedAt:              c.nowFn(),
	}
	return qc
}

// Payload size thresholds separating the complexity tiers.
const (
	simpleMaxBytes  = 256
	complexMinBytes = 4096
	// generation requests above this are complex even below complexMinBytes
	inferenceComplexBytes = 1024
)

func complexityFor(typ comm.QueryType, size int64, emergencyLevel int) comm.Complexity {
	if emergencyLevel > 0 || typ == comm.QueryEmergencyAlert {
		return comm.ComplexityEmergency
	}
	switch typ {
	case comm.QueryInference:
		if size > inferenceComplexBytes {
			return comm.ComplexityComplex
		}
		return comm.ComplexityMedium
	case comm.QueryStatus:
		return comm.ComplexitySimple
	default:
		switch {
		case size <= simpleMaxBytes:
			return comm.ComplexitySimple
		case size <= complexMinBytes:
			return comm.ComplexityMedium
		default:
			return comm.ComplexityComplex
		}
	}
}

func priorityFor(typ comm.QueryType, complexity comm.Complexity) comm.Priority {
	if complexity == comm.ComplexityEmergency {
		return comm.PriorityEmergency
	}
	switch typ {
	case comm.QuerySync, comm.QueryStatus:
		return comm.PriorityLow
	default:
		return comm.PriorityNormal
	}
}
