package route

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(comm.NodeID(42))

	tests := []struct {
		name       string
		typ        comm.QueryType
		size       int
		level      int
		complexity comm.Complexity
		priority   comm.Priority
	}{
		{"emergency alert", comm.QueryEmergencyAlert, 40, 3, comm.ComplexityEmergency, comm.PriorityEmergency},
		{"emergency hint on inference", comm.QueryInference, 100, 1, comm.ComplexityEmergency, comm.PriorityEmergency},
		{"short inference", comm.QueryInference, 200, 0, comm.ComplexityMedium, comm.PriorityNormal},
		{"long inference", comm.QueryInference, 2000, 0, comm.ComplexityComplex, comm.PriorityNormal},
		{"status ping", comm.QueryStatus, 16, 0, comm.ComplexitySimple, comm.PriorityLow},
		{"small retrieval", comm.QueryRetrieval, 100, 0, comm.ComplexitySimple, comm.PriorityNormal},
		{"bulk retrieval", comm.QueryRetrieval, 5000, 0, comm.ComplexityComplex, comm.PriorityNormal},
		{"sync batch", comm.QuerySync, 1000, 0, comm.ComplexityMedium, comm.PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qc := c.Classify(make([]byte, tt.size), tt.typ, tt.level)
			assert.Equal(t, tt.complexity, qc.Complexity)
			assert.Equal(t, tt.priority, qc.Priority)
			assert.Equal(t, int64(tt.size), qc.SizeEstimate)
			assert.Equal(t, comm.NodeID(42), qc.Origin)
			assert.False(t, qc.CreatedAt.IsZero())
		})
	}
}

func TestClassifyAlertImpliesEmergencyLevel(t *testing.T) {
	c := NewClassifier(1)
	qc := c.Classify([]byte("levee break"), comm.QueryEmergencyAlert, 0)
	assert.Greater(t, qc.EmergencyLevel, 0, "an alert is an emergency even without a level hint")
	assert.Equal(t, comm.PriorityEmergency, qc.Priority)
}

func TestClassifyTierEnvelope(t *testing.T) {
	c := NewClassifier(1)

	em := c.Classify(make([]byte, 40), comm.QueryEmergencyAlert, 2)
	assert.Equal(t, 30*time.Second, em.LatencyTolerance)
	assert.InDelta(t, 0.99, em.ReliabilityRequirement, 1e-9)

	simple := c.Classify(make([]byte, 16), comm.QueryStatus, 0)
	assert.Equal(t, 8*time.Second, simple.LatencyTolerance)
	assert.InDelta(t, 0.5, simple.ReliabilityRequirement, 1e-9)
}
