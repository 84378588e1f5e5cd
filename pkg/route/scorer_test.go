package route

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

func emergencyContext() comm.QueryContext {
	return comm.QueryContext{
		Type:                   comm.QueryEmergencyAlert,
		Complexity:             comm.ComplexityEmergency,
		Priority:               comm.PriorityEmergency,
		SizeEstimate:           40,
		EmergencyLevel:         2,
		LatencyTolerance:       30 * time.Second,
		ReliabilityRequirement: 0.99,
	}
}

func TestScoreHandComputed(t *testing.T) {
	sms := comm.LayerCapability{Latency: 5 * time.Second, Reliability: 0.95, Bandwidth: 140, Available: true}
	mesh := comm.LayerCapability{Latency: 2 * time.Second, Reliability: 0.7, Bandwidth: 250, Available: true}
	inet := comm.LayerCapability{Latency: time.Second, Reliability: 0.8, Bandwidth: 125000, Available: true}

	em := emergencyContext()
	assert.InDelta(t, 0.937879, Score(comm.LayerSMS, sms, em), 1e-5)
	assert.InDelta(t, 0.792121, Score(comm.LayerMeshRadio, mesh, em), 1e-5)
	assert.InDelta(t, 0.732424, Score(comm.LayerInternet, inet, em), 1e-5)

	complexInference := comm.QueryContext{
		Type:                   comm.QueryInference,
		Complexity:             comm.ComplexityComplex,
		SizeEstimate:           2000,
		LatencyTolerance:       30 * time.Second,
		ReliabilityRequirement: 0.85,
	}
	assert.InDelta(t, 0.872353, Score(comm.LayerInternet, inet, complexInference), 1e-5)
	assert.InDelta(t, 0.552059, Score(comm.LayerMeshRadio, mesh, complexInference), 1e-5)
}

func TestScoreIsPure(t *testing.T) {
	lc := comm.LayerCapability{Latency: 3 * time.Second, Reliability: 0.6, Bandwidth: 900, Available: true}
	qc := emergencyContext()
	first := Score(comm.LayerMeshRadio, lc, qc)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(comm.LayerMeshRadio, lc, qc))
	}
}

func TestScoreSituationalClipped(t *testing.T) {
	sms := comm.LayerCapability{Latency: 5 * time.Second, Reliability: 0.95, Bandwidth: 140, Available: true}

	// emergency + simple would stack 0.3 of bonus for SMS; the clip keeps
	// the situational term at its 0.2 weight
	stacked := comm.QueryContext{
		Complexity:             comm.ComplexitySimple,
		EmergencyLevel:         1,
		SizeEstimate:           40,
		LatencyTolerance:       30 * time.Second,
		ReliabilityRequirement: 0.99,
	}
	plain := stacked
	plain.Complexity = comm.ComplexityMedium

	assert.Equal(t, Score(comm.LayerSMS, sms, plain), Score(comm.LayerSMS, sms, stacked))
}

func TestScoreAbsentConstraints(t *testing.T) {
	lc := comm.LayerCapability{Latency: 2 * time.Second, Reliability: 0.7, Bandwidth: 250, Available: true}

	// zero size estimate: bandwidth term fully satisfied
	qc := comm.QueryContext{LatencyTolerance: 10 * time.Second, ReliabilityRequirement: 0.7}
	withSize := qc
	withSize.SizeEstimate = 1 // bandwidth easily covers one byte
	assert.Equal(t, Score(comm.LayerMeshRadio, lc, withSize), Score(comm.LayerMeshRadio, lc, qc))

	// latency beyond tolerance zeroes the latency term
	slow := comm.LayerCapability{Latency: 20 * time.Second, Reliability: 0.7, Bandwidth: 250}
	got := Score(comm.LayerMeshRadio, slow, qc)
	assert.InDelta(t, 0.3+0.2, got, 1e-9)
}
