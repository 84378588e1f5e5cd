package route

import (
	"github.com/srex-dev/EVY-sub000/pkg/comm"
)

// Scoring weights. Latency and reliability dominate; bandwidth matters for
// sized payloads; the situational term nudges the choice toward transports
// that behave well for the traffic class.
const (
	weightLatency     = 0.3
	weightReliability = 0.3
	weightBandwidth   = 0.2
	weightSituational = 0.2
)

// Score rates how well a layer's capability fits a context, in [0,1].
// Pure function of its inputs. An absent constraint (zero tolerance,
// requirement or size) counts as fully satisfied.
func Score(layer comm.Layer, lc comm.LayerCapability, qc comm.QueryContext) float64 {
	latFit := 1.0
	if qc.LatencyTolerance > 0 {
		latFit = 1 - float64(lc.Latency)/float64(qc.LatencyTolerance)
		if latFit < 0 {
			latFit = 0
		}
	}

	relFit := 1.0
	if qc.ReliabilityRequirement > 0 {
		relFit = lc.Reliability / qc.ReliabilityRequirement
		if relFit > 1 {
			relFit = 1
		}
	}

	bwFit := 1.0
	if qc.SizeEstimate > 0 {
		bwFit = float64(lc.Bandwidth) / float64(qc.SizeEstimate)
		if bwFit > 1 {
			bwFit = 1
		}
	}

	s := weightLatency*latFit + weightReliability*relFit + weightBandwidth*bwFit + situational(layer, qc)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// situational is the traffic-class bonus, clipped to its weight.
func situational(layer comm.Layer, qc comm.QueryContext) float64 {
	var b float64
	if qc.EmergencyLevel > 0 {
		switch layer {
		case comm.LayerSMS:
			b += 0.2
		case comm.LayerMeshRadio:
			b += 0.1
		}
	}
	if qc.Complexity == comm.ComplexitySimple && layer == comm.LayerSMS {
		b += 0.1
	}
	if qc.Complexity == comm.ComplexityComplex && layer == comm.LayerInternet {
		b += 0.1
	}
	if b > weightSituational {
		b = weightSituational
	}
	return b
}
