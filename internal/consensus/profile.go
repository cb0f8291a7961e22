package consensus

import "time"

// #region nominal-figures
// Nominal operating figures for each lane. Hybrid paths blend the fast and
// secure figures by their fast percentage.
const (
	NominalFastTPS      uint64 = 100_000
	NominalSecureTPS    uint64 = 5_000
	NominalEmergencyTPS uint64 = 1_000

	NominalFastLatency      = 100 * time.Millisecond
	NominalSecureLatency    = 2 * time.Second
	NominalEmergencyLatency = 5 * time.Second

	FastSecurity          = 0.70
	NominalSecureSecurity = 0.95
	EmergencySecurity     = 0.99

	fastCost      = 0.10
	secureCost    = 0.40
	emergencyCost = 0.60
)

// #endregion nominal-figures

// #region profile
// Profile is the predicted operating envelope of a path.
type Profile struct {
	ExpectedTPS uint64
	Latency     time.Duration
	Security    float64 // [0,1]
	// Aggressiveness is 1 for a pure fast lane and 0 for pure security.
	Aggressiveness float64
	ResourceCost   float64 // [0,1], validation work per transaction
}

// Profile predicts how p performs.
func (p Path) Profile() Profile {
	switch p.Kind {
	case KindFastLane:
		return Profile{
			ExpectedTPS:    p.ExpectedTPS,
			Latency:        NominalFastLatency,
			Security:       FastSecurity,
			Aggressiveness: 1,
			ResourceCost:   fastCost,
		}
	case KindSecureLane:
		return Profile{
			ExpectedTPS:    NominalSecureTPS,
			Latency:        NominalSecureLatency,
			Security:       p.SecurityLevel,
			Aggressiveness: 0,
			ResourceCost:   secureCost,
		}
	case KindHybrid:
		f := p.FastPercentage
		return Profile{
			ExpectedTPS:    uint64(f*float64(NominalFastTPS) + (1-f)*float64(NominalSecureTPS) + 0.5),
			Latency:        time.Duration(f*float64(NominalFastLatency) + (1-f)*float64(NominalSecureLatency)),
			Security:       f*FastSecurity + (1-f)*NominalSecureSecurity,
			Aggressiveness: f,
			ResourceCost:   f*fastCost + (1-f)*secureCost,
		}
	case KindEmergency:
		return Profile{
			ExpectedTPS:    NominalEmergencyTPS,
			Latency:        NominalEmergencyLatency,
			Security:       EmergencySecurity,
			Aggressiveness: 0,
			ResourceCost:   emergencyCost,
		}
	}
	return Profile{}
}

// #endregion profile
