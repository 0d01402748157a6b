package pow

import "math"

// distTolerance bounds the allowed drift between the dist a participant
// reported and the dist recomputed during validation. GPU kernels are
// not bit-reproducible across hardware, so exact equality is too strict.
const distTolerance = 1e-6

// InValidation accumulates recomputed dist values for one batch under
// validation. It is seeded from the batch the participant originally
// submitted and fed every validation result batch; results for nonces
// outside the seed are ignored.
type InValidation struct {
	seed     ProofBatch
	received map[int64]float64
}

func NewInValidation(seed ProofBatch) *InValidation {
	return &InValidation{
		seed:     seed,
		received: make(map[int64]float64, len(seed.Nonces)),
	}
}

// Process records recomputed dist values for seed nonces. Batches for
// other participants or stages are skipped wholesale.
func (v *InValidation) Process(batch ProofBatch) {
	if batch.PublicKey != v.seed.PublicKey || batch.BlockHeight != v.seed.BlockHeight {
		return
	}

	seedNonces := make(map[int64]struct{}, len(v.seed.Nonces))
	for _, nonce := range v.seed.Nonces {
		seedNonces[nonce] = struct{}{}
	}

	for i, nonce := range batch.Nonces {
		if i >= len(batch.Dist) {
			break
		}
		if _, ok := seedNonces[nonce]; ok {
			v.received[nonce] = batch.Dist[i]
		}
	}
}

// IsReady reports whether every seed nonce has a recomputed dist.
func (v *InValidation) IsReady() bool {
	if len(v.seed.Nonces) == 0 {
		return false
	}
	for _, nonce := range v.seed.Nonces {
		if _, ok := v.received[nonce]; !ok {
			return false
		}
	}
	return true
}

// Validated seals the accumulator into a ValidatedBatch. A nonce is
// invalid when its recomputed dist disagrees with the reported one or
// misses the target. Fraud is flagged when the invalid fraction
// exceeds fraudThreshold.
func (v *InValidation) Validated(rTarget float64, fraudThreshold float64) ValidatedBatch {
	receivedDist := make([]float64, len(v.seed.Nonces))
	var nInvalid int64

	for i, nonce := range v.seed.Nonces {
		dist := v.received[nonce]
		receivedDist[i] = dist

		reported := 0.0
		if i < len(v.seed.Dist) {
			reported = v.seed.Dist[i]
		}
		if math.Abs(dist-reported) > distTolerance || dist > rTarget {
			nInvalid++
		}
	}

	total := len(v.seed.Nonces)
	probabilityHonest := 0.0
	invalidFraction := 1.0
	if total > 0 {
		invalidFraction = float64(nInvalid) / float64(total)
		probabilityHonest = 1.0 - invalidFraction
	}

	return ValidatedBatch{
		ProofBatch:        v.seed,
		ReceivedDist:      receivedDist,
		RTarget:           rTarget,
		FraudThreshold:    fraudThreshold,
		NInvalid:          nInvalid,
		ProbabilityHonest: probabilityHonest,
		FraudDetected:     invalidFraction > fraudThreshold,
	}
}
