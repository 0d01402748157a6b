package pow

// ProofBatch is a chunk of proof records produced during the GENERATE
// phase. Nonces and Dist are parallel slices: dist[i] is the model
// output distance for nonces[i].
type ProofBatch struct {
	PublicKey   string    `json:"public_key"`
	BlockHash   string    `json:"block_hash"`
	BlockHeight int64     `json:"block_height"`
	Nonces      []int64   `json:"nonces"`
	Dist        []float64 `json:"dist"`
}

func (b ProofBatch) Len() int {
	return len(b.Nonces)
}

func (b ProofBatch) IsEmpty() bool {
	return len(b.Nonces) == 0
}

// MergeProofBatches combines batches into one, keeping every record
// (multiset union, no dedup). Header fields come from the first
// non-empty batch; callers only merge batches from the same PoC stage.
func MergeProofBatches(batches []ProofBatch) ProofBatch {
	var merged ProofBatch
	for _, b := range batches {
		if merged.PublicKey == "" && b.PublicKey != "" {
			merged.PublicKey = b.PublicKey
			merged.BlockHash = b.BlockHash
			merged.BlockHeight = b.BlockHeight
		}
		merged.Nonces = append(merged.Nonces, b.Nonces...)
		merged.Dist = append(merged.Dist, b.Dist...)
	}
	return merged
}

type ValidatedBatch struct {
	ProofBatch // Inherits from ProofBatch

	// New fields
	ReceivedDist      []float64 `json:"received_dist"`
	RTarget           float64   `json:"r_target"`
	FraudThreshold    float64   `json:"fraud_threshold"`
	NInvalid          int64     `json:"n_invalid"`
	ProbabilityHonest float64   `json:"probability_honest"`
	FraudDetected     bool      `json:"fraud_detected"`
}
