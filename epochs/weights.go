package epochs

import (
	"encoding/base64"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	// MaturityThreshold is the total network weight at which early
	// network protection stops applying. The boundary itself counts as
	// mature.
	MaturityThreshold = int64(2_000_000)

	ed25519PubKeySize = 32
)

// GenesisGuardianAddresses are the operator addresses granted
// temporary consensus-weight protection while the network is young.
var GenesisGuardianAddresses = map[string]struct{}{
	"gonkavaloper1y2a9p56kv044327uycmqdexl7zs82fs5lyang5": {},
	"gonkavaloper1dkl4mah5erqggvhqkpc8j3qs5tyuetgdc59d0v": {},
	"gonkavaloper1kx9mca3xm8u8ypzfuhmxey66u0ufxhs70mtf0e": {},
}

var (
	genesisGuardianMultiplier    = decimal.NewFromFloat(0.52)
	maxIndividualPowerPercentage = decimal.NewFromFloat(0.30)
)

// SetConsensusWeight transforms raw participant weights into validator
// consensus weights: power capping, early network protection, then a
// refiltering pass that zeroes out everyone without a valid signing
// key or with no resulting weight. It must track the chain's own
// validator-set construction exactly, truncation behavior included,
// so a locally computed set can be diffed against the live one.
//
// Participants are mutated in place (Weight by capping,
// ConsensusWeight by the rest) and returned for convenience.
func SetConsensusWeight(participants []*Participant, skipPowerCapping bool) []*Participant {
	eligible := make([]*Participant, 0, len(participants))
	for _, p := range participants {
		if p.Weight >= 0 {
			eligible = append(eligible, p)
		}
	}

	if !skipPowerCapping {
		applyPowerCapping(eligible)
	}

	applyEarlyNetworkProtection(eligible)

	validByIndex := make(map[string]*Participant)
	for _, p := range eligible {
		if validateParticipant(p) && p.ConsensusWeight > 0 {
			validByIndex[p.Index] = p
		}
	}

	// Refiltering over the full original list. The chain silently
	// drops zero-power and malformed-key entries when it builds the
	// validator set; skipping this pass produces a different set.
	for _, p := range participants {
		if vp, ok := validByIndex[p.Index]; ok {
			p.ConsensusWeight = vp.ConsensusWeight
			continue
		}
		p.ConsensusWeight = 0
	}

	return participants
}

// applyPowerCapping bounds any single participant to 30% of total
// weight. Walking the ascending-sorted list, position k asks: if every
// participant from k onward had exactly weight[k], would weight[k]
// exceed 30% of that hypothetical total? The first k where it does
// fixes the cap at 0.30*sum_below / (1 - 0.30*(n-k)), truncated.
func applyPowerCapping(participants []*Participant) {
	if len(participants) <= 1 {
		return
	}

	var totalWeight int64
	for _, p := range participants {
		totalWeight += p.Weight
	}
	if totalWeight == 0 {
		return
	}

	sortedWeights := make([]int64, len(participants))
	for i, p := range participants {
		sortedWeights[i] = p.Weight
	}
	sort.Slice(sortedWeights, func(i, j int) bool {
		return sortedWeights[i] < sortedWeights[j]
	})

	participantCount := len(participants)
	capValue := int64(-1)
	var sumPrev int64

	for k, currentPower := range sortedWeights {
		weightedTotal := sumPrev + currentPower*int64(participantCount-k)

		threshold := maxIndividualPowerPercentage.Mul(decimal.NewFromInt(weightedTotal))
		if decimal.NewFromInt(currentPower).Cmp(threshold) > 0 {
			numerator := maxIndividualPowerPercentage.Mul(decimal.NewFromInt(sumPrev))

			remaining := decimal.NewFromInt(int64(participantCount - k))
			denominator := decimal.NewFromInt(1).Sub(maxIndividualPowerPercentage.Mul(remaining))

			if denominator.Sign() <= 0 {
				capValue = currentPower
				break
			}

			// QuoRem with precision 0 truncates exactly, with no
			// intermediate rounding that could drift off the chain's
			// fixed-point result.
			quotient, _ := numerator.QuoRem(denominator, 0)
			capValue = quotient.IntPart()
			break
		}

		sumPrev += currentPower
	}

	if capValue == -1 {
		return
	}

	for _, p := range participants {
		if p.Weight > capValue {
			p.Weight = capValue
		}
	}
}

// applyEarlyNetworkProtection boosts genesis guardians while the
// network is immature. Enhancement only fires when the network holds
// under MaturityThreshold total weight, has at least two participants
// and at least one guardian, and the enhancement would not lower the
// guardians below their current combined weight; otherwise everyone
// just gets ConsensusWeight = Weight.
func applyEarlyNetworkProtection(participants []*Participant) {
	if len(participants) == 0 {
		return
	}

	var totalWeight int64
	for _, p := range participants {
		totalWeight += p.Weight
	}

	guardianIndices := make(map[int]struct{})
	var totalGuardianWeight int64
	for i, p := range participants {
		if _, ok := GenesisGuardianAddresses[p.OperatorAddress]; ok {
			guardianIndices[i] = struct{}{}
			totalGuardianWeight += p.Weight
		}
	}

	networkImmature := totalWeight < MaturityThreshold
	if !networkImmature || len(participants) < 2 || len(guardianIndices) == 0 {
		mirrorWeights(participants)
		return
	}

	otherWeight := totalWeight - totalGuardianWeight
	totalEnhancement := decimal.NewFromInt(otherWeight).Mul(genesisGuardianMultiplier)

	// The enhancement would reduce guardian power below its current
	// level; keep the unmodified weights instead.
	if totalEnhancement.Cmp(decimal.NewFromInt(totalGuardianWeight)) < 0 {
		mirrorWeights(participants)
		return
	}

	perGuardian, _ := totalEnhancement.QuoRem(decimal.NewFromInt(int64(len(guardianIndices))), 0)
	perGuardianWeight := perGuardian.IntPart()

	for i, p := range participants {
		if _, ok := guardianIndices[i]; ok {
			p.ConsensusWeight = perGuardianWeight
			continue
		}
		p.ConsensusWeight = p.Weight
	}
}

func mirrorWeights(participants []*Participant) {
	for _, p := range participants {
		p.ConsensusWeight = p.Weight
	}
}

// validateParticipant applies the chain's validator-set admission
// check: a present, valid-base64, 32-byte ed25519 key and a bech32
// decodable account address.
func validateParticipant(p *Participant) bool {
	if p == nil || p.ValidatorKey == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(p.ValidatorKey)
	if err != nil || len(decoded) != ed25519PubKeySize {
		return false
	}

	return IsValidBech32(p.Index)
}
