package epochs

import (
	"fmt"
	"io"
	"sort"
)

// MismatchedParticipant is a participant whose locally computed
// consensus weight disagrees with the chain.
type MismatchedParticipant struct {
	OperatorAddress string
	ConsensusWeight int64
	OnChainWeight   int64
}

// MissingParticipant is a participant we computed a weight for that
// the chain's validator set doesn't contain.
type MissingParticipant struct {
	OperatorAddress string
	Weight          int64
}

// ValidateEpochGroup diffs the group's computed consensus weights
// against the validator set the chain actually installed (visible one
// block after SetNewValidatorsHeight).
func ValidateEpochGroup(source *ChainDataSource, group *EpochGroup, out io.Writer) ([]MismatchedParticipant, []MissingParticipant, error) {
	validatorWeights, err := source.ChainValidators(group.SetNewValidatorsHeight + 1)
	if err != nil {
		return nil, nil, err
	}

	var totalOnChain int64
	for _, weight := range validatorWeights {
		totalOnChain += weight
	}

	fmt.Fprintf(
		out,
		"Epoch %3d | %3d participants | %6d | %6d\n",
		group.EpochId,
		len(group.Participants),
		group.TotalConsensusWeight(),
		totalOnChain,
	)

	missing := make([]MissingParticipant, 0)
	mismatching := make([]MismatchedParticipant, 0)
	for _, participant := range group.Participants {
		onChain, ok := validatorWeights[participant.OperatorAddress]
		if !ok {
			missing = append(missing, MissingParticipant{
				OperatorAddress: participant.OperatorAddress,
				Weight:          participant.Weight,
			})
			continue
		}
		if participant.ConsensusWeight != onChain {
			mismatching = append(mismatching, MismatchedParticipant{
				OperatorAddress: participant.OperatorAddress,
				ConsensusWeight: participant.ConsensusWeight,
				OnChainWeight:   onChain,
			})
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(out, "  %d not found on chain:\n", len(missing))
		sort.Slice(missing, func(i, j int) bool { return missing[i].OperatorAddress < missing[j].OperatorAddress })
		for _, entry := range missing {
			fmt.Fprintf(out, "    - %s | %5d\n", entry.OperatorAddress, entry.Weight)
		}
	}

	if len(mismatching) > 0 {
		fmt.Fprintf(out, "  %d not matching:\n", len(mismatching))
		sort.Slice(mismatching, func(i, j int) bool { return mismatching[i].OperatorAddress < mismatching[j].OperatorAddress })
		for _, entry := range mismatching {
			marker := ""
			if _, guardian := GenesisGuardianAddresses[entry.OperatorAddress]; guardian {
				marker = "guardian "
			}
			fmt.Fprintf(out, "    - %s%s %d != %d\n", marker, entry.OperatorAddress, entry.ConsensusWeight, entry.OnChainWeight)
		}
	}

	return mismatching, missing, nil
}

// AuditEpoch validates one epoch group. When the first pass
// mismatches, participants absent from the chain (and mismatched
// non-guardians) are removed and weighting reruns on the filtered set:
// who participates changes what the enhancement computes, so the
// second pass can converge where the first didn't.
func AuditEpoch(source *ChainDataSource, group *EpochGroup, out io.Writer) error {
	notMatching, missing, err := ValidateEpochGroup(source, group, out)
	if err != nil {
		return err
	}
	if len(notMatching) == 0 {
		return nil
	}

	fmt.Fprintln(out, "REPEATING EPOCH GROUP")

	removeSet := collectParticipantsToRemove(notMatching, missing)
	if len(removeSet) > 0 {
		addresses := make([]string, 0, len(removeSet))
		for addr := range removeSet {
			addresses = append(addresses, addr)
		}
		sort.Strings(addresses)
		fmt.Fprintf(out, "Removing %d participants: %v\n", len(addresses), addresses)
	}

	filtered := make([]*Participant, 0, len(group.Participants))
	for _, p := range group.Participants {
		if _, remove := removeSet[p.OperatorAddress]; !remove {
			filtered = append(filtered, p)
		}
	}

	group.Participants = SetConsensusWeight(filtered, false)

	if _, _, err := ValidateEpochGroup(source, group, out); err != nil {
		return err
	}

	fmt.Fprintln(out, "VALIDATED EPOCH GROUP")
	return nil
}

func collectParticipantsToRemove(notMatching []MismatchedParticipant, missing []MissingParticipant) map[string]struct{} {
	remove := make(map[string]struct{})
	for _, entry := range notMatching {
		// Guardians mismatch whenever anyone else is wrong; removing
		// them would just distort the rerun.
		if _, guardian := GenesisGuardianAddresses[entry.OperatorAddress]; guardian {
			continue
		}
		remove[entry.OperatorAddress] = struct{}{}
	}

	for _, entry := range missing {
		remove[entry.OperatorAddress] = struct{}{}
	}

	return remove
}
