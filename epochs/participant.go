package epochs

import "fmt"

// Participant is one network entity inside a single epoch group.
// Weight is the raw PoC stake; ConsensusWeight is what the validator
// set ends up with after capping, guardian enhancement and
// refiltering.
type Participant struct {
	Index            string
	OperatorAddress  string
	ValidatorKey     string
	ValidatorAddress string
	Weight           int64
	ConsensusWeight  int64
}

// NewParticipant derives the operator and validator addresses from the
// account address and pubkey. A malformed account address is fatal; a
// malformed or absent validator key just leaves ValidatorAddress empty
// (such participants are zeroed out by the refiltering pass instead).
func NewParticipant(index, validatorKey string, weight int64) (*Participant, error) {
	operatorAddress, err := OperatorAddressFromAccountAddress(index, DefaultChainPrefix)
	if err != nil {
		return nil, err
	}

	validatorAddress := ""
	if validatorKey != "" {
		if addr, err := ValidatorAddressFromPubKey(validatorKey); err == nil {
			validatorAddress = addr
		}
	}

	return &Participant{
		Index:            index,
		OperatorAddress:  operatorAddress,
		ValidatorKey:     validatorKey,
		ValidatorAddress: validatorAddress,
		Weight:           weight,
	}, nil
}

func (p *Participant) String() string {
	return fmt.Sprintf("Participant(index=%s, weight=%d, consensusWeight=%d)", p.Index, p.Weight, p.ConsensusWeight)
}

// Block carries the signer set of one sealed block, used to check how
// much consensus weight actually signed.
type Block struct {
	Height           int64
	SignersAddresses []string
}

// EpochGroup is one epoch's full participant set plus block-height
// bookkeeping. SetNewValidatorsHeight is always PocStartBlockHeight
// plus the chain's total set-new-validators delay.
type EpochGroup struct {
	EpochId                int64
	Participants           []*Participant
	PocStartBlockHeight    int64
	CreatedAtBlockHeight   int64
	CreatedAtBlock         *Block
	SetNewValidatorsHeight int64
}

func NewEpochGroup(
	epochId int64,
	participants []*Participant,
	pocStartBlockHeight int64,
	createdAtBlockHeight int64,
	createdAtBlock *Block,
	totalSetNewValidatorsDelay int64,
) *EpochGroup {
	return &EpochGroup{
		EpochId:                epochId,
		Participants:           participants,
		PocStartBlockHeight:    pocStartBlockHeight,
		CreatedAtBlockHeight:   createdAtBlockHeight,
		CreatedAtBlock:         createdAtBlock,
		SetNewValidatorsHeight: pocStartBlockHeight + totalSetNewValidatorsDelay,
	}
}

func (g *EpochGroup) TotalConsensusWeight() int64 {
	var total int64
	for _, p := range g.Participants {
		total += p.ConsensusWeight
	}
	return total
}

// SignersTotalConsensusWeight sums the consensus weight of the
// participants whose validator address appears among the signers.
func (g *EpochGroup) SignersTotalConsensusWeight(signersAddresses []string) int64 {
	signers := make(map[string]struct{}, len(signersAddresses))
	for _, addr := range signersAddresses {
		signers[addr] = struct{}{}
	}

	var total int64
	for _, p := range g.Participants {
		if _, ok := signers[p.ValidatorAddress]; ok {
			total += p.ConsensusWeight
		}
	}
	return total
}

func (g *EpochGroup) String() string {
	return fmt.Sprintf("EpochGroup(epochId=%d, pocStartBlockHeight=%d, setNewValidatorsHeight=%d)",
		g.EpochId, g.PocStartBlockHeight, g.SetNewValidatorsHeight)
}
