package epochs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pow-node/logging"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	blockHeightHeader = "x-cosmos-block-height"

	// blockCommitFlag marks a signature that actually committed the
	// block (BlockIDFlagCommit in the consensus engine).
	blockCommitFlag = 2

	// epochParamsLookback queries epoch params slightly before the
	// group was created, so a params change at the boundary doesn't
	// skew the delay sum.
	epochParamsLookback = 10
)

// ChainDataSource reads epoch and validator data from a chain node's
// REST surface. All calls retry transient failures; a final failure is
// returned to the caller.
type ChainDataSource struct {
	baseUrl string
	client  *retryablehttp.Client
}

func NewChainDataSource(baseUrl string) *ChainDataSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 4
	client.HTTPClient.Timeout = 20 * time.Second
	client.Logger = nil
	return &ChainDataSource{
		baseUrl: baseUrl,
		client:  client,
	}
}

// ActiveParticipantsDto is the node's own participants endpoint shape.
type ActiveParticipantsDto struct {
	EpochId              int64                  `json:"epoch_id"`
	PocStartBlockHeight  int64                  `json:"poc_start_block_height"`
	CreatedAtBlockHeight int64                  `json:"created_at_block_height"`
	Participants         []ActiveParticipantDto `json:"participants"`
}

type ActiveParticipantDto struct {
	Index        string       `json:"index"`
	ValidatorKey string       `json:"validator_key"`
	Weight       int64        `json:"weight"`
	Seed         *SeedInfoDto `json:"seed"`
}

type SeedInfoDto struct {
	Signature string `json:"signature"`
}

type activeParticipantsResponse struct {
	ActiveParticipants ActiveParticipantsDto `json:"active_participants"`
}

// ActiveParticipants fetches the participant set for an epoch.
// epochId may be a number or "current".
func (s *ChainDataSource) ActiveParticipants(epochId string) (*ActiveParticipantsDto, error) {
	if epochId == "" {
		epochId = "current"
	}
	url := fmt.Sprintf("%s/v1/epochs/%s/participants", s.baseUrl, epochId)

	var resp activeParticipantsResponse
	if err := s.fetchJson(url, 0, &resp); err != nil {
		return nil, fmt.Errorf("fetching active participants for epoch %s: %w", epochId, err)
	}
	return &resp.ActiveParticipants, nil
}

// EpochParamsDto holds the chain's epoch timing parameters. The chain
// API serializes int64 values as strings.
type EpochParamsDto struct {
	PocStageDuration      int64 `json:"poc_stage_duration,string"`
	PocValidationDelay    int64 `json:"poc_validation_delay,string"`
	PocValidationDuration int64 `json:"poc_validation_duration,string"`
	SetNewValidatorsDelay int64 `json:"set_new_validators_delay,string"`
}

// TotalSetNewValidatorsDelay is the block distance from PoC start to
// the height at which the new validator set takes effect.
func (p *EpochParamsDto) TotalSetNewValidatorsDelay() int64 {
	return p.PocStageDuration + p.PocValidationDelay + p.PocValidationDuration + p.SetNewValidatorsDelay
}

type chainParamsResponse struct {
	Params struct {
		EpochParams EpochParamsDto `json:"epoch_params"`
	} `json:"params"`
}

func (s *ChainDataSource) EpochParams(blockHeight int64) (*EpochParamsDto, error) {
	url := fmt.Sprintf("%s/chain-api/productscience/inference/inference/params", s.baseUrl)
	if blockHeight > 0 {
		url = fmt.Sprintf("%s?height=%d", url, blockHeight)
	}

	var resp chainParamsResponse
	if err := s.fetchJson(url, blockHeight, &resp); err != nil {
		return nil, fmt.Errorf("fetching epoch params at height %d: %w", blockHeight, err)
	}
	return &resp.Params.EpochParams, nil
}

type blockResponse struct {
	Result struct {
		Block struct {
			LastCommit struct {
				Height     int64 `json:"height,string"`
				Signatures []struct {
					BlockIdFlag      int    `json:"block_id_flag"`
					ValidatorAddress string `json:"validator_address"`
				} `json:"signatures"`
			} `json:"last_commit"`
		} `json:"block"`
	} `json:"result"`
}

// BlockSigners returns the validator addresses that committed the
// block at blockHeight, read from the next block's last_commit.
func (s *ChainDataSource) BlockSigners(blockHeight int64) ([]string, error) {
	url := fmt.Sprintf("%s/chain-rpc/block?height=%d", s.baseUrl, blockHeight+1)

	var resp blockResponse
	if err := s.fetchJson(url, blockHeight+1, &resp); err != nil {
		return nil, fmt.Errorf("fetching block %d: %w", blockHeight+1, err)
	}

	lastCommit := resp.Result.Block.LastCommit
	if lastCommit.Height != blockHeight {
		return nil, fmt.Errorf("last_commit height mismatch: got %d, want %d", lastCommit.Height, blockHeight)
	}

	var signers []string
	for _, sig := range lastCommit.Signatures {
		if sig.BlockIdFlag == blockCommitFlag {
			signers = append(signers, sig.ValidatorAddress)
		}
	}
	return signers, nil
}

type validatorsResponse struct {
	Validators []struct {
		OperatorAddress string `json:"operator_address"`
		Tokens          int64  `json:"tokens,string"`
	} `json:"validators"`
}

// ChainValidators returns operator address → staked tokens for the
// validator set visible at blockHeight.
func (s *ChainDataSource) ChainValidators(blockHeight int64) (map[string]int64, error) {
	url := fmt.Sprintf("%s/chain-api/cosmos/staking/v1beta1/validators", s.baseUrl)
	if blockHeight > 0 {
		url = fmt.Sprintf("%s?height=%d", url, blockHeight)
	}

	var resp validatorsResponse
	if err := s.fetchJson(url, blockHeight, &resp); err != nil {
		return nil, fmt.Errorf("fetching validators at height %d: %w", blockHeight, err)
	}

	validators := make(map[string]int64, len(resp.Validators))
	for _, v := range resp.Validators {
		validators[v.OperatorAddress] = v.Tokens
	}
	return validators, nil
}

// LoadEpochGroup fetches an epoch's participants, gates membership on
// a present seed signature (participants without one never enter the
// epoch group on chain), runs the consensus-weight pipeline and wraps
// the result with the epoch's block bookkeeping. skipPowerCapping
// leaves raw weights uncapped, which isolates the guardian enhancement
// when diagnosing a mismatch.
func (s *ChainDataSource) LoadEpochGroup(epochId string, skipPowerCapping bool) (*EpochGroup, error) {
	active, err := s.ActiveParticipants(epochId)
	if err != nil {
		return nil, err
	}

	epochParams, err := s.EpochParams(active.CreatedAtBlockHeight - epochParamsLookback)
	if err != nil {
		return nil, err
	}

	signers, err := s.BlockSigners(active.CreatedAtBlockHeight)
	if err != nil {
		return nil, err
	}
	createdAtBlock := &Block{
		Height:           active.CreatedAtBlockHeight,
		SignersAddresses: signers,
	}

	participants := make([]*Participant, 0, len(active.Participants))
	for _, dto := range active.Participants {
		if dto.Seed == nil || dto.Seed.Signature == "" {
			logging.Debug("Skipping participant without seed signature", logging.Epochs,
				"epochId", active.EpochId, "index", dto.Index)
			continue
		}
		participant, err := NewParticipant(dto.Index, dto.ValidatorKey, dto.Weight)
		if err != nil {
			return nil, fmt.Errorf("constructing participant %s: %w", dto.Index, err)
		}
		participants = append(participants, participant)
	}

	SetConsensusWeight(participants, skipPowerCapping)

	return NewEpochGroup(
		active.EpochId,
		participants,
		active.PocStartBlockHeight,
		active.CreatedAtBlockHeight,
		createdAtBlock,
		epochParams.TotalSetNewValidatorsDelay(),
	), nil
}

func (s *ChainDataSource) fetchJson(url string, blockHeight int64, dst any) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if blockHeight > 0 {
		req.Header.Set(blockHeightHeader, fmt.Sprintf("%d", blockHeight))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
