package epochs

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cosmos/btcutil/bech32"
)

// DefaultChainPrefix is the bech32 human-readable prefix for account
// addresses on the network.
const DefaultChainPrefix = "gonka"

// OperatorAddressFromAccountAddress re-encodes a bech32 account
// address under the "<prefix>valoper" prefix. The two addresses share
// the same 20-byte payload; only the prefix differs.
func OperatorAddressFromAccountAddress(accountAddress, chainPrefix string) (string, error) {
	if chainPrefix == "" {
		chainPrefix = DefaultChainPrefix
	}

	_, data, err := bech32.Decode(accountAddress, bech32.MaxLengthBIP173)
	if err != nil {
		return "", fmt.Errorf("invalid bech32 address %q: %w", accountAddress, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("invalid bech32 address %q: empty payload", accountAddress)
	}

	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("failed to convert bits for address %q: %w", accountAddress, err)
	}

	converted, err := bech32.ConvertBits(decoded, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert bits back for address %q: %w", accountAddress, err)
	}

	return bech32.Encode(chainPrefix+"valoper", converted)
}

// ValidatorAddressFromPubKey derives the consensus (tendermint)
// address from a base64 ed25519 public key: uppercase hex of the first
// 20 bytes of its sha256.
func ValidatorAddressFromPubKey(pubKeyBase64 string) (string, error) {
	if pubKeyBase64 == "" {
		return "", fmt.Errorf("empty pubkey")
	}

	pubKeyBytes, err := base64.StdEncoding.DecodeString(pubKeyBase64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 pubkey: %w", err)
	}

	hash := sha256.Sum256(pubKeyBytes)
	return strings.ToUpper(hex.EncodeToString(hash[:20])), nil
}

// IsValidBech32 reports whether the address decodes at all.
func IsValidBech32(address string) bool {
	_, _, err := bech32.Decode(address, bech32.MaxLengthBIP173)
	return err == nil
}
