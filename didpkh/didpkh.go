// Package didpkh implements the did:pkh identifier scheme for eip155
// (Ethereum-style) accounts. A did:pkh embeds the chain id and the
// EIP-55 checksummed account address directly in the identifier string:
//
//	did:pkh:eip155:<chainId>:<0x-prefixed address>
package didpkh

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// Prefix is the fixed method prefix shared by all identifiers
	// produced by this package.
	Prefix = "did:pkh:eip155"

	// DefaultChainID is Ethereum mainnet.
	DefaultChainID int64 = 1
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidFormat  = errors.New("invalid did:pkh format")
)

// DID is the parsed form of a did:pkh:eip155 identifier.
type DID struct {
	DID     string
	Address string
	ChainID int64
}

// Create builds a did:pkh:eip155 identifier for the given account
// address. The address is normalized to its EIP-55 checksummed form
// before being embedded.
func Create(address string, chainID int64) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q is not a hex account address", ErrInvalidAddress, address)
	}
	if chainID <= 0 {
		chainID = DefaultChainID
	}

	checksummed := common.HexToAddress(address).Hex()

	return fmt.Sprintf("%s:%d:%s", Prefix, chainID, checksummed), nil
}

// Parse decodes a did:pkh:eip155 string into its components. The input
// must have exactly five colon-separated segments with a decimal chain
// id and a well-formed hex address.
func Parse(did string) (*DID, error) {
	parts := strings.Split(did, ":")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 segments, got %d", ErrInvalidFormat, len(parts))
	}
	if parts[0] != "did" || parts[1] != "pkh" || parts[2] != "eip155" {
		return nil, fmt.Errorf("%w: %q does not start with %s", ErrInvalidFormat, did, Prefix)
	}

	chainID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || chainID <= 0 {
		return nil, fmt.Errorf("%w: chain id segment %q is not a positive decimal", ErrInvalidFormat, parts[3])
	}

	address := parts[4]
	if !strings.HasPrefix(address, "0x") || len(address) != 42 || !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: address segment %q is malformed", ErrInvalidAddress, address)
	}

	return &DID{
		DID:     did,
		Address: common.HexToAddress(address).Hex(),
		ChainID: chainID,
	}, nil
}

// ExtractAddress returns the checksummed address embedded in the DID.
// Strict variant of Parse: malformed input is an error.
func ExtractAddress(did string) (string, error) {
	parsed, err := Parse(did)
	if err != nil {
		return "", err
	}
	return parsed.Address, nil
}

// ValidateAddressMatch reports whether the DID embeds the candidate
// address, comparing case-insensitively. Returns false rather than an
// error on any parse failure.
func ValidateAddressMatch(did, candidateAddress string) bool {
	parsed, err := Parse(did)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Address, candidateAddress)
}

// IsWellFormed reports whether the string parses as a did:pkh:eip155
// identifier. Never returns an error.
func IsWellFormed(did string) bool {
	_, err := Parse(did)
	return err == nil
}
