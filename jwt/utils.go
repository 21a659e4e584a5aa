package jwt

import (
	"fmt"
	"strings"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/didpkh"
)

// ParseWithoutVerifying decodes a token's header and payload without
// checking the signature, for inspection. The signature segment may be
// absent, but fewer than two segments is malformed.
func ParseWithoutVerifying(token string) (*Header, *ProofPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(parts))
	}

	return decodeSegments(parts[0], parts[1])
}

// BindsToAddress reports whether the token's iss claim embeds the
// expected address, without verifying the signature. Returns false
// rather than an error on any parse failure.
func BindsToAddress(token, expectedAddress string) bool {
	_, payload, err := ParseWithoutVerifying(token)
	if err != nil {
		return false
	}

	return didpkh.ValidateAddressMatch(payload.Iss, expectedAddress)
}
