package jwt

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/didpkh"
)

var (
	ErrMalformedToken         = errors.New("malformed token")
	ErrUnsupportedAlgorithm   = errors.New("unsupported algorithm")
	ErrInvalidDIDFormat       = errors.New("invalid DID in token")
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	ErrTokenExpired           = errors.New("token expired")
)

// Result is the outcome of verifying a user-proof token. Expiry and
// recovery failure are reported through Valid; structural problems are
// returned as errors.
type Result struct {
	Header  Header
	Payload ProofPayload
	Valid   bool
}

// Verifier validates user-proof tokens by trial public-key recovery
// against the address embedded in the token's iss claim.
type Verifier struct {
	// ExpiryAsError turns an elapsed exp claim into a hard error
	// instead of a Valid=false result. Off by default: the ES256K
	// path reports expiry softly, unlike the EdDSA credential path.
	ExpiryAsError bool

	now func() time.Time
}

// NewVerifier returns a verifier with the default soft-expiry
// behavior.
func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

// Verify validates the token's framing, issuer binding, lifetime and
// signature. The signature is accepted when either recovery parity
// yields the address embedded in iss.
func (v *Verifier) Verify(token string) (*Result, error) {
	parts, err := splitCompact(token)
	if err != nil {
		return nil, err
	}

	header, payload, err := decodeSegments(parts[0], parts[1])
	if err != nil {
		return nil, err
	}

	if header.Alg != ES256K.Alg() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Alg)
	}

	if !didpkh.IsWellFormed(payload.Iss) {
		return nil, fmt.Errorf("%w: iss %q is not a did:pkh:eip155 identifier", ErrInvalidDIDFormat, payload.Iss)
	}
	if payload.Iss != payload.Sub {
		return nil, fmt.Errorf("%w: iss %q and sub %q differ", ErrInvalidDIDFormat, payload.Iss, payload.Sub)
	}

	address, err := didpkh.ExtractAddress(payload.Iss)
	if err != nil {
		return nil, err
	}

	result := &Result{Header: *header, Payload: *payload}

	now := time.Now
	if v.now != nil {
		now = v.now
	}
	if payload.Exp < now().Unix() {
		if v.ExpiryAsError {
			return result, fmt.Errorf("%w: exp %d has elapsed", ErrTokenExpired, payload.Exp)
		}
		return result, nil
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature segment is not base64url: %v", ErrMalformedToken, err)
	}
	if len(signature) != 64 {
		return nil, fmt.Errorf("%w: got %d bytes, want 64", ErrInvalidSignatureLength, len(signature))
	}

	digest := crypto.Keccak256([]byte(parts[0] + "." + parts[1]))
	result.Valid = recoveredAddressMatches(digest, signature, address)

	return result, nil
}

// Verify validates a token with the default verifier.
func Verify(token string) (*Result, error) {
	return NewVerifier().Verify(token)
}

// VerifyWithKey checks a token's signature against a known 33-byte
// compressed secp256k1 public key, bypassing trial recovery. For
// deployments that resolve the signer's key out of band. The token's
// framing and algorithm are still enforced; expiry is not.
func VerifyWithKey(token string, compressedPubKey []byte) (bool, error) {
	parts, err := splitCompact(token)
	if err != nil {
		return false, err
	}

	header, _, err := decodeSegments(parts[0], parts[1])
	if err != nil {
		return false, err
	}
	if header.Alg != ES256K.Alg() {
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Alg)
	}

	pubKey, err := btcec.ParsePubKey(compressedPubKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: signature segment is not base64url: %v", ErrMalformedToken, err)
	}
	if len(signature) != 64 {
		return false, fmt.Errorf("%w: got %d bytes, want 64", ErrInvalidSignatureLength, len(signature))
	}

	digest := crypto.Keccak256([]byte(parts[0] + "." + parts[1]))
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])

	return ecdsa.Verify(pubKey.ToECDSA(), digest, r, s), nil
}

func splitCompact(token string) ([]string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: segment %d is empty", ErrMalformedToken, i)
		}
	}
	return parts, nil
}

func decodeSegments(headerSeg, payloadSeg string) (*Header, *ProofPayload, error) {
	headerBytes, err := base64.RawURLEncoding.DecodeString(headerSeg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: header segment is not base64url: %v", ErrMalformedToken, err)
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: header is not valid JSON: %v", ErrMalformedToken, err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: payload segment is not base64url: %v", ErrMalformedToken, err)
	}

	var payload ProofPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedToken, err)
	}

	return &header, &payload, nil
}
