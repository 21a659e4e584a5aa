// Package jwt implements the compact user-proof token: a three-segment
// base64url token signed with ES256K over a keccak256 digest and bound
// to the signer's did:pkh identifier.
package jwt

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/didpkh"
)

const (
	// Audience is the fixed aud claim of every user-proof token.
	Audience = "tinycloud:credential-gate"

	// Resource is the fixed resource claim naming what the proof
	// gates access to.
	Resource = "urn:tinycloud:encrypted-secret"

	// ControllerFragment is appended to the signer's DID to form the
	// token's key id.
	ControllerFragment = "#controller"

	// DefaultTTL bounds how long a freshly minted proof stays valid.
	DefaultTTL = 5 * time.Minute

	nonceSize = 16
)

// Purpose binds a proof token to the operation it was minted for.
// Tokens are never reusable across operations.
type Purpose string

const (
	PurposeEncrypt Purpose = "encrypt"
	PurposeDecrypt Purpose = "decrypt"
)

// Header is the decoded JOSE header of a compact token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// ProofPayload is the claim set of a user-proof token. Iss and Sub are
// the same did:pkh identifier; the nonce makes every minted token
// unique even for identical field sets.
type ProofPayload struct {
	Iss                    string                  `json:"iss"`
	Sub                    string                  `json:"sub"`
	Aud                    string                  `json:"aud"`
	Exp                    int64                   `json:"exp"`
	Iat                    int64                   `json:"iat"`
	Nonce                  string                  `json:"nonce"`
	Purpose                Purpose                 `json:"purpose"`
	Resource               string                  `json:"resource"`
	CredentialRequirements *credential.Requirement `json:"credential_requirements,omitempty"`
}

// GetExpirationTime implements jwtlib.Claims.
func (p ProofPayload) GetExpirationTime() (*jwtlib.NumericDate, error) {
	return jwtlib.NewNumericDate(time.Unix(p.Exp, 0)), nil
}

// GetIssuedAt implements jwtlib.Claims.
func (p ProofPayload) GetIssuedAt() (*jwtlib.NumericDate, error) {
	return jwtlib.NewNumericDate(time.Unix(p.Iat, 0)), nil
}

// GetNotBefore implements jwtlib.Claims.
func (p ProofPayload) GetNotBefore() (*jwtlib.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwtlib.Claims.
func (p ProofPayload) GetIssuer() (string, error) {
	return p.Iss, nil
}

// GetSubject implements jwtlib.Claims.
func (p ProofPayload) GetSubject() (string, error) {
	return p.Sub, nil
}

// GetAudience implements jwtlib.Claims.
func (p ProofPayload) GetAudience() (jwtlib.ClaimStrings, error) {
	return jwtlib.ClaimStrings{p.Aud}, nil
}

// Signer mints user-proof tokens for a secp256k1 private key.
type Signer struct {
	priv    *ecdsa.PrivateKey
	address common.Address
	did     string
}

// NewSigner creates a signer from a hex private key. The chain id
// qualifies the derived did:pkh identifier; pass 0 for mainnet.
func NewSigner(privKeyHex string, chainID int64) (*Signer, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	address := crypto.PubkeyToAddress(priv.PublicKey)

	did, err := didpkh.Create(address.Hex(), chainID)
	if err != nil {
		return nil, err
	}

	return &Signer{priv: priv, address: address, did: did}, nil
}

// Address returns the signer's checksummed account address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// DID returns the signer's did:pkh identifier.
func (s *Signer) DID() string {
	return s.did
}

// KeyID returns the key id embedded in token headers.
func (s *Signer) KeyID() string {
	return s.did + ControllerFragment
}

// CompressedPublicKey returns the signer's 33-byte compressed
// secp256k1 public key, for direct-key verification.
func (s *Signer) CompressedPublicKey() []byte {
	return crypto.CompressPubkey(&s.priv.PublicKey)
}

// Sign fills in the identity and temporal claims, draws a fresh nonce,
// and produces the signed compact token. The payload's Iss, Sub, Iat,
// Exp and Nonce fields are overwritten; everything else is kept. A
// negative ttl produces an already-expired token.
func (s *Signer) Sign(payload ProofPayload, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to draw nonce: %w", err)
	}

	now := time.Now()
	payload.Iss = s.did
	payload.Sub = s.did
	payload.Iat = now.Unix()
	payload.Exp = now.Add(ttl).Unix()
	payload.Nonce = base64.RawURLEncoding.EncodeToString(nonce)

	token := jwtlib.NewWithClaims(ES256K, payload)
	token.Header["typ"] = "JWT"
	token.Header["kid"] = s.KeyID()

	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// SignPurposeBound mints a proof token with the fixed audience and
// resource claims, bound to the given requirement and purpose.
func (s *Signer) SignPurposeBound(req credential.Requirement, purpose Purpose, ttl time.Duration) (string, error) {
	payload := ProofPayload{
		Aud:                    Audience,
		Purpose:                purpose,
		Resource:               Resource,
		CredentialRequirements: &req,
	}
	return s.Sign(payload, ttl)
}
