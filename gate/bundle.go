package gate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/jwt"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/policy"
)

var ErrMalformedBundle = errors.New("malformed bundle")

// Bundle is the immutable output of the encrypt phase. Decryption
// never mutates it; release re-derives a fresh proof bound to the same
// requirement and address.
type Bundle struct {
	Ciphertext        string                 `json:"ciphertext"`
	DataToEncryptHash string                 `json:"dataToEncryptHash"`
	AccessPolicy      AccessPolicy           `json:"accessPolicyDescriptor"`
	Resource          string                 `json:"resourceString"`
	Requirement       credential.Requirement `json:"credentialRequirements"`
	UserSignedJWT     string                 `json:"userSignedJWT"`
	UserAddress       string                 `json:"userAddress"`
}

// Validate checks the bundle's internal invariants: the stored proof
// must bind to the bundle's address.
func (b *Bundle) Validate() error {
	if b.Ciphertext == "" || b.DataToEncryptHash == "" {
		return fmt.Errorf("%w: missing ciphertext or hash", ErrMalformedBundle)
	}
	if b.UserSignedJWT == "" || b.UserAddress == "" {
		return fmt.Errorf("%w: missing stored proof or address", ErrMalformedBundle)
	}
	if !jwt.BindsToAddress(b.UserSignedJWT, b.UserAddress) {
		return fmt.Errorf("%w: stored proof does not bind to %s", ErrMalformedBundle, b.UserAddress)
	}
	return nil
}

// ParseBundle decodes a persisted bundle, validating the embedded
// requirement document against its schema and the bundle's own
// invariants.
func ParseBundle(raw []byte) (*Bundle, error) {
	var probe struct {
		Requirement json.RawMessage `json:"credentialRequirements"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if len(probe.Requirement) == 0 {
		return nil, fmt.Errorf("%w: missing credentialRequirements", ErrMalformedBundle)
	}
	if err := policy.ValidateRequirementDocument(probe.Requirement); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	return &bundle, nil
}
