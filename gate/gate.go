// Package gate is the dual-factor protocol orchestrator. Access to an
// encrypted secret requires two independent proofs: control of the
// account's secp256k1 key (a fresh ES256K user-proof token) and
// possession of a credential from a trusted issuer (an EdDSA-signed
// verifiable credential). The encryption capability itself is external;
// the gate only releases a decrypt call once both proofs check out.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/jwt"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/policy"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/verifier"
)

var (
	ErrAddressMismatch      = errors.New("address mismatch between bundle and acting signer")
	ErrStaleProof           = errors.New("stale or forged stored proof")
	ErrNoMatchingCredential = errors.New("no matching credential")
	ErrPurposeMismatch      = errors.New("proof purpose mismatch")
	ErrInvalidCredential    = errors.New("credential verification failed")
)

// AccessPolicy is the descriptor handed to the encryption capability.
// It is deliberately permissive: the real gating is the dual-proof
// verification below, not the capability's policy layer.
type AccessPolicy = map[string]any

// DefaultOpenPolicy returns the permissive access-policy descriptor
// stored with every bundle.
func DefaultOpenPolicy() AccessPolicy {
	return AccessPolicy{
		"type":   "open",
		"gating": "application-layer dual-proof",
	}
}

// EncryptionService is the external confidentiality capability. Both
// calls are network-bound in production; the enclave package provides
// an in-process implementation.
type EncryptionService interface {
	Encrypt(ctx context.Context, plaintext string, policy AccessPolicy) (ciphertext, dataToEncryptHash string, err error)
	Decrypt(ctx context.Context, ciphertext, dataToEncryptHash string, policy AccessPolicy) (plaintext string, err error)
}

// Gate wires the policy engine, the credential verifier and the
// encryption capability into the two protocol workflows.
type Gate struct {
	engine      *policy.Engine
	enc         EncryptionService
	credentials *verifier.Verifier
	proofTTL    time.Duration
}

// New builds a gate. A zero ttl falls back to the default proof
// lifetime.
func New(engine *policy.Engine, enc EncryptionService, credentials *verifier.Verifier, proofTTL time.Duration) *Gate {
	if proofTTL == 0 {
		proofTTL = jwt.DefaultTTL
	}
	return &Gate{
		engine:      engine,
		enc:         enc,
		credentials: credentials,
		proofTTL:    proofTTL,
	}
}

// Encrypt validates the requirement, mints an encrypt-purpose proof,
// seals the plaintext through the external capability and assembles
// the immutable bundle. The stored proof is an audit artifact: it is
// never accepted for the later release step.
func (g *Gate) Encrypt(ctx context.Context, signer *jwt.Signer, plaintext string, req credential.Requirement) (*Bundle, error) {
	if err := g.engine.ValidateRequirement(&req); err != nil {
		return nil, err
	}

	proof, err := signer.SignPurposeBound(req, jwt.PurposeEncrypt, g.proofTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint encrypt proof: %w", err)
	}

	accessPolicy := DefaultOpenPolicy()
	ciphertext, dataHash, err := g.enc.Encrypt(ctx, plaintext, accessPolicy)
	if err != nil {
		return nil, fmt.Errorf("encryption capability failed: %w", err)
	}

	return &Bundle{
		Ciphertext:        ciphertext,
		DataToEncryptHash: dataHash,
		AccessPolicy:      accessPolicy,
		Resource:          jwt.Resource,
		Requirement:       req,
		UserSignedJWT:     proof,
		UserAddress:       signer.Address(),
	}, nil
}

// DecryptResult carries the released plaintext and the verification
// report naming both satisfied proof types.
type DecryptResult struct {
	Plaintext string
	Report    Report
}

// Decrypt re-verifies everything before invoking the external decrypt
// capability: the acting signer must match the bundle's address, the
// stored proof must still bind to that address, a fresh decrypt-purpose
// proof is minted (stored proofs are never reusable for release), a
// qualifying credential must exist in the pool, and that credential's
// authenticity is verified against its issuer's published key.
func (g *Gate) Decrypt(ctx context.Context, signer *jwt.Signer, bundle *Bundle, pool []credential.Credential) (*DecryptResult, error) {
	if bundle == nil {
		return nil, fmt.Errorf("%w: bundle is nil", ErrStaleProof)
	}

	address := signer.Address()
	if !strings.EqualFold(bundle.UserAddress, address) {
		return nil, fmt.Errorf("%w: bundle is bound to %s, signer is %s",
			ErrAddressMismatch, bundle.UserAddress, address)
	}

	// Tamper check on the persisted bundle, before any fresh signing.
	if !jwt.BindsToAddress(bundle.UserSignedJWT, address) {
		return nil, fmt.Errorf("%w: stored proof does not bind to %s", ErrStaleProof, address)
	}
	if err := CheckProofPurpose(bundle.UserSignedJWT, jwt.PurposeEncrypt); err != nil {
		return nil, fmt.Errorf("%w: stored proof has wrong purpose", ErrStaleProof)
	}

	freshProof, err := signer.SignPurposeBound(bundle.Requirement, jwt.PurposeDecrypt, g.proofTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint decrypt proof: %w", err)
	}
	proofResult, err := jwt.Verify(freshProof)
	if err != nil {
		return nil, fmt.Errorf("fresh proof verification failed: %w", err)
	}
	if !proofResult.Valid {
		return nil, fmt.Errorf("%w: fresh proof did not validate", ErrStaleProof)
	}

	match, ok := credential.FindMatch(pool, bundle.Requirement, address)
	if !ok {
		return nil, fmt.Errorf("%w: no credential of type %q from issuer %q qualifies",
			ErrNoMatchingCredential, bundle.Requirement.CredentialType, bundle.Requirement.Issuer)
	}

	credResult, err := g.credentials.Verify(ctx, match.JWT, bundle.Requirement.Issuer)
	if err != nil {
		return nil, err
	}
	if !credResult.Valid {
		return nil, fmt.Errorf("%w: issuer %s", ErrInvalidCredential, bundle.Requirement.Issuer)
	}

	plaintext, err := g.enc.Decrypt(ctx, bundle.Ciphertext, bundle.DataToEncryptHash, bundle.AccessPolicy)
	if err != nil {
		return nil, fmt.Errorf("decryption capability failed: %w", err)
	}

	return &DecryptResult{
		Plaintext: plaintext,
		Report:    newReport(bundle.Requirement.Issuer, address),
	}, nil
}

// CheckProofPurpose enforces purpose binding at the protocol level: a
// token minted for one operation is rejected wherever the other is
// expected. The signature is not checked here.
func CheckProofPurpose(token string, want jwt.Purpose) error {
	_, payload, err := jwt.ParseWithoutVerifying(token)
	if err != nil {
		return err
	}
	if payload.Purpose != want {
		return fmt.Errorf("%w: token is bound to %q, expected %q", ErrPurposeMismatch, payload.Purpose, want)
	}
	return nil
}
