// Package verifier validates externally issued EdDSA credential tokens
// against the issuer's published did:web document.
package verifier

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/didweb"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/jwt"
)

var (
	ErrMalformedToken       = errors.New("malformed credential token")
	ErrUnsupportedAlgorithm = errors.New("unsupported credential algorithm")
	ErrInvalidSignature     = errors.New("invalid credential signature")
	ErrExpired              = errors.New("credential expired")
	ErrNotYetValid          = errors.New("credential not yet valid")
)

// eddsaKeyTypes are the verification-method types that denote an
// EdDSA-capable key.
var eddsaKeyTypes = map[string]bool{
	"Ed25519VerificationKey2018": true,
	"Ed25519VerificationKey2020": true,
	"JsonWebKey2020":             true,
}

// Result reports a successful or failed credential verification.
type Result struct {
	Valid      bool
	Header     jwt.Header
	Credential *credential.Credential
	Issuer     string
}

// Verifier resolves issuer keys over did:web and verifies EdDSA
// credential tokens.
type Verifier struct {
	// ExpiryAsError makes elapsed exp and future nbf hard errors.
	// On by default: the credential path hard-fails on temporal
	// violations, unlike the ES256K user-proof path.
	ExpiryAsError bool

	resolver *didweb.Resolver
	now      func() time.Time
}

// New creates a credential verifier. A nil resolver gets the default
// did:web resolver.
func New(resolver *didweb.Resolver) *Verifier {
	if resolver == nil {
		resolver = didweb.NewResolver()
	}
	return &Verifier{
		ExpiryAsError: true,
		resolver:      resolver,
		now:           time.Now,
	}
}

// ResolveIssuerKey fetches the issuer's DID document and picks the
// EdDSA key matching the kid hint, falling back to the conventional
// #controller entry.
func (v *Verifier) ResolveIssuerKey(ctx context.Context, issuerDID, kidHint string) (ed25519.PublicKey, error) {
	doc, err := v.resolver.Resolve(ctx, issuerDID)
	if err != nil {
		return nil, err
	}

	for _, vm := range doc.VerificationMethod {
		if !eddsaKeyTypes[vm.Type] {
			continue
		}
		if vm.ID != kidHint && !strings.HasSuffix(vm.ID, jwt.ControllerFragment) {
			continue
		}
		key, err := vm.Ed25519Key()
		if err != nil {
			continue
		}
		return ed25519.PublicKey(key), nil
	}

	return nil, fmt.Errorf("%w: no EdDSA key matching %q in document for %s",
		didweb.ErrKeyNotFound, kidHint, issuerDID)
}

// Verify checks the credential token's signature against the issuer's
// published key and enforces its exp/nbf claims. The issuer key fetch
// is the only network call; it is bounded by the resolver's timeout
// and the caller's context.
func (v *Verifier) Verify(ctx context.Context, token, issuerDID string) (*Result, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header segment is not base64url: %v", ErrMalformedToken, err)
	}
	var header jwt.Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not valid JSON: %v", ErrMalformedToken, err)
	}

	if header.Alg != "EdDSA" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, header.Alg)
	}

	key, err := v.ResolveIssuerKey(ctx, issuerDID, header.Kid)
	if err != nil {
		return nil, err
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature segment is not base64url: %v", ErrMalformedToken, err)
	}

	signingInput := []byte(parts[0] + "." + parts[1])
	if !ed25519.Verify(key, signingInput, signature) {
		return nil, fmt.Errorf("%w: issuer %s", ErrInvalidSignature, issuerDID)
	}

	cred, err := credential.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	result := &Result{Header: header, Credential: cred, Issuer: issuerDID}

	if ok, err := v.checkValidityWindow(parts[1]); err != nil {
		return result, err
	} else if !ok {
		return result, nil
	}

	result.Valid = true
	return result, nil
}

// checkValidityWindow enforces exp and nbf when present. Returns
// (false, nil) only when ExpiryAsError is off.
func (v *Verifier) checkValidityWindow(payloadSeg string) (bool, error) {
	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		return false, fmt.Errorf("%w: payload segment is not base64url: %v", ErrMalformedToken, err)
	}

	var window struct {
		Exp int64 `json:"exp,omitempty"`
		Nbf int64 `json:"nbf,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &window); err != nil {
		return false, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedToken, err)
	}

	now := v.now().Unix()

	if window.Exp > 0 && window.Exp < now {
		if v.ExpiryAsError {
			return false, fmt.Errorf("%w: exp %d has elapsed", ErrExpired, window.Exp)
		}
		return false, nil
	}
	if window.Nbf > 0 && window.Nbf > now {
		if v.ExpiryAsError {
			return false, fmt.Errorf("%w: nbf %d is in the future", ErrNotYetValid, window.Nbf)
		}
		return false, nil
	}

	return true, nil
}
