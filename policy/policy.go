// Package policy evaluates credential requirements against a
// configured, immutable trust list. The engine is a pure function of
// its configuration; no ambient globals, no runtime mutation.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
)

// SupportedCredentialType is the one credential type the policy
// currently accepts.
const SupportedCredentialType = credential.TypeGitHubVerification

var (
	ErrUntrustedIssuer           = errors.New("untrusted issuer")
	ErrUnsupportedCredentialType = errors.New("unsupported credential type")
	ErrInvalidClaimValue         = errors.New("invalid claim value")
)

// Engine holds the trust list. Construct once at startup; safe for
// concurrent reads.
type Engine struct {
	trusted map[string]struct{}
	ordered []string
}

// NewEngine builds an engine from the configuration's trust list.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		trusted: make(map[string]struct{}, len(cfg.TrustedIssuers)),
		ordered: make([]string, 0, len(cfg.TrustedIssuers)),
	}
	for _, issuer := range cfg.TrustedIssuers {
		if _, seen := e.trusted[issuer]; seen {
			continue
		}
		e.trusted[issuer] = struct{}{}
		e.ordered = append(e.ordered, issuer)
	}
	return e
}

// IsTrustedIssuer reports whether the issuer is on the trust list.
func (e *Engine) IsTrustedIssuer(issuer string) bool {
	_, ok := e.trusted[issuer]
	return ok
}

// TrustedIssuers returns a copy of the trust list in configured order.
func (e *Engine) TrustedIssuers() []string {
	out := make([]string, len(e.ordered))
	copy(out, e.ordered)
	return out
}

// ValidateRequirement checks that a requirement names a trusted
// issuer, a supported credential type, and well-formed claims. The
// untrusted-issuer message enumerates the trusted set for diagnostics.
//
// Handle values are only required to be non-empty strings; stricter
// format checks (handle charset etc.) are left to issuers.
func (e *Engine) ValidateRequirement(req *credential.Requirement) error {
	if req == nil {
		return fmt.Errorf("%w: requirement is nil", ErrInvalidClaimValue)
	}

	if !e.IsTrustedIssuer(req.Issuer) {
		return fmt.Errorf("%w: %q (trusted issuers: %s)",
			ErrUntrustedIssuer, req.Issuer, strings.Join(e.ordered, ", "))
	}

	if req.CredentialType != SupportedCredentialType {
		return fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedCredentialType, req.CredentialType, SupportedCredentialType)
	}

	if req.Claims != nil {
		for _, handle := range req.Claims.Handle {
			if strings.TrimSpace(handle) == "" {
				return fmt.Errorf("%w: handle values must be non-empty strings", ErrInvalidClaimValue)
			}
		}
		if req.Claims.MinIssuanceAge < 0 {
			return fmt.Errorf("%w: minIssuanceAge must not be negative", ErrInvalidClaimValue)
		}
		for _, ev := range req.Claims.RequiredEvidence {
			if strings.TrimSpace(ev) == "" {
				return fmt.Errorf("%w: requiredEvidence entries must be non-empty strings", ErrInvalidClaimValue)
			}
		}
	}

	return nil
}
