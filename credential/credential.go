// Package credential defines the credential-requirement and
// verifiable-credential data model shared by the policy engine, the
// matcher and the protocol orchestrator.
package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TypeGitHubVerification is the one credential type the protocol
// currently accepts.
const TypeGitHubVerification = "GitHubVerification"

var ErrMalformedCredential = errors.New("malformed credential token")

// StringOrList accepts a JSON string or a JSON array of strings. A
// single value marshals back to a bare string so requirement documents
// round-trip in their original shape.
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrList{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("value must be a string or an array of strings: %w", err)
	}
	*s = StringOrList(list)
	return nil
}

func (s StringOrList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Contains reports whether v equals one of the accepted values.
func (s StringOrList) Contains(v string) bool {
	for _, accepted := range s {
		if accepted == v {
			return true
		}
	}
	return false
}

// Claims are the optional claim predicates of a requirement.
type Claims struct {
	Handle           StringOrList `json:"handle,omitempty"`
	MinIssuanceAge   int64        `json:"minIssuanceAge,omitempty"` // seconds
	RequiredEvidence []string     `json:"requiredEvidence,omitempty"`
}

// Requirement describes which credential a holder must present: an
// issuer DID, a credential type, and optional claim predicates.
type Requirement struct {
	Issuer         string  `json:"issuer"`
	CredentialType string  `json:"credentialType"`
	Claims         *Claims `json:"claims,omitempty"`
}

// Subject is the credentialSubject of a verifiable credential. The id
// is a DID-like string binding the credential to an account.
type Subject struct {
	ID     string `json:"id"`
	Handle string `json:"handle,omitempty"`
}

// Evidence is an issuer-defined evidence entry. Only the type list is
// interpreted here.
type Evidence struct {
	Type StringOrList `json:"type,omitempty"`
}

// VC is the verifiable-credential envelope inside a credential token
// payload.
type VC struct {
	Type              []string   `json:"type"`
	CredentialSubject Subject    `json:"credentialSubject"`
	Evidence          []Evidence `json:"evidence,omitempty"`
	IssuanceDate      string     `json:"issuanceDate,omitempty"`
}

// Credential is a decoded credential token from the holder's pool. JWT
// retains the compact form so authenticity can be re-verified against
// the issuer's published key.
type Credential struct {
	JWT     string `json:"-"`
	Issuer  string `json:"iss"`
	Subject string `json:"sub,omitempty"`
	VC      VC     `json:"vc"`
}

// HasType reports whether the credential carries the given type.
func (c *Credential) HasType(credentialType string) bool {
	for _, t := range c.VC.Type {
		if t == credentialType {
			return true
		}
	}
	return false
}

// IssuedAt parses the credential's issuanceDate. Returns an error when
// the field is absent or not RFC 3339.
func (c *Credential) IssuedAt() (time.Time, error) {
	if c.VC.IssuanceDate == "" {
		return time.Time{}, fmt.Errorf("%w: credential has no issuanceDate", ErrMalformedCredential)
	}
	issued, err := time.Parse(time.RFC3339, c.VC.IssuanceDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad issuanceDate %q: %v", ErrMalformedCredential, c.VC.IssuanceDate, err)
	}
	return issued, nil
}

// EvidenceTypes collects every evidence type named by the credential.
func (c *Credential) EvidenceTypes() []string {
	var types []string
	for _, ev := range c.VC.Evidence {
		types = append(types, ev.Type...)
	}
	return types
}

// Parse decodes a compact credential token's payload without verifying
// its signature. Authenticity is the verifier package's job; this only
// builds the pool entry used for matching.
func Parse(token string) (*Credential, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedCredential, len(parts))
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedCredential, err)
	}

	var cred Credential
	if err := json.Unmarshal(payloadBytes, &cred); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedCredential, err)
	}
	cred.JWT = token

	return &cred, nil
}

// ParsePool decodes a slice of compact credential tokens, skipping
// entries that do not decode. Used to build the candidate pool from a
// holder's stored tokens.
func ParsePool(tokens []string) []Credential {
	pool := make([]Credential, 0, len(tokens))
	for _, token := range tokens {
		cred, err := Parse(token)
		if err != nil {
			continue
		}
		pool = append(pool, *cred)
	}
	return pool
}
