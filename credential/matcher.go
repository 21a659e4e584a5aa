package credential

import (
	"strings"
	"time"
)

// FindMatch scans the pool in input order and returns the first
// credential satisfying the requirement for the given subject address.
// All predicates must hold: issuer equality, subject binding (the
// credentialSubject id contains the lowercased address), handle
// membership when the requirement names handles, minimum issuance age
// when set, and coverage of any required evidence types. Returns false
// when no candidate qualifies.
func FindMatch(pool []Credential, req Requirement, subjectAddress string) (*Credential, bool) {
	return findMatchAt(pool, req, subjectAddress, time.Now())
}

func findMatchAt(pool []Credential, req Requirement, subjectAddress string, now time.Time) (*Credential, bool) {
	wantAddress := strings.ToLower(subjectAddress)

	for i := range pool {
		cand := &pool[i]

		if cand.Issuer != req.Issuer {
			continue
		}
		if !cand.HasType(req.CredentialType) {
			continue
		}
		if !strings.Contains(strings.ToLower(cand.VC.CredentialSubject.ID), wantAddress) {
			continue
		}
		if !claimsSatisfied(cand, req.Claims, now) {
			continue
		}
		return cand, true
	}
	return nil, false
}

func claimsSatisfied(cand *Credential, claims *Claims, now time.Time) bool {
	if claims == nil {
		return true
	}

	if len(claims.Handle) > 0 && !claims.Handle.Contains(cand.VC.CredentialSubject.Handle) {
		return false
	}

	if claims.MinIssuanceAge > 0 {
		issued, err := cand.IssuedAt()
		if err != nil {
			return false
		}
		if now.Sub(issued) < time.Duration(claims.MinIssuanceAge)*time.Second {
			return false
		}
	}

	if len(claims.RequiredEvidence) > 0 {
		have := cand.EvidenceTypes()
		for _, want := range claims.RequiredEvidence {
			found := false
			for _, t := range have {
				if t == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	return true
}
