package gate

import (
	"time"

	"github.com/google/uuid"
)

// Proof type names surfaced in verification reports.
const (
	ProofCredential   = "credential from trusted issuer"
	ProofKeyOwnership = "key ownership proof"
)

// Report records a successful dual-factor verification.
type Report struct {
	ID         string    `json:"id"`
	Issuer     string    `json:"issuer"`
	Address    string    `json:"address"`
	ProofTypes []string  `json:"proofTypes"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

func newReport(issuer, address string) Report {
	return Report{
		ID:         uuid.NewString(),
		Issuer:     issuer,
		Address:    address,
		ProofTypes: []string{ProofCredential, ProofKeyOwnership},
		VerifiedAt: time.Now().UTC(),
	}
}
