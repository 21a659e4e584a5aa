package jwt

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethodES256K implements ES256K signing over a keccak256
// digest of the signing input. The digest itself is the signed message;
// no secondary hashing happens inside the signature primitive.
type SigningMethodES256K struct{}

// Alg returns the algorithm name.
func (m *SigningMethodES256K) Alg() string {
	return "ES256K"
}

// Sign signs the keccak256 digest of the signing string with a
// secp256k1 private key. The signature is the 64-byte r||s form; the
// recovery id is dropped and resolved at verification time by trial
// recovery.
func (m *SigningMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	privKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("invalid key type %T, want *ecdsa.PrivateKey", key)
	}

	digest := crypto.Keccak256([]byte(signingString))

	sig, err := crypto.Sign(digest, privKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return sig[:64], nil // r and s, excluding recovery id
}

// Verify checks the signature by recovering the signer's address from
// the digest. The key is the expected 0x-prefixed account address.
func (m *SigningMethodES256K) Verify(signingString string, signature []byte, key interface{}) error {
	expectedAddress, ok := key.(string)
	if !ok {
		return fmt.Errorf("invalid key type %T, want expected address string", key)
	}

	if len(signature) != 64 {
		return fmt.Errorf("%w: got %d bytes, want 64", ErrInvalidSignatureLength, len(signature))
	}

	digest := crypto.Keccak256([]byte(signingString))
	if !recoveredAddressMatches(digest, signature, expectedAddress) {
		return fmt.Errorf("signature does not recover to %s", expectedAddress)
	}

	return nil
}

// ES256K is the ES256K signing method instance.
var ES256K = &SigningMethodES256K{}

func init() {
	jwt.RegisterSigningMethod(ES256K.Alg(), func() jwt.SigningMethod {
		return ES256K
	})
}

// recoveredAddressMatches tries both legacy recovery ids and reports
// whether either recovered public key maps to the expected address.
func recoveredAddressMatches(digest, signature []byte, expectedAddress string) bool {
	sig := make([]byte, 65)
	copy(sig, signature)

	for _, recoveryID := range []byte{0, 1} {
		sig[64] = recoveryID

		pubKey, err := crypto.SigToPub(digest, sig)
		if err != nil {
			continue
		}

		recovered := crypto.PubkeyToAddress(*pubKey)
		if strings.EqualFold(recovered.Hex(), expectedAddress) {
			return true
		}
	}

	return false
}
