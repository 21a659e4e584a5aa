package enclave

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// SharedKey derives a 32-byte symmetric key from a secp256k1 ECDH
// agreement. privKeyHex is a 32-byte private scalar; peerPubKeyHex is
// the peer's compressed or uncompressed public key.
func SharedKey(privKeyHex, peerPubKeyHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	privKey := secp256k1.PrivKeyFromBytes(privBytes)

	pubBytes, err := hex.DecodeString(strings.TrimPrefix(peerPubKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode peer public key: %w", err)
	}
	pubKey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer public key: %w", err)
	}

	shared := secp256k1.GenerateSharedSecret(privKey, pubKey)

	return shared[:], nil
}
