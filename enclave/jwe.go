package enclave

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jwe is the JSON serialization of a sealed secret. The GCM tag stays
// appended to the ciphertext.
type jwe struct {
	Protected  string `json:"protected"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// protectedHeader returns the base64url-encoded JWE header. Direct
// symmetric encryption, AES-256-GCM.
func protectedHeader() string {
	return base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"dir","enc":"A256GCM"}`))
}

func buildJWE(protected string, nonce, sealed []byte) string {
	out, _ := json.Marshal(jwe{
		Protected:  protected,
		IV:         base64.RawURLEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawURLEncoding.EncodeToString(sealed),
	})
	return string(out)
}

func parseJWE(raw string) (protected string, nonce, sealed []byte, err error) {
	var env jwe
	if err = json.Unmarshal([]byte(raw), &env); err != nil {
		return "", nil, nil, fmt.Errorf("malformed JWE: %w", err)
	}

	nonce, err = base64.RawURLEncoding.DecodeString(env.IV)
	if err != nil {
		return "", nil, nil, fmt.Errorf("malformed JWE iv: %w", err)
	}

	sealed, err = base64.RawURLEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", nil, nil, fmt.Errorf("malformed JWE ciphertext: %w", err)
	}

	return env.Protected, nonce, sealed, nil
}
