package jwt

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
)

const (
	testPrivKey       = "c6f8cf675b77523c3d3157d322b3c7c4cc14874f290407398361be1a4c1ed7d0"
	otherPrivKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testTrustedIssuer = "did:web:rebasedemokey.pages.dev"
)

func testRequirement() credential.Requirement {
	return credential.Requirement{
		Issuer:         testTrustedIssuer,
		CredentialType: credential.TypeGitHubVerification,
		Claims:         &credential.Claims{Handle: credential.StringOrList{"alice"}},
	}
}

func encodeJSONSegment(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(data)
}

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(strings.Split(token, ".")))

	result, err := Verify(token)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "ES256K", result.Header.Alg)
	assert.Equal(t, "JWT", result.Header.Typ)
	assert.Equal(t, signer.KeyID(), result.Header.Kid)
	assert.Equal(t, signer.DID(), result.Payload.Iss)
	assert.Equal(t, signer.DID(), result.Payload.Sub)
	assert.Equal(t, Audience, result.Payload.Aud)
	assert.Equal(t, Resource, result.Payload.Resource)
	assert.Equal(t, PurposeEncrypt, result.Payload.Purpose)
	require.NotNil(t, result.Payload.CredentialRequirements)
	assert.Equal(t, testTrustedIssuer, result.Payload.CredentialRequirements.Issuer)
	assert.Greater(t, result.Payload.Exp, result.Payload.Iat)
}

func TestVerifyDetectsTamperedSignature(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for _, i := range []int{0, 17, 63} {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		flipped[i] ^= 0x01

		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)
		result, err := Verify(tampered)
		if err == nil {
			assert.False(t, result.Valid, "byte %d flip must not verify", i)
		}
	}
}

func TestVerifyRejectsSubstitutedSignature(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)
	other, err := NewSigner(otherPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)
	otherToken, err := other.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	otherParts := strings.Split(otherToken, ".")

	result, err := Verify(parts[0] + "." + parts[1] + "." + otherParts[2])
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyExpiryIsSoft(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeDecrypt, -time.Minute)
	require.NoError(t, err)

	result, err := Verify(token)
	require.NoError(t, err, "expiry must not be a hard failure")
	assert.False(t, result.Valid)
	assert.Equal(t, PurposeDecrypt, result.Payload.Purpose, "payload is still reported for expired tokens")
}

func TestVerifyExpiryAsErrorFlag(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeDecrypt, -time.Minute)
	require.NoError(t, err)

	v := NewVerifier()
	v.ExpiryAsError = true
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestNonceUniqueness(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	a, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)
	b, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	_, payloadA, err := ParseWithoutVerifying(a)
	require.NoError(t, err)
	_, payloadB, err := ParseWithoutVerifying(b)
	require.NoError(t, err)
	assert.NotEqual(t, payloadA.Nonce, payloadB.Nonce)
	assert.NotEmpty(t, payloadA.Nonce)
}

func TestVerifyMalformedFraming(t *testing.T) {
	for _, token := range []string{"", "one", "one.two", "one.two.three.four", "..", "a..c"} {
		_, err := Verify(token)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	header := encodeJSONSegment(t, Header{Alg: "HS256", Typ: "JWT"})
	payload := encodeJSONSegment(t, ProofPayload{
		Iss: signer.DID(), Sub: signer.DID(),
		Exp: time.Now().Add(time.Minute).Unix(),
	})
	sig := base64.RawURLEncoding.EncodeToString(make([]byte, 64))

	_, err = Verify(header + "." + payload + "." + sig)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestVerifyIssuerSubjectBinding(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)
	other, err := NewSigner(otherPrivKey, 1)
	require.NoError(t, err)

	header := encodeJSONSegment(t, Header{Alg: "ES256K", Typ: "JWT", Kid: signer.KeyID()})
	sig := base64.RawURLEncoding.EncodeToString(make([]byte, 64))
	exp := time.Now().Add(time.Minute).Unix()

	// iss and sub differ
	payload := encodeJSONSegment(t, ProofPayload{Iss: signer.DID(), Sub: other.DID(), Exp: exp})
	_, err = Verify(header + "." + payload + "." + sig)
	assert.ErrorIs(t, err, ErrInvalidDIDFormat)

	// iss is not a did:pkh identifier
	payload = encodeJSONSegment(t, ProofPayload{Iss: "did:web:example.com", Sub: "did:web:example.com", Exp: exp})
	_, err = Verify(header + "." + payload + "." + sig)
	assert.ErrorIs(t, err, ErrInvalidDIDFormat)
}

func TestVerifySignatureLength(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	short := base64.RawURLEncoding.EncodeToString(make([]byte, 63))

	_, err = Verify(parts[0] + "." + parts[1] + "." + short)
	assert.ErrorIs(t, err, ErrInvalidSignatureLength)
}

func TestParseWithoutVerifying(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	header, payload, err := ParseWithoutVerifying(token)
	require.NoError(t, err)
	assert.Equal(t, "ES256K", header.Alg)
	assert.Equal(t, signer.DID(), payload.Iss)

	// Two segments are enough for inspection.
	parts := strings.Split(token, ".")
	_, _, err = ParseWithoutVerifying(parts[0] + "." + parts[1])
	assert.NoError(t, err)

	_, _, err = ParseWithoutVerifying("justone")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestBindsToAddress(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	assert.True(t, BindsToAddress(token, signer.Address()))
	assert.True(t, BindsToAddress(token, strings.ToLower(signer.Address())))
	assert.False(t, BindsToAddress(token, "0x0000000000000000000000000000000000000001"))
	assert.False(t, BindsToAddress("not.a.token", signer.Address()))
}

func TestVerifyWithKey(t *testing.T) {
	signer, err := NewSigner(testPrivKey, 1)
	require.NoError(t, err)
	other, err := NewSigner(otherPrivKey, 1)
	require.NoError(t, err)

	token, err := signer.SignPurposeBound(testRequirement(), PurposeEncrypt, 0)
	require.NoError(t, err)

	ok, err := VerifyWithKey(token, signer.CompressedPublicKey())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyWithKey(token, other.CompressedPublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}
