package gate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/didweb"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/enclave"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/jwt"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/policy"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/verifier"
)

const (
	alicePrivKey = "c6f8cf675b77523c3d3157d322b3c7c4cc14874f290407398361be1a4c1ed7d0"
	evePrivKey   = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

// testIssuer serves a did:web document for an Ed25519 issuer key and
// signs credential tokens with it.
type testIssuer struct {
	did  string
	priv ed25519.PrivateKey
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	issuer := &testIssuer{priv: priv}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		doc := didweb.Document{
			ID: issuer.did,
			VerificationMethod: []didweb.VerificationMethod{{
				ID:   issuer.did + "#controller",
				Type: "Ed25519VerificationKey2018",
				PublicKeyJwk: &didweb.JWK{
					Kty: "OKP",
					Crv: "Ed25519",
					X:   base64.RawURLEncoding.EncodeToString(pub),
				},
			}},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	issuer.did = "did:web:" + strings.ReplaceAll(u.Host, ":", "%3A")

	return issuer
}

func (i *testIssuer) issueCredential(t *testing.T, subjectAddress, handle string) credential.Credential {
	t.Helper()

	subjectID := "did:pkh:eip155:1:" + strings.ToLower(subjectAddress)
	header := map[string]any{"alg": "EdDSA", "typ": "JWT", "kid": i.did + "#controller"}
	payload := map[string]any{
		"iss": i.did,
		"sub": subjectID,
		"vc": map[string]any{
			"type":              []string{"VerifiableCredential", credential.TypeGitHubVerification},
			"credentialSubject": map[string]any{"id": subjectID, "handle": handle},
			"issuanceDate":      time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		},
	}

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)
	sig := ed25519.Sign(i.priv, []byte(signingInput))
	token := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)

	cred, err := credential.Parse(token)
	require.NoError(t, err)
	return *cred
}

// testGate assembles a gate around the local enclave, a trust list
// containing only the test issuer, and an insecure-HTTP resolver.
func testGate(t *testing.T, issuer *testIssuer) *Gate {
	t.Helper()

	svc, err := enclave.NewEphemeralService()
	require.NoError(t, err)

	engine := policy.NewEngine(policy.Config{TrustedIssuers: []string{issuer.did}})
	creds := verifier.New(didweb.NewResolver(didweb.WithInsecureHTTP()))

	return New(engine, svc, creds, 0)
}

func requirementFor(issuer *testIssuer, handles ...string) credential.Requirement {
	return credential.Requirement{
		Issuer:         issuer.did,
		CredentialType: credential.TypeGitHubVerification,
		Claims:         &credential.Claims{Handle: credential.StringOrList(handles)},
	}
}

func TestEncryptDecryptEndToEnd(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "the plaintext secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)
	assert.Equal(t, alice.Address(), bundle.UserAddress)
	assert.Equal(t, jwt.Resource, bundle.Resource)
	require.NoError(t, CheckProofPurpose(bundle.UserSignedJWT, jwt.PurposeEncrypt))

	pool := []credential.Credential{issuer.issueCredential(t, alice.Address(), "alice")}

	result, err := g.Decrypt(ctx, alice, bundle, pool)
	require.NoError(t, err)
	assert.Equal(t, "the plaintext secret", result.Plaintext)
	assert.ElementsMatch(t, []string{ProofCredential, ProofKeyOwnership}, result.Report.ProofTypes)
	assert.NotEmpty(t, result.Report.ID)
}

func TestDecryptRejectsDifferentSigner(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)
	eve, err := jwt.NewSigner(evePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	pool := []credential.Credential{issuer.issueCredential(t, eve.Address(), "alice")}
	_, err = g.Decrypt(ctx, eve, bundle, pool)
	assert.ErrorIs(t, err, ErrAddressMismatch)
}

func TestDecryptRejectsWrongHandle(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	pool := []credential.Credential{issuer.issueCredential(t, alice.Address(), "bob")}
	_, err = g.Decrypt(ctx, alice, bundle, pool)
	require.ErrorIs(t, err, ErrNoMatchingCredential)
	assert.Contains(t, err.Error(), credential.TypeGitHubVerification)
	assert.Contains(t, err.Error(), issuer.did)
}

func TestDecryptRejectsTamperedStoredProof(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)
	eve, err := jwt.NewSigner(evePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	// Swap in a proof from a different signer, keeping the address.
	forged, err := eve.SignPurposeBound(bundle.Requirement, jwt.PurposeEncrypt, 0)
	require.NoError(t, err)
	bundle.UserSignedJWT = forged

	pool := []credential.Credential{issuer.issueCredential(t, alice.Address(), "alice")}
	_, err = g.Decrypt(ctx, alice, bundle, pool)
	assert.ErrorIs(t, err, ErrStaleProof)
}

func TestDecryptRejectsForgedCredential(t *testing.T) {
	issuer := newTestIssuer(t)
	imposter := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	// Credential signed by the imposter's key but claiming the
	// trusted issuer's DID.
	cred := imposter.issueCredential(t, alice.Address(), "alice")
	cred.Issuer = issuer.did

	_, err = g.Decrypt(ctx, alice, bundle, []credential.Credential{cred})
	assert.ErrorIs(t, err, verifier.ErrInvalidSignature)
}

func TestEncryptRejectsUntrustedIssuer(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	req := requirementFor(issuer, "alice")
	req.Issuer = "did:web:evil.example.com"

	_, err = g.Encrypt(ctx, alice, "secret", req)
	assert.ErrorIs(t, err, policy.ErrUntrustedIssuer)
}

func TestCheckProofPurpose(t *testing.T) {
	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	req := credential.Requirement{
		Issuer:         "did:web:rebasedemokey.pages.dev",
		CredentialType: credential.TypeGitHubVerification,
	}
	encryptToken, err := alice.SignPurposeBound(req, jwt.PurposeEncrypt, 0)
	require.NoError(t, err)

	assert.NoError(t, CheckProofPurpose(encryptToken, jwt.PurposeEncrypt))
	assert.ErrorIs(t, CheckProofPurpose(encryptToken, jwt.PurposeDecrypt), ErrPurposeMismatch)
	assert.Error(t, CheckProofPurpose("garbage", jwt.PurposeDecrypt))
}

func TestParseBundleRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	parsed, err := ParseBundle(raw)
	require.NoError(t, err)
	assert.Equal(t, bundle.UserAddress, parsed.UserAddress)
	assert.Equal(t, bundle.Requirement.Issuer, parsed.Requirement.Issuer)
	assert.Equal(t, bundle.Ciphertext, parsed.Ciphertext)
}

func TestParseBundleRejectsTampering(t *testing.T) {
	issuer := newTestIssuer(t)
	g := testGate(t, issuer)
	ctx := context.Background()

	alice, err := jwt.NewSigner(alicePrivKey, 1)
	require.NoError(t, err)

	bundle, err := g.Encrypt(ctx, alice, "secret", requirementFor(issuer, "alice"))
	require.NoError(t, err)

	// Re-point the bundle at a different address; the stored proof no
	// longer binds.
	bundle.UserAddress = "0x0000000000000000000000000000000000000001"
	raw, err := json.Marshal(bundle)
	require.NoError(t, err)

	_, err = ParseBundle(raw)
	assert.ErrorIs(t, err, ErrMalformedBundle)

	_, err = ParseBundle([]byte(`{"ciphertext":"x"}`))
	assert.ErrorIs(t, err, ErrMalformedBundle)

	_, err = ParseBundle([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedBundle)
}
