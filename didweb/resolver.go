// Package didweb resolves did:web identifiers to their published DID
// documents. A bare-domain identifier maps to
// https://<domain>/.well-known/did.json; additional colon-separated
// segments map to path components (did:web:host:a:b ->
// https://host/a/b/did.json). Ports are percent-encoded (%3A).
package didweb

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/multiformats/go-multibase"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds the document fetch. The upstream design
	// had no explicit timeout; this is a deliberate addition.
	DefaultTimeout = 10 * time.Second

	wellKnownPath = ".well-known"
	documentFile  = "did.json"
)

// multicodec prefix for an Ed25519 public key inside a
// publicKeyMultibase value.
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

var (
	ErrResolutionFailed = errors.New("issuer resolution failed")
	ErrKeyNotFound      = errors.New("key not found in DID document")
	ErrInvalidDID       = errors.New("invalid did:web identifier")
)

// JWK is the publicKeyJwk form of key material.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// VerificationMethod is a single entry of a DID document's
// verification-method list.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyJwk       *JWK   `json:"publicKeyJwk,omitempty"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
}

// Document is a resolved DID document.
type Document struct {
	Context            any                  `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []any                `json:"authentication,omitempty"`
	AssertionMethod    []any                `json:"assertionMethod,omitempty"`
}

// Resolver fetches DID documents over HTTP. Concurrent resolutions of
// the same identifier are collapsed into one fetch.
type Resolver struct {
	client *http.Client
	scheme string
	group  singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithInsecureHTTP switches the resolver to plain http. Test use only.
func WithInsecureHTTP() Option {
	return func(r *Resolver) {
		r.scheme = "http"
	}
}

// NewResolver creates a resolver with a 10s timeout and an
// instrumented transport.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		scheme: "https",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URL maps a did:web identifier to its document URL.
func (r *Resolver) URL(did string) (string, error) {
	rest, ok := strings.CutPrefix(did, "did:web:")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}

	segments := strings.Split(rest, ":")
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil || decoded == "" {
			return "", fmt.Errorf("%w: bad segment %q", ErrInvalidDID, seg)
		}
		segments[i] = decoded
	}

	domain := segments[0]
	path := strings.Join(segments[1:], "/")
	if path == "" {
		path = wellKnownPath
	}

	return fmt.Sprintf("%s://%s/%s/%s", r.scheme, domain, path, documentFile), nil
}

// Resolve fetches and parses the DID document for a did:web
// identifier. A non-2xx response or malformed document is an
// ErrResolutionFailed; no retries are performed.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Document, error) {
	docURL, err := r.URL(did)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(docURL, func() (any, error) {
		return r.fetch(ctx, docURL)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Document), nil
}

func (r *Resolver) fetch(ctx context.Context, docURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrResolutionFailed, docURL, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed DID document: %v", ErrResolutionFailed, err)
	}

	return &doc, nil
}

// Ed25519Key extracts the raw 32-byte Ed25519 public key from a
// verification method, accepting publicKeyJwk (OKP/Ed25519) and
// publicKeyMultibase (multicodec-prefixed) forms.
func (vm *VerificationMethod) Ed25519Key() ([]byte, error) {
	if vm.PublicKeyJwk != nil {
		jwk := vm.PublicKeyJwk
		if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" {
			return nil, fmt.Errorf("%w: %q is not an Ed25519 JWK", ErrKeyNotFound, vm.ID)
		}
		key, err := base64.RawURLEncoding.DecodeString(jwk.X)
		if err != nil {
			return nil, fmt.Errorf("%w: bad JWK x value in %q: %v", ErrKeyNotFound, vm.ID, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%w: key in %q is %d bytes, want 32", ErrKeyNotFound, vm.ID, len(key))
		}
		return key, nil
	}

	if vm.PublicKeyMultibase != "" {
		_, decoded, err := multibase.Decode(vm.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("%w: bad multibase key in %q: %v", ErrKeyNotFound, vm.ID, err)
		}
		decoded = bytes.TrimPrefix(decoded, ed25519MulticodecPrefix)
		if len(decoded) != 32 {
			return nil, fmt.Errorf("%w: key in %q is %d bytes, want 32", ErrKeyNotFound, vm.ID, len(decoded))
		}
		return decoded, nil
	}

	return nil, fmt.Errorf("%w: %q carries no supported key material", ErrKeyNotFound, vm.ID)
}
