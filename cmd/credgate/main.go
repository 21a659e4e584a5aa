// credgate is a development CLI for the credential-gated encryption
// protocol: it encrypts a secret behind a credential requirement using
// the local enclave, and releases it again once both proofs verify.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/TinyCloudLabs/lit-encryption-opencredentials/credential"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/enclave"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/gate"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/jwt"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/policy"
	"github.com/TinyCloudLabs/lit-encryption-opencredentials/verifier"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encrypt":
		err = runEncrypt(os.Args[2:])
	case "decrypt":
		err = runDecrypt(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: credgate <encrypt|decrypt|inspect> [flags]")
	fmt.Fprintln(os.Stderr, "  encrypt -key <hex> -issuer <did> -handle <name> [-config trust.yaml] [-enclave-key <hex>] -secret <text> -out bundle.json")
	fmt.Fprintln(os.Stderr, "  decrypt -key <hex> -enclave-key <hex> -bundle bundle.json -credentials creds.json")
	fmt.Fprintln(os.Stderr, "  inspect -token <jwt>")
}

func loadEngine(configPath string) (*policy.Engine, error) {
	if configPath == "" {
		return policy.NewEngine(policy.DefaultConfig()), nil
	}
	cfg, err := policy.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(cfg), nil
}

func enclaveService(keyHex string) (*enclave.Service, string, error) {
	if keyHex == "" {
		svc, err := enclave.NewEphemeralService()
		return svc, "", err
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, "", fmt.Errorf("bad enclave key: %w", err)
	}
	svc, err := enclave.NewService(key)
	return svc, keyHex, err
}

func runEncrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	keyHex := fs.String("key", "", "signer private key (hex)")
	issuer := fs.String("issuer", policy.DefaultTrustedIssuers[0], "credential issuer DID")
	handle := fs.String("handle", "", "required GitHub handle")
	configPath := fs.String("config", "", "trust configuration YAML")
	enclaveKey := fs.String("enclave-key", "", "enclave key (hex, 32 bytes); generated when absent")
	secret := fs.String("secret", "", "plaintext to protect")
	out := fs.String("out", "bundle.json", "output bundle path")
	chainID := fs.Int64("chain", 1, "chain id for the signer's did:pkh")
	fs.Parse(args)

	if *keyHex == "" || *secret == "" || *handle == "" {
		return fmt.Errorf("-key, -secret and -handle are required")
	}

	engine, err := loadEngine(*configPath)
	if err != nil {
		return err
	}

	signer, err := jwt.NewSigner(*keyHex, *chainID)
	if err != nil {
		return err
	}

	svc, usedKey, err := enclaveService(*enclaveKey)
	if err != nil {
		return err
	}

	req := credential.Requirement{
		Issuer:         *issuer,
		CredentialType: policy.SupportedCredentialType,
		Claims:         &credential.Claims{Handle: credential.StringOrList{*handle}},
	}

	g := gate.New(engine, svc, verifier.New(nil), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bundle, err := g.Encrypt(ctx, signer, *secret, req)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, raw, 0o600); err != nil {
		return err
	}

	color.Green("bundle written to %s", *out)
	color.Cyan("signer:   %s", signer.DID())
	color.Cyan("issuer:   %s", req.Issuer)
	if usedKey == "" {
		color.Yellow("enclave key was generated; decryption needs it out of band")
	}
	return nil
}

func runDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ExitOnError)
	keyHex := fs.String("key", "", "signer private key (hex)")
	enclaveKey := fs.String("enclave-key", "", "enclave key (hex)")
	bundlePath := fs.String("bundle", "bundle.json", "bundle path")
	credsPath := fs.String("credentials", "", "JSON array of credential JWTs")
	configPath := fs.String("config", "", "trust configuration YAML")
	fs.Parse(args)

	if *keyHex == "" || *enclaveKey == "" || *credsPath == "" {
		return fmt.Errorf("-key, -enclave-key and -credentials are required")
	}

	engine, err := loadEngine(*configPath)
	if err != nil {
		return err
	}

	signer, err := jwt.NewSigner(*keyHex, 1)
	if err != nil {
		return err
	}

	svc, _, err := enclaveService(*enclaveKey)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(*bundlePath)
	if err != nil {
		return err
	}
	bundle, err := gate.ParseBundle(raw)
	if err != nil {
		return err
	}

	credsRaw, err := os.ReadFile(*credsPath)
	if err != nil {
		return err
	}
	var tokens []string
	if err := json.Unmarshal(credsRaw, &tokens); err != nil {
		return fmt.Errorf("credentials file must be a JSON array of JWT strings: %w", err)
	}
	pool := credential.ParsePool(tokens)

	g := gate.New(engine, svc, verifier.New(nil), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := g.Decrypt(ctx, signer, bundle, pool)
	if err != nil {
		return err
	}

	color.Green("verification passed (%s)", result.Report.ID)
	for _, proof := range result.Report.ProofTypes {
		color.Cyan("  proof: %s", proof)
	}
	fmt.Println(result.Plaintext)
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	token := fs.String("token", "", "compact token to decode")
	fs.Parse(args)

	if *token == "" {
		return fmt.Errorf("-token is required")
	}

	header, payload, err := jwt.ParseWithoutVerifying(*token)
	if err != nil {
		return err
	}

	out := map[string]any{"header": header, "payload": payload}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
