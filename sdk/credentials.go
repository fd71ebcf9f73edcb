package sdk

import (
	"os"
)

// Environment variables consulted when no explicit credentials are configured.
const (
	EnvSecretID  = "TENCENTCLOUD_SECRET_ID"
	EnvSecretKey = "TENCENTCLOUD_SECRET_KEY"
)

// Credentials is an API key pair.
type Credentials struct {
	SecretID  string
	SecretKey string
}

// Complete reports whether both halves of the pair are set.
func (c Credentials) Complete() bool {
	return c.SecretID != "" && c.SecretKey != ""
}

// CredentialProvider supplies credentials. Retrieve returns ok=false when the
// provider has nothing to offer, so the next provider in a chain is tried.
type CredentialProvider interface {
	Retrieve() (Credentials, bool)
	Name() string
}

// StaticProvider returns fixed credentials.
type StaticProvider struct {
	Credentials
}

// Retrieve implements CredentialProvider
func (p StaticProvider) Retrieve() (Credentials, bool) {
	return p.Credentials, p.Complete()
}

// Name implements CredentialProvider
func (p StaticProvider) Name() string { return "static" }

// EnvProvider reads credentials from environment variables.
type EnvProvider struct {
	IDVar  string
	KeyVar string
}

// Retrieve implements CredentialProvider
func (p EnvProvider) Retrieve() (Credentials, bool) {
	idVar, keyVar := p.IDVar, p.KeyVar
	if idVar == "" {
		idVar = EnvSecretID
	}
	if keyVar == "" {
		keyVar = EnvSecretKey
	}
	creds := Credentials{SecretID: os.Getenv(idVar), SecretKey: os.Getenv(keyVar)}
	return creds, creds.Complete()
}

// Name implements CredentialProvider
func (p EnvProvider) Name() string { return "environment" }

// ChainProvider tries each provider in order and returns the first complete pair.
type ChainProvider []CredentialProvider

// Retrieve implements CredentialProvider
func (c ChainProvider) Retrieve() (Credentials, bool) {
	creds, _, ok := c.retrieve()
	return creds, ok
}

// Name implements CredentialProvider
func (c ChainProvider) Name() string { return "chain" }

func (c ChainProvider) retrieve() (Credentials, string, bool) {
	for _, p := range c {
		if creds, ok := p.Retrieve(); ok {
			return creds, p.Name(), true
		}
	}
	return Credentials{}, "", false
}

// ResolveCredentials applies the lookup order explicit pair, then the
// TENCENTCLOUD_SECRET_ID / TENCENTCLOUD_SECRET_KEY variables. A half-set
// explicit pair is ignored. It fails with ErrAuthentication when neither
// yields a complete pair, and returns the name of the provider that matched.
func ResolveCredentials(secretID, secretKey string) (Credentials, string, error) {
	chain := ChainProvider{
		StaticProvider{Credentials{SecretID: secretID, SecretKey: secretKey}},
		EnvProvider{},
	}
	creds, source, ok := chain.retrieve()
	if !ok {
		return Credentials{}, "", NewError(ErrorTypeAuthentication,
			"no credentials found: set them explicitly or export "+EnvSecretID+" and "+EnvSecretKey, nil)
	}
	return creds, source, nil
}
