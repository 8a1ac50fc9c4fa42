// Package keys resolves the signing identity used to seal timestamps.
// An identity is either persistent (configured key material, stable across
// calls) or ephemeral (a fresh key pair per call, demo-grade only).
package keys

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Mode identifies which signing identity variant is in use.
type Mode string

const (
	// ModePersistent signs with configured key material.
	ModePersistent Mode = "persistent"
	// ModeEphemeral signs with a fresh key pair per call.
	ModeEphemeral Mode = "ephemeral"
)

// Key provisioning errors.
var (
	// ErrKeyConfiguration is returned when configured key material is malformed.
	ErrKeyConfiguration = errors.New("invalid signing key configuration")
	// ErrKeyGeneration is returned when an ephemeral key cannot be generated.
	ErrKeyGeneration = errors.New("signing key generation failed")
)

// Identity is the key material used to produce one signature.
type Identity struct {
	Mode       Mode
	PrivateKey *ecdsa.PrivateKey
	// PublicKey is the public representation handed out with every seal.
	// For persistent identities it is the declared value (usually PKIX PEM).
	PublicKey string
}

// Provider resolves signing identities.
type Provider interface {
	// Resolve returns the identity to sign with.
	Resolve() (*Identity, error)
	// Mode reports which variant the provider hands out.
	Mode() Mode
}

// Config is the explicit key configuration read once at startup.
type Config struct {
	PrivateKeyPEM string
	PublicKey     string
}

// NewProvider selects the identity variant from configuration.
// Configured private key material yields a PersistentProvider; its absence
// yields an EphemeralProvider backed by crypto/rand.
func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.PrivateKeyPEM) == "" {
		return NewEphemeralProvider(rand.Reader), nil
	}
	return NewPersistentProvider(cfg.PrivateKeyPEM, cfg.PublicKey)
}

// PersistentProvider returns the same identity for every call.
type PersistentProvider struct {
	identity Identity
	opaque   bool
}

// NewPersistentProvider parses the private key once and binds it to the declared
// public key. When declaredPublic is empty the PKIX PEM of the private key's
// public half is used instead.
func NewPersistentProvider(privatePEM, declaredPublic string) (*PersistentProvider, error) {
	priv, err := ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}

	derived, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyConfiguration, err)
	}

	var opaque bool
	public := strings.TrimSpace(unescapeNewlines(declaredPublic))
	if public == "" {
		public = derived
	} else if declared, err := ParsePublicKeyPEM(public); err != nil {
		opaque = true
	} else if !declared.Equal(&priv.PublicKey) {
		return nil, fmt.Errorf("%w: declared public key does not match private key", ErrKeyConfiguration)
	}

	return &PersistentProvider{
		identity: Identity{
			Mode:       ModePersistent,
			PrivateKey: priv,
			PublicKey:  public,
		},
		opaque: opaque,
	}, nil
}

// OpaquePublicKey reports whether the declared public key is not a PKIX PEM
// key. Seals then carry a value their signatures cannot be checked against.
func (p *PersistentProvider) OpaquePublicKey() bool {
	return p.opaque
}

// Resolve returns a copy of the configured identity.
func (p *PersistentProvider) Resolve() (*Identity, error) {
	id := p.identity
	return &id, nil
}

// Mode returns ModePersistent.
func (p *PersistentProvider) Mode() Mode {
	return ModePersistent
}

// EphemeralProvider generates a new P-256 key pair for every call.
// Generated keys are never stored.
type EphemeralProvider struct {
	random io.Reader
}

// NewEphemeralProvider creates a provider drawing entropy from random.
// A nil reader uses crypto/rand.
func NewEphemeralProvider(random io.Reader) *EphemeralProvider {
	if random == nil {
		random = rand.Reader
	}
	return &EphemeralProvider{random: random}
}

// Resolve generates a fresh identity.
func (p *EphemeralProvider) Resolve() (*Identity, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), p.random)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	public, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &Identity{
		Mode:       ModeEphemeral,
		PrivateKey: priv,
		PublicKey:  public,
	}, nil
}

// Mode returns ModeEphemeral.
func (p *EphemeralProvider) Mode() Mode {
	return ModeEphemeral
}

// ParsePrivateKeyPEM decodes an ECDSA private key in SEC1 ("EC PRIVATE KEY")
// or PKCS#8 ("PRIVATE KEY") form. Escaped "\n" sequences are accepted so keys
// can be supplied through single-line environment variables.
func ParsePrivateKeyPEM(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(unescapeNewlines(s))))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyConfiguration)
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		priv, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyConfiguration, err)
		}
		return priv, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyConfiguration, err)
		}
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T, ECDSA required", ErrKeyConfiguration, key)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block type %q", ErrKeyConfiguration, block.Type)
	}
}

// ParsePublicKeyPEM decodes a PKIX ("PUBLIC KEY") ECDSA public key.
func ParsePublicKeyPEM(s string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(unescapeNewlines(s))))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", key)
	}
	return pub, nil
}

// EncodePublicKeyPEM serializes a public key as PKIX PEM.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// EncodePrivateKeyPEM serializes a private key as PKCS#8 PEM.
func EncodePrivateKeyPEM(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateKeyPair creates a P-256 key pair suitable for persistent use and
// returns it as PEM strings. A nil reader uses crypto/rand.
func GenerateKeyPair(random io.Reader) (privatePEM, publicPEM string, err error) {
	if random == nil {
		random = rand.Reader
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), random)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	privatePEM, err = EncodePrivateKeyPEM(priv)
	if err != nil {
		return "", "", err
	}
	publicPEM, err = EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	return privatePEM, publicPEM, nil
}

// unescapeNewlines turns literal "\n" sequences into newlines.
func unescapeNewlines(s string) string {
	if !strings.Contains(s, "\n") && strings.Contains(s, `\n`) {
		return strings.ReplaceAll(s, `\n`, "\n")
	}
	return s
}
