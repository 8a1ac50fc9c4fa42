package seal

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/onnwee/timeauthority/internal/keys"
)

// Signature scheme: ECDSA over the SHA-256 digest of the canonical payload,
// ASN.1 DER encoded, then standard base64.
const SignatureAlgorithm = "ECDSA-SHA256"

var (
	// ErrSigning is returned when a signature cannot be produced.
	ErrSigning = errors.New("signing failed")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("signature does not verify")
)

// Signer produces signatures with a resolved identity.
type Signer struct {
	random io.Reader
}

// NewSigner creates a signer drawing nonces from random.
// A nil reader uses crypto/rand.
func NewSigner(random io.Reader) *Signer {
	if random == nil {
		random = rand.Reader
	}
	return &Signer{random: random}
}

// Sign signs payload with the identity's private key.
func (s *Signer) Sign(id *keys.Identity, payload []byte) (string, error) {
	if id == nil || id.PrivateKey == nil {
		return "", fmt.Errorf("%w: no private key", ErrSigning)
	}
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(s.random, id.PrivateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Sign signs payload using crypto/rand.
func Sign(id *keys.Identity, payload []byte) (string, error) {
	return NewSigner(nil).Sign(id, payload)
}

// Verify checks signature over payload against a PKIX PEM public key.
func Verify(publicKeyPEM string, payload []byte, signature string) error {
	pub, err := keys.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return fmt.Errorf("%w: signer public key: %v", ErrInvalidSignature, err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrInvalidSignature, err)
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
