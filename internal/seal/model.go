// Package seal issues signed timestamp seals attesting that a data
// fingerprint existed at a given time.
package seal

import (
	"encoding/json"
	"strings"
)

// Seal identifier prefixes. Demo and paid seals are distinguishable by id alone.
const (
	DemoIDPrefix = "demo_"
	PaidIDPrefix = "seal_"
)

// DemoDataHash is the fingerprint used when a demo request omits one.
const DemoDataHash = "sha256:demo"

// MaxDataHashLength bounds the accepted fingerprint length in characters.
const MaxDataHashLength = 1024

// Kind labels the issuance path of a seal.
type Kind string

const (
	KindDemo Kind = "demo"
	KindPaid Kind = "paid"
)

// Request asks the engine for a seal.
type Request struct {
	DataHash string
	Demo     bool

	// RequestID correlates the seal with the HTTP request in logs.
	RequestID string
}

// Kind returns the issuance path of the request.
func (r Request) Kind() Kind {
	if r.Demo {
		return KindDemo
	}
	return KindPaid
}

// Payload holds the attested fields of a seal.
type Payload struct {
	DataHash string `json:"data_hash"`
}

// Seal is a signed attestation. It is immutable once issued.
type Seal struct {
	SealID       string  `json:"seal_id"`
	IssuedAt     string  `json:"issued_at"`
	Payload      Payload `json:"payload"`
	SignerPubKey string  `json:"signer_pubkey"`
	Signature    string  `json:"signature"`

	// PaymentTx is reserved for settlement references on the paid path.
	// It is always nil until payment verification is integrated.
	PaymentTx *string `json:"payment_tx"`
}

// Kind derives the issuance path from the seal id prefix.
func (s *Seal) Kind() Kind {
	if strings.HasPrefix(s.SealID, DemoIDPrefix) {
		return KindDemo
	}
	return KindPaid
}

// CanonicalPayload rebuilds the exact bytes that were signed.
func (s *Seal) CanonicalPayload() ([]byte, error) {
	issuedAt, err := ParseTimestamp(s.IssuedAt)
	if err != nil {
		return nil, err
	}
	return Canonicalize(s.Payload.DataHash, issuedAt), nil
}

// Verify checks the seal's signature against the public key it carries.
func (s *Seal) Verify() error {
	payload, err := s.CanonicalPayload()
	if err != nil {
		return err
	}
	return Verify(s.SignerPubKey, payload, s.Signature)
}

// sealJSON mirrors Seal without its MarshalJSON method.
type sealJSON Seal

// demoSealJSON omits payment_tx, which only exists on the paid path.
type demoSealJSON struct {
	SealID       string  `json:"seal_id"`
	IssuedAt     string  `json:"issued_at"`
	Payload      Payload `json:"payload"`
	SignerPubKey string  `json:"signer_pubkey"`
	Signature    string  `json:"signature"`
}

// MarshalJSON emits payment_tx (null until settled) for paid seals only.
func (s Seal) MarshalJSON() ([]byte, error) {
	if s.Kind() == KindDemo {
		return json.Marshal(demoSealJSON{
			SealID:       s.SealID,
			IssuedAt:     s.IssuedAt,
			Payload:      s.Payload,
			SignerPubKey: s.SignerPubKey,
			Signature:    s.Signature,
		})
	}
	return json.Marshal(sealJSON(s))
}
