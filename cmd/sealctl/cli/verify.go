package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/seal"
)

var verifyPubKeyFile string

var verifyCmd = &cobra.Command{
	Use:   "verify <seal-file>",
	Short: "Verify the signature of an issued seal",
	Long: `Verify a seal offline, using the public key embedded in it.

The seal file holds the JSON document returned by POST /timestamp or
POST /timestamp/demo. Use "-" to read it from stdin. With --pubkey the
seal must also have been signed by that key, which is how a persistent
signing identity is pinned.

Example:
  sealctl verify seal.json --pubkey signer.pub
  curl -s -X POST localhost:8080/timestamp/demo | sealctl verify -`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyPubKeyFile, "pubkey", "", "PEM public key the seal must be signed by")
}

// sealVerification is the result of verifying one seal.
type sealVerification struct {
	SealID         string    `json:"seal_id"`
	Kind           seal.Kind `json:"kind"`
	IssuedAt       string    `json:"issued_at"`
	DataHash       string    `json:"data_hash"`
	SignatureValid bool      `json:"signature_valid"`
	SignerMatches  *bool     `json:"signer_matches,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Valid reports whether every requested check passed.
func (v *sealVerification) Valid() bool {
	return v.SignatureValid && (v.SignerMatches == nil || *v.SignerMatches)
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	var s seal.Seal
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing seal: %w", err)
	}
	if s.SealID == "" || s.Signature == "" {
		return errors.New("parsing seal: not a seal document")
	}

	var expected *string
	if verifyPubKeyFile != "" {
		pem, err := os.ReadFile(verifyPubKeyFile)
		if err != nil {
			return fmt.Errorf("reading public key: %w", err)
		}
		key := string(pem)
		expected = &key
	}

	result := verifySeal(&s, expected)

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		printVerification(out, result)
	}

	if !result.Valid() {
		return errors.New("seal verification failed")
	}
	return nil
}

// verifySeal checks the signature and, when expectedPEM is set, the signer.
func verifySeal(s *seal.Seal, expectedPEM *string) *sealVerification {
	result := &sealVerification{
		SealID:   s.SealID,
		Kind:     s.Kind(),
		IssuedAt: s.IssuedAt,
		DataHash: s.Payload.DataHash,
	}

	if err := s.Verify(); err != nil {
		result.Error = err.Error()
	} else {
		result.SignatureValid = true
	}

	if expectedPEM != nil {
		matches, err := sameKey(*expectedPEM, s.SignerPubKey)
		if err != nil && result.Error == "" {
			result.Error = err.Error()
		}
		result.SignerMatches = &matches
	}
	return result
}

func sameKey(expectedPEM, actualPEM string) (bool, error) {
	expected, err := keys.ParsePublicKeyPEM(expectedPEM)
	if err != nil {
		return false, fmt.Errorf("expected public key: %w", err)
	}
	actual, err := keys.ParsePublicKeyPEM(actualPEM)
	if err != nil {
		return false, fmt.Errorf("seal public key: %w", err)
	}
	return expected.Equal(actual), nil
}

func printVerification(w io.Writer, v *sealVerification) {
	fmt.Fprintf(w, "Seal:      %s (%s)\n", v.SealID, v.Kind)
	fmt.Fprintf(w, "Issued at: %s\n", v.IssuedAt)
	fmt.Fprintf(w, "Data hash: %s\n", v.DataHash)
	fmt.Fprintln(w)

	if v.SignatureValid {
		fmt.Fprintln(w, "  [ok] Signature: valid for the embedded public key")
	} else {
		fmt.Fprintln(w, "  [FAIL] Signature: INVALID")
	}
	if v.SignerMatches != nil {
		if *v.SignerMatches {
			fmt.Fprintln(w, "  [ok] Signer: matches the pinned public key")
		} else {
			fmt.Fprintln(w, "  [FAIL] Signer: does not match the pinned public key")
		}
	}
	if v.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", v.Error)
	}
}

// readInput reads a file, or stdin when name is "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}
