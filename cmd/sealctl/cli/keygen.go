package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onnwee/timeauthority/internal/keys"
)

// Key file names written by keygen --out-dir.
const (
	privateKeyFile = "signer.key"
	publicKeyFile  = "signer.pub"
)

var keygenOutDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a persistent P-256 signing key pair",
	Long: `Generate a P-256 key pair for the time authority.

By default the pair is printed as environment assignments with escaped
newlines, ready for SIGNER_PRIVATE_KEY_PEM and SIGNER_PUBKEY. With --out-dir
the PEM files are written instead and the private key is only readable by
its owner.

Example:
  sealctl keygen >> .env
  sealctl keygen --out-dir ./secrets`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOutDir, "out-dir", "o", "", "write signer.key and signer.pub to this directory")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	privatePEM, publicPEM, err := keys.GenerateKeyPair(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if keygenOutDir != "" {
		if err := os.MkdirAll(keygenOutDir, 0o700); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		privatePath := filepath.Join(keygenOutDir, privateKeyFile)
		publicPath := filepath.Join(keygenOutDir, publicKeyFile)
		if err := writeNewFile(privatePath, privatePEM, 0o600); err != nil {
			return err
		}
		if err := writeNewFile(publicPath, publicPEM, 0o644); err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(out, map[string]string{
				"private_key_path": privatePath,
				"public_key_path":  publicPath,
			})
		}
		fmt.Fprintf(out, "Private key written to: %s\n", privatePath)
		fmt.Fprintf(out, "Public key written to:  %s\n", publicPath)
		return nil
	}

	if jsonOut {
		return writeJSON(out, map[string]string{
			"private_key_pem": privatePEM,
			"public_key_pem":  publicPEM,
		})
	}
	fmt.Fprintf(out, "SIGNER_PRIVATE_KEY_PEM=\"%s\"\n", escapeNewlines(privatePEM))
	fmt.Fprintf(out, "SIGNER_PUBKEY=\"%s\"\n", escapeNewlines(publicPEM))
	return nil
}

// writeNewFile refuses to overwrite an existing key.
func writeNewFile(path, content string, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func escapeNewlines(pem string) string {
	return strings.ReplaceAll(strings.TrimSpace(pem), "\n", `\n`)
}
