// Package cli implements the sealctl command-line interface using Cobra.
// It provides offline tooling for signing keys, issued seals and the audit log.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var (
	jsonOut    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sealctl",
	Short: "sealctl - offline tooling for the time authority",
	Long: `sealctl works with the artifacts of a time authority deployment
without talking to the running service.

It generates signing keys, verifies seals a client received, checks the
hash chain of an audit log, exports it for review and uploads snapshots
to object storage.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
