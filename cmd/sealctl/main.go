// Command sealctl manages signing keys and audit logs for the time authority.
package main

import (
	"os"

	"github.com/onnwee/timeauthority/cmd/sealctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
