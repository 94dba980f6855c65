// Command xrootd runs the XRootD wire-protocol file-access server.
package main

import (
	"os"

	"github.com/xrootd-go/xrootd-core/cmd/xrootd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
