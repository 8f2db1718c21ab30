// talkie-healthbeat monitors the health of registered module instances.
package main

import (
	"os"

	"github.com/talkie-project/talkie/cmd/talkie-healthbeat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
