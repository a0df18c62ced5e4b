// Command josekit inspects, verifies and decrypts JOSE envelopes, and
// manages JSON Web Keys.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
