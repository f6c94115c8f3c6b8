// Command amanrag answers questions over a local document corpus.
package main

import (
	"os"

	"github.com/Aman-CERP/amanrag/cmd/amanrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
