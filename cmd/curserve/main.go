// curserve keeps a memory-mapped snapshot of a codebase resident and answers
// repeated pattern searches without per-call subprocess or file-I/O cost.
package main

import (
	"os"

	"github.com/corey/curserve/cmd/curserve/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
