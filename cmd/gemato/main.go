// Command gemato verifies, creates, and updates GLEP 74 manifest chains
// covering a filesystem tree.
package main

import (
	"context"
	"os"

	"github.com/projg2/gemato-go/cmd/root"
)

func main() {
	root.Run(context.Background(), os.Args)
}
