// Command periodctl saves, destroys and inspects periodic records and
// archives the store to a blob backend. It reads its configuration from
// PERIODCORE_* environment variables.
package main

import (
	"context"
	"os"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		// Cobra has already printed the error message.
		exitFunc(1)
	}
}
