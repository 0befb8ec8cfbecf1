// clinicqa runs the clinical question-answering pipeline from a terminal.
//
// Usage:
//
//	clinicqa ask "Quel est le diagnostic ?" [--patient-id=P001] [--document-type=compte-rendu] [--max-docs=5]
//	clinicqa extract --document-id=<id> --type=<pathologies|treatments|history>
//	clinicqa search "hypertension" [--patient-id=P001] [--limit=10]
//
// Configuration comes from the same environment variables as the API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openServices).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
