// Command ensemble runs the multi-role agent session orchestrator.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCmd(newCLI(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
