// Command trustcore runs the admin HTTP surface and background workers
// (webhook delivery engine, reaper, reminder scheduler) for the trust and
// transport core.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForError(err))
	}
}
