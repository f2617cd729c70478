package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"harvest/internal/faults"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			if kind := faults.Kind(err); kind != "unknown" {
				fmt.Fprintf(os.Stderr, "%s (%s)\n", err, kind)
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		os.Exit(1)
	}
}
