package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Iron-Ham/quorum/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, cmd.ErrHalted) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
