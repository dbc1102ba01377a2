package main

import (
	"fmt"
	"os"

	"feevault/services/claimd"
)

func main() {
	if err := claimd.Main(); err != nil {
		fmt.Fprintf(os.Stderr, "claimd: %v\n", err)
		os.Exit(1)
	}
}
