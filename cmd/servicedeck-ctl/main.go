// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// servicedeck-ctl is a command-line tool for controlling a running ServiceDeck instance.
package main

import (
	"fmt"
	"os"

	"github.com/wingedpig/servicedeck/cmd/servicedeck-ctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
