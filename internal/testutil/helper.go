// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides a re-executable helper process for tests that
// need real children which bind (or refuse to bind) a TCP port.
//
// A test package opts in with:
//
//	func TestHelperProcess(t *testing.T) { testutil.RunHelper() }
package testutil

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"
)

// EnvHelper marks a process as a helper child.
const EnvHelper = "SERVICEDECK_HELPER_PROCESS"

// Helper modes.
const (
	ModeListen = "listen" // bind the port, print a few lines, block
	ModeIdle   = "idle"   // print a line, never bind, block
	ModeExit   = "exit"   // print to both streams and exit 3

	// ModeFragments writes "par", then "tial\n", then "tail-no-newline"
	// to stdout with pauses in between, and exits 0.
	ModeFragments = "fragments"
)

// FreePort returns a TCP port that was free when the call returned.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// HelperArgs returns the argv that re-runs the current test binary as a helper.
func HelperArgs(mode string, port int) []string {
	return []string{os.Args[0], "-test.run=^TestHelperProcess$", "--", mode, strconv.Itoa(port)}
}

// HelperCommandLine is HelperArgs joined into a single quoted command line.
func HelperCommandLine(mode string, port int) string {
	args := HelperArgs(mode, port)
	line := ""
	for i, a := range args {
		if i > 0 {
			line += " "
		}
		line += "'" + a + "'"
	}
	return line
}

// HelperEnv returns the environment entry that activates RunHelper.
func HelperEnv() []string {
	return []string{EnvHelper + "=1"}
}

// RunHelper executes the helper body and exits when the current process was
// started through HelperArgs. Otherwise it returns immediately.
func RunHelper() {
	if os.Getenv(EnvHelper) != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "helper: missing mode or port")
		os.Exit(2)
	}
	mode := args[0]
	port, _ := strconv.Atoi(args[1])

	switch mode {
	case ModeListen:
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
			os.Exit(1)
		}
		defer l.Close()
		fmt.Printf("listening on %d\n", port)
		fmt.Println("[WARN] running in helper mode")
		fmt.Fprintln(os.Stderr, "helper stderr line")
		go func() {
			for {
				c, err := l.Accept()
				if err != nil {
					return
				}
				c.Close()
			}
		}()
		block()
	case ModeIdle:
		fmt.Println("idle, not binding")
		block()
	case ModeFragments:
		os.Stdout.WriteString("par")
		time.Sleep(200 * time.Millisecond)
		os.Stdout.WriteString("tial\n")
		time.Sleep(200 * time.Millisecond)
		os.Stdout.WriteString("tail-no-newline")
	case ModeExit:
		fmt.Println("about to exit")
		fmt.Fprintln(os.Stderr, "fatal: giving up")
		os.Exit(3)
	default:
		fmt.Fprintf(os.Stderr, "helper: unknown mode %q\n", mode)
		os.Exit(2)
	}
	os.Exit(0)
}

func block() {
	for {
		time.Sleep(time.Hour)
	}
}
