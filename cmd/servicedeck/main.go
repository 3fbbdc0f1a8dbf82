// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// servicedeck supervises local development services.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/wingedpig/servicedeck/internal/app"
)

var (
	version = "0.1.0"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("servicedeck %s\n", version)
		os.Exit(0)
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "servicedeck init" command
func runInit(args []string) error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(args)

	if *showHelp {
		fmt.Println(`Usage: servicedeck init [options]

Create a servicedeck.hjson configuration file in the current directory.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Server port (defaults to 3300)
  - Catalog driver (json or sqlite)
  - Default start command (defaults to "yarn start")`)
		return nil
	}

	configFile := "servicedeck.hjson"

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("ServiceDeck Configuration Setup")
	fmt.Println("===============================")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "3300")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 3300
	}

	driver := strings.ToLower(prompt(reader, "Catalog driver (json/sqlite)", "json"))
	if driver != "sqlite" {
		driver = "json"
	}

	command := prompt(reader, "Default start command", "yarn start")

	if err := os.WriteFile(configFile, []byte(generateConfig(port, driver, command)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println("Run: ./servicedeck")
	fmt.Println("Open: http://localhost:" + strconv.Itoa(port) + "/api/v1/services")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, driver, command string) string {
	catalogPath := "services.json"
	watch := "true"
	if driver == "sqlite" {
		catalogPath = "servicedeck.db"
		watch = "false"
	}

	var sb strings.Builder
	sb.WriteString(`{
  // ServiceDeck configuration (HJSON: JSON with comments and relaxed syntax).

  server: {
    // Use "0.0.0.0" to allow remote access
    host: "127.0.0.1"
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS, set both:
    // tls_cert: "~/.servicedeck/cert.pem"
    // tls_key: "~/.servicedeck/key.pem"
  }

  catalog: {
    driver: "`)
	sb.WriteString(driver)
	sb.WriteString(`"
    // Relative paths resolve against this file's directory
    path: "`)
	sb.WriteString(catalogPath)
	sb.WriteString(`"
    // Reload the catalog when the file is edited by hand (json only)
    watch: `)
	sb.WriteString(watch)
	sb.WriteString(`
  }

  lifecycle: {
    // Readiness and stop checks probe the port max_attempts times
    poll_interval: "1s"
    max_attempts: 10
    reclaim_timeout: "3s"
    reclaim_settle: "1s"
    // Used for services without their own command
    default_command: "`)
	sb.WriteString(escapeHJSONValue(command))
	sb.WriteString(`"
    // env: ["NODE_ENV=development"]
  }

  viewers: {
    ping_interval: "30s"
    default_buffer: 1000
    queue_size: 256
    backfill: true
  }

  events: {
    max_events: 1000
    max_age: "1h"
  }

  logging: {
    // Empty logs to stderr only
    // file: "logs/servicedeck.log"
    max_size_mb: 10
    max_backups: 5
    max_age_days: 28
  }
}
`)
	return sb.String()
}
