// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the servicedeck-ctl commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wingedpig/servicedeck/pkg/client"
)

var version = "0.1.0"

const defaultAPI = "http://localhost:3300"

// options are the global flags shared by every command.
type options struct {
	apiURL     string
	jsonOutput bool
	client     *client.Client
}

// Execute runs the root command against os.Args. An interrupt cancels the
// command's context, which ends a followed log stream.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "servicedeck-ctl",
		Short: "Control a running ServiceDeck instance",
		Long: `servicedeck-ctl talks to the ServiceDeck HTTP API.

The API address defaults to ` + defaultAPI + ` and can be set with --api or
the SERVICEDECK_API environment variable. Services and groups may be named
by id or by name.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.client = client.New(opts.apiURL)
		},
	}

	apiURL := defaultAPI
	if env := os.Getenv("SERVICEDECK_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", apiURL, "ServiceDeck API base URL")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print raw JSON")

	root.AddCommand(
		newServicesCmd(opts),
		newGroupsCmd(opts),
		newProbeCmd(opts),
		newEventsCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print the client version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "servicedeck-ctl %s\n", version)
			},
		},
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// resolveService maps a service id or name to an id.
func resolveService(ctx context.Context, c *client.Client, ref string) (string, error) {
	services, err := c.Services.List(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range services {
		if s.ID == ref {
			return s.ID, nil
		}
	}
	var matches []string
	for _, s := range services {
		if s.Name == ref {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("service %q not found", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("service name %q is ambiguous; use one of %s", ref, strings.Join(matches, ", "))
	}
}

// resolveGroup maps a group id or name to an id.
func resolveGroup(ctx context.Context, c *client.Client, ref string) (string, error) {
	groups, err := c.Groups.List(ctx)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.ID == ref {
			return g.ID, nil
		}
	}
	for _, g := range groups {
		if g.Name == ref {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("group %q not found", ref)
}
