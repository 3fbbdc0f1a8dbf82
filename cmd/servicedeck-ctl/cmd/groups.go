// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wingedpig/servicedeck/pkg/client"
)

func newGroupsCmd(opts *options) *cobra.Command {
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage service groups",
	}

	groupsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := opts.client.Groups.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), groups)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-20s %-8s %s\n", "GROUP", "MEMBERS", "ID")
			fmt.Fprintln(w, strings.Repeat("-", 60))
			for _, g := range groups {
				fmt.Fprintf(w, "%-20s %-8d %s\n", g.Name, len(g.Services), g.ID)
			}
			return nil
		},
	})

	groupsCmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.client.Groups.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created group %s (%s)\n", g.Name, g.ID)
			return nil
		},
	})

	groupsCmd.AddCommand(&cobra.Command{
		Use:   "rm <group>",
		Short: "Delete a group; its services are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveGroup(cmd.Context(), opts.client, args[0])
			if err != nil {
				return err
			}
			if err := opts.client.Groups.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted group %s\n", id)
			return nil
		},
	})

	membership := func(use, short string, add bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <group> <service>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				gid, err := resolveGroup(ctx, opts.client, args[0])
				if err != nil {
					return err
				}
				sid, err := resolveService(ctx, opts.client, args[1])
				if err != nil {
					return err
				}
				var g *client.Group
				if add {
					g, err = opts.client.Groups.AddMember(ctx, gid, sid)
				} else {
					g, err = opts.client.Groups.RemoveMember(ctx, gid, sid)
				}
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), g)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Group %s: %s\n", g.Name, strings.Join(g.Services, ", "))
				return nil
			},
		}
	}
	groupsCmd.AddCommand(
		membership("add", "Add a service to a group", true),
		membership("remove", "Remove a service from a group", false),
	)

	run := func(use, short string, start bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <group>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				id, err := resolveGroup(ctx, opts.client, args[0])
				if err != nil {
					return err
				}
				var report *client.GroupReport
				if start {
					report, err = opts.client.Groups.Start(ctx, id)
				} else {
					report, err = opts.client.Groups.Stop(ctx, id)
				}
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d members failed", report.Failed, len(report.Results))
				}
				return nil
			},
		}
	}
	groupsCmd.AddCommand(
		run("start", "Start every member in order", true),
		run("stop", "Stop every member in order", false),
	)

	return groupsCmd
}

func printReport(w io.Writer, r *client.GroupReport) {
	fmt.Fprintf(w, "%-36s %-6s %s\n", "SERVICE", "RESULT", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, res := range r.Results {
		result := "ok"
		if !res.OK {
			result = "failed"
		}
		fmt.Fprintf(w, "%-36s %-6s %s\n", res.ServiceID, result, dash(res.Error))
	}
	fmt.Fprintf(w, "%s: %d succeeded, %d failed\n", r.Op, r.Succeeded, r.Failed)
}
