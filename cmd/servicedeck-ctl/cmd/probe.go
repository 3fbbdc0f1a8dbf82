// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wingedpig/servicedeck/pkg/client"
)

func newProbeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <port>",
		Short: "Report whether anything listens on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("invalid port %q", args[0])
			}
			p, err := opts.client.Ports.Probe(cmd.Context(), port)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			if !p.Bound {
				fmt.Fprintf(cmd.OutOrStdout(), "Port %d is free\n", p.Port)
				return nil
			}
			pids := make([]string, len(p.PIDs))
			for i, pid := range p.PIDs {
				pids[i] = strconv.Itoa(pid)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Port %d is bound by %s (pids: %s)\n",
				p.Port, dash(p.OwnerHint), dash(strings.Join(pids, ",")))
			return nil
		},
	}
}

func newEventsCmd(opts *options) *cobra.Command {
	var (
		limit   int
		types   []string
		service string
	)
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show lifecycle event history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client.Events.List(cmd.Context(), &client.ListOptions{
				Limit:   limit,
				Types:   types,
				Service: service,
			})
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), events)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-20s %-22s %-36s %s\n", "TIME", "TYPE", "SERVICE", "DETAILS")
			fmt.Fprintln(w, strings.Repeat("-", 100))
			for _, evt := range events {
				var parts []string
				for _, k := range []string{"name", "port", "pid", "error", "succeeded", "failed"} {
					if v, ok := evt.Payload[k]; ok {
						parts = append(parts, fmt.Sprintf("%s=%v", k, v))
					}
				}
				fmt.Fprintf(w, "%-20s %-22s %-36s %s\n", evt.Timestamp.Local().Format(time.DateTime),
					evt.Type, dash(evt.Service), strings.Join(parts, " "))
			}
			return nil
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events to show")
	eventsCmd.Flags().StringSliceVar(&types, "type", nil, "Event type or pattern (e.g. service.*)")
	eventsCmd.Flags().StringVar(&service, "service", "", "Only events for this service or group id")
	return eventsCmd
}
