// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wingedpig/servicedeck/pkg/client"
)

func newServicesCmd(opts *options) *cobra.Command {
	servicesCmd := &cobra.Command{
		Use:     "services",
		Aliases: []string{"svc"},
		Short:   "Manage services",
	}

	servicesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List services with a fresh port probe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := opts.client.Services.List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), services)
			}
			printServices(cmd.OutOrStdout(), services)
			return nil
		},
	})

	servicesCmd.AddCommand(&cobra.Command{
		Use:   "get <service>",
		Short: "Show one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, args[0], opts.client.Services.Get)
		},
	})

	var in client.ServiceInput
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a service to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.client.Services.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), svc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) on port %d\n", svc.Name, svc.ID, svc.Port)
			return nil
		},
	}
	addCmd.Flags().StringVar(&in.Name, "name", "", "Service name")
	addCmd.Flags().IntVar(&in.Port, "port", 0, "Port the service binds when ready")
	addCmd.Flags().StringVar(&in.Path, "path", "", "Working directory")
	addCmd.Flags().StringVar(&in.Command, "command", "", "Start command (default: server default)")
	addCmd.Flags().StringVar(&in.Description, "description", "", "Description")
	addCmd.MarkFlagRequired("name")
	addCmd.MarkFlagRequired("port")
	addCmd.MarkFlagRequired("path")
	servicesCmd.AddCommand(addCmd)

	servicesCmd.AddCommand(&cobra.Command{
		Use:   "rm <service>",
		Short: "Stop a service and remove it from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveService(cmd.Context(), opts.client, args[0])
			if err != nil {
				return err
			}
			if err := opts.client.Services.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			return nil
		},
	})

	for _, op := range []struct {
		use, short string
		fn         func(context.Context, string) (*client.Service, error)
	}{
		{"start", "Start a service and wait for its port", opts.startFn},
		{"stop", "Stop a service and wait for its port to free", opts.stopFn},
		{"refresh", "Re-probe a service's port", opts.refreshFn},
	} {
		op := op
		servicesCmd.AddCommand(&cobra.Command{
			Use:   op.use + " <service>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, opts, args[0], op.fn)
			},
		})
	}

	servicesCmd.AddCommand(newLogsCmd(opts))
	return servicesCmd
}

// The client is built in PersistentPreRun, so lifecycle calls are bound
// late through these.
func (o *options) startFn(ctx context.Context, id string) (*client.Service, error) {
	return o.client.Services.Start(ctx, id)
}

func (o *options) stopFn(ctx context.Context, id string) (*client.Service, error) {
	return o.client.Services.Stop(ctx, id)
}

func (o *options) refreshFn(ctx context.Context, id string) (*client.Service, error) {
	return o.client.Services.Refresh(ctx, id)
}

func withService(cmd *cobra.Command, opts *options, ref string, fn func(context.Context, string) (*client.Service, error)) error {
	id, err := resolveService(cmd.Context(), opts.client, ref)
	if err != nil {
		return err
	}
	svc, err := fn(cmd.Context(), id)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), svc)
	}
	printServices(cmd.OutOrStdout(), []client.Service{*svc})
	return nil
}

func printServices(w io.Writer, services []client.Service) {
	fmt.Fprintf(w, "%-20s %-10s %-6s %-9s %-8s %s\n", "SERVICE", "STATUS", "PORT", "STATE", "PID", "ID")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, s := range services {
		pid := "-"
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		fmt.Fprintf(w, "%-20s %-10s %-6d %-9s %-8s %s\n", s.Name, s.Status, s.Port, dash(s.State), pid, s.ID)
		if s.LastError != "" {
			fmt.Fprintf(w, "  error: %s\n", s.LastError)
		}
	}
}

func newLogsCmd(opts *options) *cobra.Command {
	var (
		lines  int
		follow bool
		buffer int
	)
	logsCmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Print a service's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := resolveService(ctx, opts.client, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !follow {
				entries, err := opts.client.Services.Logs(ctx, id, lines)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(out, entries)
				}
				for _, e := range entries {
					printEntry(out, e)
				}
				return nil
			}

			stream, err := opts.client.Logs.Stream(ctx, id, &client.StreamOptions{BufferSize: buffer})
			if err != nil {
				return err
			}
			defer stream.Close()
			go func() {
				<-ctx.Done()
				stream.Close()
			}()
			for {
				msg, err := stream.Next()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				switch msg.Type {
				case client.MessageLog:
					if opts.jsonOutput {
						printJSON(out, msg.Entry())
					} else {
						printEntry(out, msg.Entry())
					}
				case client.MessageError:
					return fmt.Errorf("stream: %s", msg.Error)
				}
			}
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines from the log file")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new lines as they are captured")
	logsCmd.Flags().IntVar(&buffer, "buffer", 0, "Viewer scrollback when following (100, 500, 1000, 2000, 5000)")
	return logsCmd
}

func printEntry(w io.Writer, e client.LogEntry) {
	ts := "-"
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.Local().Format(time.DateTime)
	}
	fmt.Fprintf(w, "%s %-7s %s\n", ts, strings.ToUpper(e.Level), e.Message)
}
