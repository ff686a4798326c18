package main

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/client"
	"github.com/spf13/cobra"
)

var targetArgs = cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs)

func validTargets() []string {
	targets := make([]string, 0, len(deploy.Targets))
	for _, t := range deploy.Targets {
		targets = append(targets, string(t))
	}
	return targets
}

func newStatusCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of both deployment targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			if !full {
				status, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}
				out.Infof("local:    %s", out.paint(out.stateColor(status.Local), string(status.Local)))
				out.Infof("cloud:    %s", out.paint(out.stateColor(status.Cloud), string(status.Cloud)))
				out.Infof("database: %s", status.Database)
				out.Infof("api:      %s", status.API)
				return nil
			}

			snapshot, err := c.Deployment(cmd.Context())
			if err != nil {
				return err
			}
			out.Status(&snapshot.Local)
			out.Status(&snapshot.Cloud)
			out.Infof("database=%s api=%s version=%d", snapshot.Health.Database, snapshot.Health.API, snapshot.Version)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&full, "full", "f", false, "Show the full status records")
	return cmd
}

func printCommandResponse(resp *types.CommandResponse) {
	out.Success(resp.Message)
	out.Status(&resp.Status)
}

func newStartCmd() *cobra.Command {
	var req types.StartDeploymentRequest
	cmd := &cobra.Command{
		Use:       "start <local|cloud>",
		Short:     "Start the local service or deploy to the cloud",
		Args:      targetArgs,
		ValidArgs: validTargets(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Start(cmd.Context(), deploy.Target(args[0]), req)
			if err != nil {
				return err
			}
			printCommandResponse(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Service, "service", "s", "", "Service to start (default all)")
	cmd.Flags().StringVarP(&req.Environment, "environment", "e", "", "Cloud environment to deploy to")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "stop <local|cloud>",
		Short:     "Stop the local service or reset the cloud deployment",
		Args:      targetArgs,
		ValidArgs: validTargets(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Stop(cmd.Context(), deploy.Target(args[0]))
			if err != nil {
				return err
			}
			printCommandResponse(resp)
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	var req types.StartDeploymentRequest
	cmd := &cobra.Command{
		Use:       "restart <local|cloud>",
		Short:     "Stop and start a target as one command",
		Args:      targetArgs,
		ValidArgs: validTargets(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Restart(cmd.Context(), deploy.Target(args[0]), req)
			if err != nil {
				return err
			}
			printCommandResponse(resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Service, "service", "s", "", "Service to start (default: the previous one)")
	cmd.Flags().StringVarP(&req.Environment, "environment", "e", "", "Cloud environment (default: the previous one)")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:       "logs <local|cloud>",
		Short:     "Print the most recent log entries of a channel",
		Args:      targetArgs,
		ValidArgs: validTargets(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			resp, err := c.Logs(cmd.Context(), deploy.Target(args[0]), limit)
			if err != nil {
				return err
			}
			for i := range resp.Logs {
				out.LogEntry(&resp.Logs[i])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of entries (at most 100)")
	return cmd
}

func newProcessesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List supervised processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			procs, err := c.Processes(cmd.Context())
			if err != nil {
				return err
			}
			if len(procs) == 0 {
				out.Info("no supervised processes")
				return nil
			}

			w := tabwriter.NewWriter(out.w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTARGET\tSERVICE\tDRIVER\tPID\tUPTIME\tCOMMAND")
			for _, p := range procs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.Target, p.Service, p.Driver, p.PID,
					time.Since(p.StartedAt).Round(time.Second), p.Command)
			}
			return w.Flush()
		},
	}
}

func newTestEndpointsCmd() *cobra.Command {
	var (
		req    types.TestEndpointsRequest
		target string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "test-endpoints",
		Short: "Probe the endpoints of a deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}

			var resp *types.TestEndpointsResponse
			if latest {
				if target == "" {
					target = string(deploy.TargetCloud)
				}
				resp, err = c.Validation(cmd.Context(), deploy.Target(target))
			} else {
				req.Target = deploy.Target(target)
				resp, err = c.TestEndpoints(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			for _, r := range resp.Results {
				line := fmt.Sprintf("%-6s %-30s %3d  %5dms  expected %v", r.Method, r.Path, r.Status, r.LatencyMS, r.Expected)
				if r.Error != "" {
					line += "  " + r.Error
				}
				if r.Success {
					out.Success(line)
				} else {
					out.Warn("✗ " + line)
				}
			}
			summary := fmt.Sprintf("%s: %d/%d probes passed against %s", resp.Health, resp.Passed, resp.Total, resp.BaseURL)
			if resp.Stale {
				summary += " (stale, not stored)"
			}
			if !resp.Success {
				return fmt.Errorf("%s", summary)
			}
			out.Info(summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.BaseURL, "base-url", "u", "", "Base URL to probe (default: the deployed cloud url)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target the results are recorded for (default cloud)")
	cmd.Flags().BoolVar(&latest, "latest", false, "Show the latest stored results instead of probing")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var logsOnly bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream log entries and state changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return c.Watch(ctx, func(e *client.Event) error {
				switch {
				case e.Log != nil:
					out.LogEntry(e.Log)
				case e.State != nil && !logsOnly:
					out.Infof("--- state %d: database=%s api=%s", e.State.Version, e.State.Health.Database, e.State.Health.API)
					out.Status(&e.State.Local)
					out.Status(&e.State.Cloud)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&logsOnly, "logs-only", false, "Do not print state snapshots")
	return cmd
}
