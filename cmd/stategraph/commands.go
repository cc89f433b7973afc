package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		req       dto.RunRequest
		input     string
		maxSteps  int
		maxTime   time.Duration
		maxVisits int
	)
	cmd := &cobra.Command{
		Use:   "run <graph>",
		Short: "Run a graph from its entry node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			req.Graph = args[0]
			if req.Input, err = readInput(input); err != nil {
				return err
			}
			if maxSteps != 0 || maxTime != 0 || maxVisits != 0 {
				req.Budgets = &graph.Budgets{MaxSteps: maxSteps, MaxDuration: maxTime, MaxVisitsPerPath: maxVisits}
			}
			resp, err := app.Runner.Run(ctx, &req)
			return printRun(cmd.OutOrStdout(), flags, resp, err)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.ThreadID, "thread", "t", "", "Thread ID (generated when empty)")
	f.StringVarP(&input, "input", "i", "", "Initial state as a JSON object, or @file")
	f.BoolVar(&req.Continue, "continue", false, "Continue the thread: resume when paused, start from its final state when done")
	f.StringSliceVar(&req.InterruptBefore, "interrupt-before", nil, "Pause before these nodes")
	f.StringSliceVar(&req.InterruptAfter, "interrupt-after", nil, "Pause after these nodes")
	f.StringSliceVar(&req.Tags, "tag", nil, "Tag written checkpoints")
	f.IntVar(&maxSteps, "max-steps", 0, "Superstep budget (0 keeps the configured value)")
	f.DurationVar(&maxTime, "max-duration", 0, "Wall-clock budget (0 keeps the configured value)")
	f.IntVar(&maxVisits, "max-visits", 0, "Visits per node per path (0 keeps the configured value)")
	return cmd
}

func newResumeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <graph> <thread>",
		Short: "Resume a paused thread from its last checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Runner.Resume(ctx, &dto.ThreadRequest{Graph: args[0], ThreadID: args[1]})
			return printRun(cmd.OutOrStdout(), flags, resp, err)
		},
	}
}

func newStateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state <graph> <thread>",
		Short: "Show the latest checkpoint of a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			view, err := app.Runner.State(ctx, &dto.ThreadRequest{Graph: args[0], ThreadID: args[1]})
			if err != nil {
				return err
			}
			return printCheckpoint(cmd.OutOrStdout(), flags, view)
		},
	}
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	var (
		set    string
		asNode string
	)
	cmd := &cobra.Command{
		Use:   "update <graph> <thread>",
		Short: "Merge values into a thread's state through its reducers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readInput(set)
			if err != nil {
				return err
			}
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			view, err := app.Runner.Update(ctx, &dto.UpdateRequest{
				ThreadRequest: dto.ThreadRequest{Graph: args[0], ThreadID: args[1]},
				Update:        update,
				AsNode:        asNode,
			})
			if err != nil {
				return err
			}
			return printCheckpoint(cmd.OutOrStdout(), flags, view)
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "Update as a JSON object, or @file")
	cmd.Flags().StringVar(&asNode, "as-node", "", "Attribute the edit to this node")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		filter checkpoint.Filter
		source string
	)
	cmd := &cobra.Command{
		Use:   "history <graph> <thread>",
		Short: "List a thread's checkpoints oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			filter.Source = checkpoint.Source(source)
			views, err := app.Runner.History(ctx, &dto.ThreadRequest{Graph: args[0], ThreadID: args[1]}, filter)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if flags.output == "json" {
				return writeJSON(w, views)
			}
			for _, v := range views {
				fmt.Fprintf(w, "%4d  step %-3d %-9s next=%s  %s\n",
					v.Seq, v.Step, v.Source, strings.Join(v.Next, ","), v.Timestamp.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Return at most this many checkpoints")
	cmd.Flags().StringVar(&source, "source", "", "Only checkpoints written for this reason (input|loop|interrupt|update|cancel|done)")
	cmd.Flags().StringSliceVar(&filter.Tags, "tag", nil, "Only checkpoints carrying every tag")
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <graph> <thread>",
		Short: "Delete every checkpoint of a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ctx, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Runner.Delete(ctx, &dto.ThreadRequest{Graph: args[0], ThreadID: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
			return nil
		},
	}
}

func newGraphsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "graphs",
		Short: "List the available graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, _, err := openApp(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			names := app.Registry.Names()
			if flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), names)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stategraph %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
		},
	}
}

// printRun writes a run response. A failed run still prints what is
// known before returning the error.
func printRun(w io.Writer, flags *globalFlags, resp *dto.RunResponse, err error) error {
	if resp == nil {
		return err
	}
	if flags.output == "json" {
		if werr := writeJSON(w, resp); werr != nil {
			return werr
		}
		return err
	}
	fmt.Fprintf(w, "graph:  %s\nthread: %s\nstatus: %s\n", resp.Graph, resp.ThreadID, resp.Status)
	if resp.Interrupt != nil {
		fmt.Fprintf(w, "paused: %s %s at step %d\n", resp.Interrupt.Kind, strings.Join(resp.Interrupt.Nodes, ","), resp.Interrupt.Step)
	}
	if len(resp.State) > 0 {
		fmt.Fprintln(w, "state:")
		writeState(w, resp.State)
	}
	return err
}

func printCheckpoint(w io.Writer, flags *globalFlags, view *dto.CheckpointView) error {
	if flags.output == "json" {
		return writeJSON(w, view)
	}
	fmt.Fprintf(w, "thread: %s\nseq:    %d\nstep:   %d\nsource: %s\nnext:   %s\n",
		view.ThreadID, view.Seq, view.Step, view.Source, strings.Join(view.Next, ","))
	if view.Pending != nil {
		fmt.Fprintf(w, "paused: %s %s\n", view.Pending.Kind, strings.Join(view.Pending.Nodes, ","))
	}
	fmt.Fprintln(w, "state:")
	writeState(w, view.State)
	return nil
}

func writeState(w io.Writer, s map[string]any) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, s[k])
	}
}
