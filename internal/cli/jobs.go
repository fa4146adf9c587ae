package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	Cancel string
}

// JobView is one job in the jobs listing.
type JobView struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Priority int       `json:"priority"`
	State    string    `json:"state"`
	Created  time.Time `json:"created"`
	Failure  string    `json:"failure,omitempty"`
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List the persisted jobs",
		Long: `List the jobs saved in the index: the jobs queued for, or interrupted
in, "radstore serve". Jobs that were running when the server stopped are
listed as Pending.

Example:
  radstore jobs
  radstore jobs --cancel 0190b6d2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Cancel, "cancel", "", "cancel the pending job with this id")
	return cmd
}

func runJobs(opts *JobsOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.loadJobs(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to restore jobs", err)
	}

	if opts.Cancel != "" {
		if err := a.engine.Cancel(opts.Cancel); err != nil {
			return WrapExitError(ExitFailure, "cannot cancel job", err)
		}
		if err := a.engine.Save(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to save jobs", err)
		}
	}

	infos := a.engine.List()
	views := make([]JobView, 0, len(infos))
	for _, info := range infos {
		views = append(views, JobView{
			ID:       info.ID,
			Type:     info.Type,
			Priority: info.Priority,
			State:    info.State.String(),
			Created:  info.CreationTime,
			Failure:  info.Failure,
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No jobs")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tSTATE\tCREATED")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", v.ID, v.Type, v.Priority, v.State, v.Created.Format(time.RFC3339))
		}
		tw.Flush()
	})
}
