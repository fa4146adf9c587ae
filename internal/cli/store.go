package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/radstore/internal/server"
)

// StoreOptions holds flags for the store command.
type StoreOptions struct {
	*RootOptions
}

// StoredFile is the result of importing one file.
type StoredFile struct {
	File       string `json:"file"`
	Outcome    string `json:"outcome"`
	InstanceID string `json:"instance_id,omitempty"`
	Created    int    `json:"created,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewStoreCommand creates the store command.
func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "store <file>...",
		Short: "Import CBOR record files",
		Long: `Store each file as a new instance.

Files that are already stored are reported as AlreadyStored; files
rejected by the incoming filter as FilteredOut. The command fails if
any file could not be stored.

Example:
  radstore store ./incoming/*.cbor`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(opts, args, cmd)
		},
	}
	return cmd
}

func runStore(opts *StoreOptions, files []string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]StoredFile, 0, len(files))
	failed := 0
	for _, file := range files {
		res := StoredFile{File: file}
		data, err := os.ReadFile(file)
		if err != nil {
			res.Outcome = server.OutcomeFailed.String()
			res.Error = err.Error()
			failed++
			results = append(results, res)
			continue
		}

		out := a.store.Store(ctx, data)
		res.Outcome = out.Outcome.String()
		res.InstanceID = out.InstanceID
		res.Created = len(out.Created)
		if out.Err != nil {
			res.Error = out.Err.Error()
			failed++
		}
		results = append(results, res)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Success(results, func(w io.Writer) {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(w, "✗ %s: %s\n", r.File, r.Error)
				continue
			}
			fmt.Fprintf(w, "✓ %s: %s %s\n", r.File, r.Outcome, r.InstanceID)
		}
	}); err != nil {
		return err
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d file(s) not stored", failed, len(files)))
	}
	return nil
}
