package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/httpout"
	"github.com/roach88/radstore/internal/storage"
)

// recordContentType labels each exported part.
const recordContentType = "application/cbor"

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string

	// Boundary overrides the multipart boundary source (for testing).
	Boundary func() string
	// Create overrides how the --output file is opened (for testing).
	Create func(path string) (io.WriteCloser, error)
}

func createFile(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return newExportCommand(&ExportOptions{RootOptions: rootOpts})
}

func newExportCommand(opts *ExportOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <instance-id>...",
		Short: "Write instances as an HTTP response",
		Long: `Write the stored records of the given instances as one complete
HTTP response. Several instances become a multipart/related answer, one
part per instance, in argument order; this needs keep_alive: false in
the configuration. With keep_alive enabled a single instance is written
as a plain application/cbor body. Every instance is read before anything
is written.

Example:
  radstore export 1f0c...-... 9a2e...-... --output answer.http`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func runExport(opts *ExportOptions, ids []string, cmd *cobra.Command) (err error) {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	parts := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data, _, err := a.store.ReadAttachment(ctx, id, storage.ContentRecord, true)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("cannot read instance %s", id), err)
		}
		parts = append(parts, data)
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		create := opts.Create
		if create == nil {
			create = createFile
		}
		f, cerr := create(opts.Output)
		if cerr != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = WrapExitError(ExitCommandError, "failed to write output file", cerr)
			}
		}()
		w = f
	}

	var outputOpts []httpout.Option
	if opts.Boundary != nil {
		outputOpts = append(outputOpts, httpout.WithBoundaryGenerator(opts.Boundary))
	}
	sink := httpout.NewWriterSink(w)
	out := httpout.NewOutput(sink, a.cfg.KeepAlive, outputOpts...)
	defer out.Finish()

	if err := writeAnswer(out, parts); err != nil {
		return err
	}

	a.logger.Debug("export written", "instances", len(parts),
		"keep_alive", out.StateMachine().IsKeepAlive(), "bytes", sink.HeaderBytes+sink.BodyBytes)
	return nil
}

// writeAnswer frames parts as one response. A single instance on a
// keep-alive connection is sent as a plain body; everything else needs
// multipart framing, which keep-alive connections refuse.
func writeAnswer(out *httpout.Output, parts [][]byte) error {
	if len(parts) == 1 && out.StateMachine().IsKeepAlive() {
		if err := out.SetContentType(recordContentType); err != nil {
			return WrapExitError(ExitFailure, "failed to start answer", err)
		}
		if err := out.SendBody(parts[0], httpout.CompressionNone); err != nil {
			return WrapExitError(ExitFailure, "failed to write answer", err)
		}
		return nil
	}

	if err := out.StartMultipart("related", recordContentType); err != nil {
		if fault.IsNotImplemented(err) {
			return WrapExitError(ExitFailure, "exporting several instances requires keep_alive: false", err)
		}
		return WrapExitError(ExitFailure, "failed to start answer", err)
	}
	for _, p := range parts {
		if err := out.SendMultipartItem(p); err != nil {
			return WrapExitError(ExitFailure, "failed to write answer", err)
		}
	}
	if err := out.CloseMultipart(); err != nil {
		return WrapExitError(ExitFailure, "failed to close answer", err)
	}
	return nil
}
