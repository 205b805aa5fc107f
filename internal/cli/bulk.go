package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/adminsync/internal/adminapi"
)

// NewBulkCommand creates the bulk command.
func NewBulkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk <action> <id>...",
		Short: "Apply a bulk action to users by id",
		Long: `Apply one bulk action (verify, reject, delete, suspend, activate) to the
given user ids. Bulk requests are never retried.

Exits 1 when the backend reports any per-id failure.

Example:
  adminsync bulk suspend 0190c0de-aaaa 0190c0de-bbbb`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(rootOpts, cmd, args[0], args[1:])
		},
	}
	return cmd
}

func runBulk(opts *RootOptions, cmd *cobra.Command, name string, userIDs []string) error {
	out := opts.formatter(cmd)

	action, err := adminapi.ParseBulkAction(name)
	if err != nil {
		_ = out.Error("E_INVALID_ACTION", err.Error(), map[string]any{"valid": adminapi.BulkActions})
		return WrapExitError(ExitCommandError, "invalid bulk action", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := client.Bulk(ctx, action, userIDs)
	if err != nil {
		_ = out.Error(fetchErrorCode(err), err.Error(), map[string]any{"action": action, "ids": len(userIDs)})
		return WrapExitError(ExitFailure, "bulk request failed", err)
	}

	if err := out.Success(bulkResult{Action: action, BulkResult: res}); err != nil {
		return err
	}
	if res.FailureCount > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d ids failed", res.FailureCount, len(userIDs)))
	}
	return nil
}

type bulkResult struct {
	Action adminapi.BulkAction `json:"action"`
	adminapi.BulkResult
}

// RenderText implements TextRenderer.
func (b bulkResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d succeeded, %d failed\n", b.Action, b.SuccessCount, b.FailureCount)
	for _, e := range b.Errors {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", e.ID, e.Error); err != nil {
			return err
		}
	}
	return nil
}
