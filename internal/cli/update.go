package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/stringpool/internal/ir"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Canonical string
	Deleted   bool
	User      string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the canonical id or deleted flag of a record",
		Long: `Change the canonical id and/or deleted flag of a local record. An
empty --canonical makes the record its own canonical. Only the flags
given are changed.

Examples:
  stringpool update 0CC175B9C0F1B6A831C399E269772661 --deleted
  stringpool update 0CC175B9C0F1B6A831C399E269772661 --canonical 92EB5FFEE6AE2FEC3AD71C777531578F`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Canonical, "canonical", "", "new canonical id (empty for self)")
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "set the deleted flag (--deleted=false to undelete)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user recorded as updater")

	return cmd
}

func runUpdate(opts *UpdateOptions, id string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	canonical := ifChanged(cmd.Flags(), "canonical", &opts.Canonical)
	deleted := ifChanged(cmd.Flags(), "deleted", &opts.Deleted)
	if canonical == nil && deleted == nil {
		return NewExitError(ExitCommandError, "nothing to update: give --canonical and/or --deleted")
	}

	n, err := openNode(opts.RootOptions)
	if err != nil {
		return err
	}
	defer n.Close()

	rec, err := n.facade.Update(commandContext(cmd), id, canonical, deleted, n.actor(opts.User), "CLI")
	if err != nil {
		code := ExitFailure
		if ir.IsKind(err, ir.KindValidation) {
			code = ExitCommandError
		}
		return out.Fail(code, "update failed", err)
	}
	if rec == nil {
		return out.Fail(ExitFailure, "update failed", ir.NewNotFoundError("cli.update", id))
	}

	if out.JSON() {
		return out.Success(rec)
	}
	out.Okf("updated %s", rec.ID)
	out.Textf("%s", recordLine(*rec))
	out.VerboseLog("update time %d", rec.UpdateTime)
	return nil
}

// ifChanged returns v when the named flag was given, nil otherwise.
func ifChanged[T any](flags *pflag.FlagSet, name string, v *T) *T {
	if !flags.Changed(name) {
		return nil
	}
	return v
}
