// Package cli defines the fern command line.
package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
)

type rootOptions struct {
	configFile string
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	cmd := NewRootCommand(out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand builds the fern command tree.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "fern",
		Short:         "Merge real-estate listings from several sources into unified buildings",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or env)")

	root.AddCommand(
		newReconcileCommand(opts),
		newCollapseCommand(opts),
		newBackfillCommand(opts),
		newMigrateCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// withApp loads configuration, starts the application, runs fn and stops
// every dependency afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.Logger.WithError(cerr).Warn("Failed to stop dependencies cleanly")
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
