package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/models"
)

type reconcileFlags struct {
	building      string
	ids           []string
	threshold     float64
	typeThreshold int
	dryRun        bool
	backfill      bool
	replace       []string
	replaceFile   string
	copyOnly      []string
}

func newReconcileCommand(root *rootOptions) *cobra.Command {
	flags := &reconcileFlags{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Link source records into unified buildings and rebuild stale ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := flags.replaceNames()
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				opts := a.RunOptions()
				opts.Filter.Building = flags.building
				opts.Filter.IDs = flags.ids
				if cmd.Flags().Changed("threshold") {
					opts.Threshold = flags.threshold
				}
				if cmd.Flags().Changed("type-threshold") {
					opts.TypeThreshold = flags.typeThreshold
				}
				if cmd.Flags().Changed("backfill") {
					opts.Backfill = flags.backfill
				}
				opts.DryRun = flags.dryRun
				opts.ForceReplace = names
				opts.CopyOnly = flags.copyOnly

				report, err := a.Engine().RunReconciliation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.building, "building", "", "case-insensitive regular expression over building names")
	f.StringSliceVar(&flags.ids, "id", nil, "restrict the run to these unified entity ids")
	f.Float64Var(&flags.threshold, "threshold", 0, "name similarity threshold in (0, 1]")
	f.IntVar(&flags.typeThreshold, "type-threshold", 0, "apartment count per type above which lists are replaced")
	f.BoolVar(&flags.dryRun, "dry-run", false, "compute the report without writing")
	f.BoolVar(&flags.backfill, "backfill", true, "stamp missing source updated_at values first")
	f.StringArrayVar(&flags.replace, "replace", nil, "building whose apartment list is replaced wholesale (repeatable)")
	f.StringVar(&flags.replaceFile, "replace-file", "", "file of building names to replace, one per line")
	f.StringArrayVar(&flags.copyOnly, "copy-only", nil, "building whose apartment list is never touched (repeatable)")
	return cmd
}

func (f *reconcileFlags) replaceNames() ([]string, error) {
	names := append([]string(nil), f.replace...)
	if f.replaceFile == "" {
		return names, nil
	}
	fromFile, err := config.ReadNameFile(f.replaceFile)
	if err != nil {
		return nil, err
	}
	return append(names, fromFile...), nil
}

func newCollapseCommand(root *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:       "collapse <source>",
		Short:     "Merge duplicate records inside one source collection",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"domrf", "avito", "domclick", "cian"},
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := models.ParseSourceName(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				report, err := a.Engine().RunDuplicateCollapse(ctx, source, dryRun)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report clusters without deleting")
	return cmd
}

func newBackfillCommand(root *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Stamp updated_at on source records that lack one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				result, err := a.Engine().RunBackfill(ctx, dryRun)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"stamped": result, "total": result.Total(), "dry_run": dryRun})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count records without writing")
	return cmd
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, root, func(_ context.Context, a *app.App) error {
				if a.Config.StoreDriver != config.StoreDriverPostgres {
					return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
				}
				a.Logger.Info("Migrations are up to date")
				return nil
			})
		},
	}
}

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, root, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}
