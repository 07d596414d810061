package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/sweeper"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired progress records and stale quota holds once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Memory and redis records expire on their own; only the SQL
		// backend needs an explicit purge.
		var ps progress.Sweeper
		if cfg.Progress.Backend == "sql" {
			ps = progress.NewSQLStore(st, time.Duration(cfg.Progress.TTLHours)*time.Hour)
		}

		res, err := sweeper.New(ps, st, cfg.Sweeper).SweepOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d progress records, %d holds\n", res.Progress, res.Holds)
		return nil
	},
}

var usageKind string

var usageCmd = &cobra.Command{
	Use:   "usage <identityKey>",
	Short: "Show quota usage and ledger events for an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := initEngine(st)
		if err != nil {
			return err
		}
		id := model.Identity{Kind: model.IdentityKind(usageKind), Key: args[0]}
		u, err := engine.Usage(ctx, id)
		if err != nil {
			return err
		}
		events, err := st.ListUsageEvents(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "identity: %s (%s, %s)\n", id.Key, u.Kind, u.Scope)
		switch rem := u.Remaining(); {
		case rem < 0:
			fmt.Fprintf(out, "used: %d (unlimited)\n", u.Used)
		default:
			fmt.Fprintf(out, "used: %d of %d, %d remaining\n", u.Used, u.Limit, rem)
		}
		if !u.ResetsAt.IsZero() {
			fmt.Fprintf(out, "resets: %s\n", u.ResetsAt.Format(time.RFC3339))
		}

		if len(events) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "OCCURRED\tSOURCE\tKIND\tTASK")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.OccurredAt.Format(time.RFC3339), ev.SourceID, ev.IdentityKind, ev.TaskID)
		}
		return tw.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageKind, "kind", string(model.IdentityFree), "identity kind (anonymous, free, subscriber, unlimited)")
	rootCmd.AddCommand(migrateCmd, sweepCmd, usageCmd, configCmd)
}
