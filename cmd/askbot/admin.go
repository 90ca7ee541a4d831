package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/askbot/internal"
	"github.com/DukeRupert/askbot/internal/service"
	"github.com/DukeRupert/askbot/internal/store/sqlstore"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver == "memory" {
				return fmt.Errorf("nothing to migrate for DATABASE_DRIVER=memory")
			}

			st, err := sqlstore.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseUrl, logger)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer st.Close()

			if err := internal.RunMigrations(st.DB(), st.Driver()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, err := internal.MigrationStatus(st.DB(), st.Driver())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, st.Driver())
			return nil
		},
	}
}

func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id> <tier-id>",
		Short: "Grant a subscription tier after a payment was confirmed out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, _, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			provider, err := newProvider(cfg, logger)
			if err != nil {
				return err
			}
			assistant, err := service.New(service.Config{
				Store:     st,
				Provider:  provider,
				Policy:    cfg.QuotaPolicy,
				Catalogue: cfg.Catalogue,
				Location:  cfg.Location,
			}, logger)
			if err != nil {
				return err
			}

			c, err := assistant.Purchase(ctx, userID, "", args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %q (%d days) to user %d, expires %s\n",
				c.Tier.ID, c.DurationDays, userID, c.NewExpiry)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate usage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, _, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			reporter, err := service.NewReporter(st, cfg.ReportSchedule, cfg.Location, logger)
			if err != nil {
				return err
			}
			stats, err := reporter.Report(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERS\tACTIVE SUBSCRIPTIONS\tACTIVE TODAY")
			fmt.Fprintf(w, "%d\t%d\t%d\n", stats.Users, stats.ActiveSubscriptions, stats.ActiveToday)
			return w.Flush()
		},
	}
}
