package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Davelummy/taxagent/internal/config"
	"github.com/Davelummy/taxagent/internal/migrate"
	"github.com/Davelummy/taxagent/internal/obs"
	"github.com/Davelummy/taxagent/internal/store/pg"
)

func main() {
	var (
		dsn     string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the taxagent PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	run := func(fn func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := obs.InitLogger(cfg.Log.Level, "console"); err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Database.URL
			}
			if dsn == "" {
				return eris.New("missing DSN: provide --dsn or DATABASE_URL")
			}
			store, err := pg.Open(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			mgr := migrate.NewManager(store.DB(), migrate.Migrations(), migrate.Seeds(), migrate.WithLogger(obs.Logger()))
			return fn(ctx, mgr, cmd)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: run(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
				applied, err := mgr.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				if err == nil && len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
				name, err := mgr.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: run(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range history {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load demo seed data",
			RunE: run(func(ctx context.Context, mgr *migrate.Manager, cmd *cobra.Command) error {
				applied, err := mgr.Seed(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
				}
				return err
			}),
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, eris.ToString(err, false))
		os.Exit(1)
	}
}
