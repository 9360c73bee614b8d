package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"confhub.org/internal/migrate"
	"confhub.org/internal/store/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, roll back or inspect the bundled schema migrations",
}

func init() {
	migrateCmd.AddCommand(
		migrationStep("up", "Apply every pending migration", (*migrate.Manager).Up),
		migrationStep("down", "Roll back the most recent migration", (*migrate.Manager).Down),
		migrationStep("seed", "Load demo data that has not been loaded yet", (*migrate.Manager).Seed),
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, func(m *migrate.Manager) error {
					entries, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					w := cmd.OutOrStdout()
					for _, e := range entries {
						if e.Pending() {
							fmt.Fprintf(w, "pending  %-20s  %s\n", "", e.Name)
							continue
						}
						fmt.Fprintf(w, "applied  %-20s  %s\n", e.AppliedAt.UTC().Format(time.RFC3339), e.Name)
					}
					return nil
				})
			},
		},
	)
}

func migrationStep(use, short string, step func(*migrate.Manager, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(m *migrate.Manager) error {
				if err := step(m, cmd.Context()); err != nil {
					return fmt.Errorf("migrate %s: %w", use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", use)
				return nil
			})
		},
	}
}

func withManager(cmd *cobra.Command, fn func(*migrate.Manager) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	cmd.SetContext(ctx)

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(migrate.NewManager(st.DB(), pg.Migrations(), pg.Seeds()))
}
