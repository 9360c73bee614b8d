package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"confhub.org/internal/config"
	"confhub.org/internal/obs"
	"confhub.org/internal/store/pg"
)

var (
	cfgFile string
	dsn     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "confhubctl",
	Short:        "Operator tool for the conference registration service",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.SetLevel("warn")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (overrides db.dsn)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall operation timeout")

	rootCmd.AddCommand(migrateCmd, accountCmd)
}

// openStore resolves the DSN from --dsn or configuration and connects.
func openStore(ctx context.Context) (*pg.Store, error) {
	target := dsn
	if target == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		target = cfg.DB.DSN
	}
	if target == "" {
		return nil, errors.New("missing DSN: pass --dsn or set CONFHUB_DB_DSN")
	}
	st, err := pg.Open(target)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
