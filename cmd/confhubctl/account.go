package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"confhub.org/internal/auth"
)

var newAccount auth.NewAccount

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts directly in the database",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an active account",
	Long: `Create an active account. This is how the first admin is bootstrapped.

Examples:
  confhubctl account create --username admin --email admin@example.org \
    --password 'change-me-now' --role admin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		acct, err := auth.NewAccountService(st).Create(ctx, newAccount)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(acct)
	},
}

func init() {
	f := accountCreateCmd.Flags()
	f.StringVar(&newAccount.Username, "username", "", "login name")
	f.StringVar(&newAccount.Email, "email", "", "email address")
	f.StringVar(&newAccount.Password, "password", "", "initial password (8 to 72 characters)")
	f.StringVar(&newAccount.Role, "role", string(auth.RoleUser), "admin, supervisor or user")
	f.StringVar(&newAccount.Department, "department", "", "department, optional")
	_ = accountCreateCmd.MarkFlagRequired("username")
	_ = accountCreateCmd.MarkFlagRequired("email")
	_ = accountCreateCmd.MarkFlagRequired("password")

	accountCmd.AddCommand(accountCreateCmd)
}
