package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	rootCmd.AddCommand(grantMonthlyCmd)
	rootCmd.AddCommand(grantDailyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(fixMonthlyCmd)
	rootCmd.AddCommand(setBalanceCmd)
	rootCmd.AddCommand(hashTokenCmd)

	grantMonthlyCmd.Flags().String("user", "", "User id to grant")
	grantMonthlyCmd.Flags().String("email", "", "Email used if the customer must be created")
	grantMonthlyCmd.Flags().Bool("all", false, "Grant every subscribed customer")

	grantDailyCmd.Flags().String("user", "", "User id to grant")
	grantDailyCmd.Flags().String("email", "", "Email used if the customer must be created")

	inspectCmd.Flags().String("user", "", "User id to inspect")
	fixMonthlyCmd.Flags().String("user", "", "User id to repair")

	setBalanceCmd.Flags().String("user", "", "User id to adjust")
	setBalanceCmd.Flags().Int("credits", -1, "New balance")
	setBalanceCmd.Flags().String("reason", "", "Why the balance is being overridden")
}

var errUserRequired = errors.New("--user is required")

// ─── grant-monthly ──────────────────────────────────────────────────────────

var grantMonthlyCmd = &cobra.Command{
	Use:   "grant-monthly",
	Short: "Apply the monthly subscription grant to one user or all subscribers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		all, _ := cmd.Flags().GetBool("all")
		if all == (user != "") {
			return errors.New("exactly one of --user or --all is required")
		}

		svc, pool, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		if all {
			res, err := svc.GrantMonthlyToAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		res, err := svc.GrantMonthly(cmd.Context(), user, email)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ─── grant-daily ────────────────────────────────────────────────────────────

var grantDailyCmd = &cobra.Command{
	Use:   "grant-daily",
	Short: "Apply the daily free grant to a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		if user == "" {
			return errUserRequired
		}
		svc, pool, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := svc.GrantDaily(cmd.Context(), user, email, "")
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ─── inspect ────────────────────────────────────────────────────────────────

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show balance, subscription, drift and recent history for a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return errUserRequired
		}
		svc, pool, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		report, err := svc.Inspect(cmd.Context(), user)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

// ─── fix-monthly ────────────────────────────────────────────────────────────

var fixMonthlyCmd = &cobra.Command{
	Use:   "fix-monthly",
	Short: "Remove monthly credits granted more than once in the current period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return errUserRequired
		}
		svc, pool, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := svc.FixDuplicateMonthly(cmd.Context(), user)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ─── set-balance ────────────────────────────────────────────────────────────

var setBalanceCmd = &cobra.Command{
	Use:   "set-balance",
	Short: "Force a user's balance, recording the difference in history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		credits, _ := cmd.Flags().GetInt("credits")
		reason, _ := cmd.Flags().GetString("reason")
		if user == "" {
			return errUserRequired
		}
		if credits < 0 {
			return errors.New("--credits must be zero or more")
		}
		if reason == "" {
			return errors.New("--reason is required")
		}
		svc, pool, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := svc.ForceBalance(cmd.Context(), user, credits, reason)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// ─── hash-token ─────────────────────────────────────────────────────────────

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token TOKEN",
	Short: "Print the bcrypt hash to use as ADMIN_TOKEN_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}
