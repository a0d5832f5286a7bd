package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixelforge-studio/pixelforge/internal/config"
	"github.com/pixelforge-studio/pixelforge/internal/ledger"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Credit ledger maintenance",
		Long: `Operator tooling for the credit ledger: fund user accounts and inspect
balances. The balance is always computed as a fold over the append-only
transaction log.`,
	}

	cmd.AddCommand(newCreditsGrantCmd())
	cmd.AddCommand(newCreditsBalanceCmd())

	return cmd
}

func openLedger() (*ledger.Ledger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.LedgerPath)
}

func newCreditsGrantCmd() *cobra.Command {
	var user string
	var amount int64
	var initial bool

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Append a credit grant to a user's ledger",
		Example: `  # Fund a new user
  pixelforge credits grant --user u123 --amount 25 --initial

  # Top up an existing user
  pixelforge credits grant --user u123 --amount 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger()
			if err != nil {
				return err
			}
			defer l.Close()

			txType := ledger.TypeAdd
			description := "credit top-up"
			if initial {
				txType = ledger.TypeInitial
				description = "initial credit grant"
			}

			tx, err := l.Grant(cmd.Context(), user, amount, txType, description)
			if err != nil {
				return err
			}

			balance, err := l.Balance(cmd.Context(), user)
			if err != nil {
				return err
			}

			fmt.Printf("Granted %d credits to %s (transaction %s). Balance: %d\n", amount, user, tx.ID, balance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id to fund")
	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Credits to grant")
	cmd.Flags().BoolVar(&initial, "initial", false, "Record as an initial grant instead of a top-up")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newCreditsBalanceCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's credit balance and recent transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger()
			if err != nil {
				return err
			}
			defer l.Close()

			balance, err := l.Balance(cmd.Context(), user)
			if err != nil {
				return err
			}
			txs, err := l.Transactions(cmd.Context(), user)
			if err != nil {
				return err
			}

			fmt.Printf("Balance for %s: %d credits (%d transactions)\n", user, balance, len(txs))
			for _, tx := range txs {
				fmt.Printf("  %s  %+d  %-9s %s\n", tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Amount, tx.Type, tx.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id to inspect")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
