package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixelforge-studio/pixelforge/internal/export"
)

func newExportCmd() *cobra.Command {
	var output string
	var user string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the credit transaction log to parquet",
		Long: `Dumps ledger transactions to a parquet file for offline analytics.
By default the full log is exported; --user restricts it to one account.`,
		Example: `  # Export everything
  pixelforge export --output transactions.parquet

  # Export one user's history
  pixelforge export --user u123 --output u123.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLedger()
			if err != nil {
				return err
			}
			defer l.Close()

			txs, err := l.All(cmd.Context())
			if err != nil {
				return err
			}
			if user != "" {
				filtered := txs[:0]
				for _, tx := range txs {
					if tx.UserID == user {
						filtered = append(filtered, tx)
					}
				}
				txs = filtered
			}

			n, err := export.WriteTransactions(output, txs)
			if err != nil {
				return err
			}

			fmt.Printf("Exported %d transactions to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "transactions.parquet", "Output parquet file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Restrict export to one user id")

	return cmd
}
