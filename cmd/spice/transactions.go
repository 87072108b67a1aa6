package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Veraticus/spice-feedback/internal/cli"
	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/spf13/cobra"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txn"},
		Short:   "Manage the transactions suggestions are made for",
	}

	cmd.AddCommand(transactionsImportCmd())
	return cmd
}

func transactionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import already-normalized transactions from a JSON array",
		Long: `Import transactions from a JSON array of objects with id, date, name,
merchant and amount. Existing transactions with the same id are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var txns []model.Transaction
			if err := json.Unmarshal(data, &txns); err != nil {
				return common.NewUserError(fmt.Sprintf("%s is not a JSON array of transactions", args[0]), err)
			}
			if len(txns) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("no transactions in file"))
				return err
			}

			db, cleanup, err := getDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := db.SaveTransactions(cmd.Context(), txns); err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("imported %d transactions", len(txns))))
			return err
		},
	}
}
