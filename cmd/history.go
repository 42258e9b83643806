package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poputchik/deploykit/pkg/errors"
	"github.com/poputchik/deploykit/pkg/history"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if output != "table" && output != "yaml" {
				return errors.New(errors.CodeInvalidParameter, "cmd", fmt.Sprintf("unknown output format %q, want table or yaml", output), nil)
			}

			store, err := history.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output == "yaml" {
				return history.WriteYAML(cmd.OutOrStdout(), records)
			}
			return history.WriteTable(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or yaml")
	return cmd
}
