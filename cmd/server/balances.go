package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/internal/users"
)

func balancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances GROUP_ID",
		Short: "Print the netted balances and a settlement plan of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printBalances(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func printBalances(ctx context.Context, w io.Writer, groupID string) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	names, err := users.NewService(store, logger).DisplayNames(ctx, group.Members)
	if err != nil {
		return err
	}
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	balances := calculator.CalculateGroupBalances(group.ExpenseList())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\n\n", group.Name, group.Currency)
	fmt.Fprintln(tw, "MEMBER\tLENT\tOWES\tNET")
	for _, m := range calculator.Summarize(balances) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name(m.UserID), m.Lent.StringFixed(2), m.Owes.StringFixed(2), m.NetBalance.StringFixed(2))
	}
	fmt.Fprintln(tw)
	for _, s := range calculator.SettleUp(balances) {
		fmt.Fprintf(tw, "%s pays %s\t%s\n", name(s.FromUserID), name(s.ToUserID), s.Amount.StringFixed(2))
	}
	return tw.Flush()
}
