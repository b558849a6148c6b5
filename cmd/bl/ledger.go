package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bidline/internal/app"
)

func ledgerCmd() *cobra.Command {
	led := &cobra.Command{
		Use:   "ledger",
		Short: "Workspace token ledger",
		Long:  "The workspace ships a SQL token ledger. Owners must approve the custody account before an assignment can escrow their funds.",
	}
	led.AddCommand(ledgerMintCmd())
	led.AddCommand(ledgerTransferCmd())
	led.AddCommand(ledgerApproveCmd())
	led.AddCommand(ledgerBalanceCmd())
	led.AddCommand(ledgerAllowanceCmd())
	led.AddCommand(ledgerJournalCmd())
	return led
}

func ledgerMintCmd() *cobra.Command {
	var to string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Credit tokens to an account (local ledger only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Ledger().Mint(ctx, to, amount); err != nil {
					return err
				}
				return printAccount(ctx, ws, to)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiving account")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to mint")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerTransferCmd() *cobra.Command {
	var to string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer tokens from the acting account",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Engine.Ledger.Transfer(ctx, from, to, amount); err != nil {
					return err
				}
				return printAccount(ctx, ws, from)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "receiving account")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to transfer")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerApproveCmd() *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Set how much the custody account may escrow from the acting account",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				acct, err := ws.Engine.ApproveCustody(ctx, owner, amount)
				if err != nil {
					return err
				}
				return printJSONOrTable(acct)
			})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "allowance (replaces the previous one)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account]",
		Short: "Show an account's balance (defaults to the acting account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountArg(args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				bal, err := ws.Engine.Ledger.BalanceOf(ctx, account)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"account": account, "balance": bal})
				}
				fmt.Printf("%s: %d %s\n", account, bal, ws.Config.Escrow.TokenSymbol)
				return nil
			})
		},
	}
}

func ledgerAllowanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allowance [account]",
		Short: "Show how much custody may still escrow from an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountArg(args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printAccount(ctx, ws, account)
			})
		},
	}
}

func ledgerJournalCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "journal [account]",
		Short: "Show ledger movements touching an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := accountArg(args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				entries, err := ws.Ledger().Journal(ctx, account, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Kind", "From", "To", "Amount", "Spender"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Kind, e.From, e.To, e.Amount, e.Spender})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func accountArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return actorID()
}

func printAccount(ctx context.Context, ws *app.Workspace, account string) error {
	acct, err := ws.Engine.Account(ctx, account)
	if err != nil {
		return err
	}
	return printJSONOrTable(acct)
}
