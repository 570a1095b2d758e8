// Command ledgerctl runs operator tasks against the credit ledger without the
// HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/clipmeter/internal/app"
	"github.com/fatflowers/clipmeter/internal/app/service/gift"
	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
)

type deps struct {
	fx.In
	Ledger *ledger.Service
	Gifts  *gift.Service
}

// withApp starts the core graph, runs fn and stops the graph again.
func withApp(ctx context.Context, fn func(ctx context.Context, d deps) error) error {
	var d deps
	a := fx.New(app.CoreModule, fx.NopLogger, fx.Populate(&d))
	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}
	runErr := fn(ctx, d)

	stopCtx, cancel2 := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel2()
	if err := a.Stop(stopCtx); err != nil && runErr == nil {
		return fmt.Errorf("failed to stop app: %w", err)
	}
	return runErr
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReconcileCmd() *cobra.Command {
	var onlyDrift bool
	cmd := &cobra.Command{
		Use:   "reconcile [user_id]",
		Short: "Compare stored balances with the sum of ledger entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, d deps) error {
				if len(args) == 1 {
					r, err := d.Ledger.Reconcile(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, r)
				}
				all, err := d.Ledger.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				drift := countDrift(all)
				out := all
				if onlyDrift {
					out = make([]*ledger.Reconciliation, 0, drift)
					for _, r := range all {
						if !r.Consistent {
							out = append(out, r)
						}
					}
				}
				if err := printJSON(cmd, out); err != nil {
					return err
				}
				if drift > 0 {
					return fmt.Errorf("ledger drift detected for %d user(s)", drift)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&onlyDrift, "only-drift", false, "print inconsistent users only")
	return cmd
}

func countDrift(rs []*ledger.Reconciliation) int {
	n := 0
	for _, r := range rs {
		if !r.Consistent {
			n++
		}
	}
	return n
}

func newGiftCmd() *cobra.Command {
	var (
		req      gift.Request
		operator string
	)
	cmd := &cobra.Command{
		Use:   "gift",
		Short: "Grant free credits to a user by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, d deps) error {
				res, err := d.Gifts.GiftCredits(ctx, req, operator)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "recipient email")
	cmd.Flags().Int64Var(&req.Quantity, "quantity", 0, "credits to grant")
	cmd.Flags().StringVar(&req.Reference, "reference", "", "idempotency reference; repeated runs with the same value grant once")
	cmd.Flags().StringVar(&operator, "operator", "ledgerctl", "operator recorded on the ledger entry")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tools for the clipmeter credit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newReconcileCmd(), newGiftCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
