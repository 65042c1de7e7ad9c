package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/keyless-tips/backend/internal/app"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/currency"
	"github.com/keyless-tips/backend/internal/db"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/repositories"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	cfg       *config.Config
	log       *zap.Logger
	out       string // json | text
	migrDir   string
	infra     *app.Infra
	ledger    *ledger.Client
	verbosity bool
}

func (c *cli) connect(ctx context.Context) error {
	if c.infra != nil {
		return nil
	}
	infra, err := app.Connect(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	c.infra = infra
	return nil
}

func (c *cli) ledgerClient() (*ledger.Client, error) {
	if c.ledger != nil {
		return c.ledger, nil
	}
	var err error
	// the CLI never needs the shared fee cache
	c.ledger, err = app.NewLedgerClient(c.cfg, nil, c.log)
	return c.ledger, err
}

func (c *cli) print(v any) {
	if c.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-20s %v\n", k, t[k])
		}
	default:
		fmt.Printf("%+v\n", v)
	}
}

func main() {
	cfg := config.Load()
	c := &cli{cfg: cfg, out: "text", migrDir: "migrations"}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:           "tipctl",
		Short:         "Operator CLI for the keyless tips backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.out != "json" && c.out != "text" {
				return fmt.Errorf("--out must be json or text")
			}
			var err error
			if c.verbosity {
				c.log, err = zap.NewDevelopment()
			} else {
				c.log, err = zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.infra != nil {
				c.infra.Close()
			}
			_ = c.log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&c.out, "out", c.out, "output format: json|text")
	root.PersistentFlags().StringVar(&c.migrDir, "migrations", c.migrDir, "migrations directory")
	root.PersistentFlags().BoolVarP(&c.verbosity, "verbose", "v", false, "debug logging")

	root.AddCommand(
		migrateCmd(ctx, c),
		quoteCmd(ctx, c),
		reconcileCmd(ctx, c),
		profileCmd(ctx, c),
		tipCmd(ctx, c),
		feesCmd(ctx, c),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd(ctx context.Context, c *cli) *cobra.Command {
	var down, status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, roll back the last one, or list applied ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			switch {
			case status:
				applied, err := db.AppliedMigrations(ctx, c.infra.Pool)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(applied))
				for name := range applied {
					names = append(names, name)
				}
				sort.Strings(names)
				c.print(map[string]any{"applied": names})
				return nil
			case down:
				name, err := db.RollbackLast(ctx, c.infra.Pool, c.migrDir, c.log)
				if err != nil {
					return err
				}
				c.print(map[string]any{"rolled_back": name})
				return nil
			default:
				if err := db.RunMigrations(ctx, c.infra.Pool, c.migrDir, c.log); err != nil {
					return err
				}
				c.print(map[string]any{"ok": true})
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "list applied migrations")
	return cmd
}

func quoteCmd(ctx context.Context, c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <amount>",
		Short: "Show the fee split for an amount in major units, e.g. 15.00",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := currency.ParseMajor(args[0])
			if err != nil {
				return err
			}
			if cents <= 0 {
				return errors.New("amount must be positive")
			}
			lc, err := c.ledgerClient()
			if err != nil {
				return err
			}
			q := lc.QuoteTipSplit(ctx, cents)
			c.print(map[string]any{
				"amount":    currency.FormatCents(q.AmountCents),
				"net":       currency.FormatCents(q.NetCents),
				"fee":       currency.FormatCents(q.FeeCents),
				"fee_bps":   q.FeeBPS,
				"estimated": q.Estimated,
			})
			return nil
		},
	}
}

func reconcileCmd(ctx context.Context, c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over tips with pending ledger references",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			lc, err := app.NewLedgerClient(c.cfg, c.infra.Redis, c.log)
			if err != nil {
				return err
			}
			report, err := app.NewReconciler(c.cfg, c.infra, lc, c.log).RunOnce(ctx)
			if err != nil {
				return err
			}
			c.print(map[string]any{
				"checked":   report.Checked,
				"settled":   report.Settled,
				"failed":    report.Failed,
				"expired":   report.Expired,
				"pending":   report.Pending,
				"skipped":   report.Skipped,
				"errors":    report.Errors,
				"unsettled": report.Unsettled,
			})
			return nil
		},
	}
}

func profileCmd(ctx context.Context, c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect profiles",
	}
	show := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show a profile's mirror aggregates next to its ledger record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			p, err := repositories.NewProfileRepo(c.infra.Pool).GetBySlug(ctx, args[0])
			if errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("profile %q not found", args[0])
			}
			if err != nil {
				return err
			}

			out := map[string]any{
				"slug":          p.Slug,
				"address":       p.Address,
				"category":      p.Category,
				"tip_count":     p.TipCount,
				"total":         currency.FormatCents(p.TotalTipsCents),
				"average":       currency.FormatCents(p.AverageTipCents),
				"ledger_tx":     deref(p.LedgerTxHash),
				"ledger_record": "absent",
			}
			lc, err := c.ledgerClient()
			if err != nil {
				return err
			}
			rec, err := lc.GetProfile(ctx, p.Address)
			switch {
			case err != nil:
				out["ledger_record"] = "error: " + err.Error()
			case rec != nil:
				out["ledger_record"] = "present"
				out["ledger_tip_count"] = rec.TipCount
				out["ledger_total"] = currency.FormatCents(currency.OctasToCents(rec.TotalTipsOctas))
			}
			c.print(out)
			return nil
		},
	}
	cmd.AddCommand(show)
	return cmd
}

func tipCmd(ctx context.Context, c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tip",
		Short: "Inspect tips",
	}
	var trail int
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a tip with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tip id: %w", err)
			}
			if err := c.connect(ctx); err != nil {
				return err
			}
			t, err := repositories.NewTipRepo(c.infra.Pool).GetByID(ctx, id)
			if errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("tip %s not found", id)
			}
			if err != nil {
				return err
			}
			logs, err := repositories.NewAuditRepo(c.infra.Pool).ListByEntity(ctx, "tip", id, trail)
			if err != nil {
				return err
			}

			history := make([]string, 0, len(logs))
			for _, l := range logs {
				history = append(history, fmt.Sprintf("%s %s (%s)", l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), l.Action, l.ActorType))
			}
			c.print(map[string]any{
				"id":            t.ID,
				"profile":       t.ProfileSlug,
				"amount":        currency.FormatCents(t.AmountCents),
				"net":           currency.FormatCents(t.NetAmountCents),
				"fee":           currency.FormatCents(t.PlatformFeeCents),
				"ledger_status": t.LedgerStatus,
				"tx_hash":       deref(t.TxHash),
				"pending_tx":    deref(t.PendingTxHash),
				"audit":         history,
			})
			return nil
		},
	}
	show.Flags().IntVar(&trail, "trail", 20, "number of audit entries to show")
	cmd.AddCommand(show)
	return cmd
}

func feesCmd(ctx context.Context, c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Fetch the current on-chain fee schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, err := c.ledgerClient()
			if err != nil {
				return err
			}
			fs, err := lc.RefreshFeeSchedule(ctx)
			if err != nil {
				return err
			}
			c.print(map[string]any{"fee_bps": fs.FeeBPS, "fetched_at": fs.FetchedAt})
			return nil
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
