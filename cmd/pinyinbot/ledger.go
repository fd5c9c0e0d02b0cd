package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"pinyinbot/internal/ledger"

	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect recorded translation outcomes",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(ctx context.Context, s *ledger.Store) error {
				rows, err := s.Recent(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSOURCE\tOUTCOME\tERROR\tCHAT\tVARIANT\tPAYLOAD\tMODEL\tREPLIED\tLATENCY")
				for _, o := range rows {
					kind := string(o.ErrorKind)
					if kind == "" {
						kind = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dx%d\t%d\t%s\t%t\t%s\n",
						o.CreatedAt.Local().Format(time.DateTime), o.Source, o.Classification, kind,
						o.ChatID, o.VariantWidth, o.VariantHeight, o.PayloadBytes, o.Model, o.Replied,
						o.Latency.Round(time.Millisecond))
				}
				return tw.Flush()
			})
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count outcomes by classification and error kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(ctx context.Context, s *ledger.Store) error {
				rows, err := s.Summary(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "OUTCOME\tERROR\tCOUNT\tAVG LATENCY")
				for _, r := range rows {
					kind := r.ErrorKind
					if kind == "" {
						kind = "-"
					}
					avg := time.Duration(r.AvgLatencyMs * float64(time.Millisecond)).Round(time.Millisecond)
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Outcome, kind, r.Count, avg)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(recent, summary)
	return cmd
}

func withLedger(fn func(ctx context.Context, s *ledger.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("ledger is disabled: set ledger.enabled to true")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := ledger.Open(ctx, ledger.Config{Driver: cfg.Ledger.Driver, DSN: cfg.Ledger.DSN, Logger: logger})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
