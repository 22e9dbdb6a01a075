package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"foundry/internal/orch"
	"foundry/pkg/history"
	"foundry/pkg/metrics"
)

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <run-id>",
		Short: "Print the full persisted state of a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := orch.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run's audit trail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := history.NewStore(cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tCREATED\tOUTCOME\tINTENT")
				for _, r := range runs {
					outcome := r.Outcome
					if outcome == "" {
						outcome = "active"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.CreatedAt.Format("2006-01-02 15:04"), outcome, r.Intent)
				}
				return w.Flush()
			}

			rec, log, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Run %s\nIntent: %s\n", rec.RunID, rec.Intent)
			if rec.Outcome != "" {
				fmt.Printf("Outcome: %s\n", rec.Outcome)
			}
			fmt.Println()
			for _, e := range log {
				fmt.Printf("[iteration %d] %s: %s\n", e.Iteration, e.Stage, e.Note)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var prometheusURL string
	cmd := &cobra.Command{
		Use:   "metrics <run-id>",
		Short: "Show token and request usage for a run from Prometheus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url := prometheusURL
			if url == "" {
				url = cfg.PrometheusURL
			}
			if url == "" {
				return fmt.Errorf("no Prometheus URL configured; pass --prometheus-url or set prometheus_url in the config")
			}

			qs, err := metrics.NewQueryService(url)
			if err != nil {
				return err
			}
			byModel, err := qs.GetRunMetricsByModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(byModel) == 0 {
				fmt.Printf("No usage recorded for run %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tREQUESTS\tPROMPT TOKENS\tCOMPLETION TOKENS\tTOTAL")
			for model, m := range byModel {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", model, m.Requests, m.PromptTokens, m.CompletionTokens, m.TotalTokens)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus-url", "", "Prometheus base URL")
	return cmd
}
