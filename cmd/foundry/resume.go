package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"foundry/internal/orch"
	"foundry/pkg/proto"
)

func newResumeCmd() *cobra.Command {
	var (
		approve   bool
		reject    bool
		feedback  string
		editsFile string
	)
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resolve a paused run with an approval or a revision request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("pass exactly one of --approve or --reject")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := orch.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			decision := proto.HumanDecision{Approved: approve, Feedback: feedback}
			if editsFile != "" {
				edits, err := os.ReadFile(editsFile)
				if err != nil {
					return fmt.Errorf("failed to read edits file: %w", err)
				}
				decision.Edits = string(edits)
			}

			st, err := svc.SubmitHumanDecision(cmd.Context(), args[0], decision)
			if err != nil {
				return err
			}
			if st.Done {
				printFinal(st)
				return nil
			}
			if st.AwaitingHuman {
				fmt.Printf("Run %s produced a new draft and is awaiting review again.\n", st.RunID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the current draft")
	cmd.Flags().BoolVar(&reject, "reject", false, "request a revision")
	cmd.Flags().StringVar(&feedback, "feedback", "", "revision guidance for the drafter")
	cmd.Flags().StringVar(&editsFile, "edits", "", "file containing an edited draft to apply")
	return cmd
}

func newEditCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit <run-id>",
		Short: "Save a hand-edited draft without changing the run's routing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read draft file: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := orch.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.SaveEdit(cmd.Context(), args[0], string(content))
			if err != nil {
				return err
			}
			fmt.Printf("Saved draft version %d for run %s\n", len(st.DraftVersions), st.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file containing the edited draft")
	return cmd
}
