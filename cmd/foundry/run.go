package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"foundry/internal/orch"
	"foundry/pkg/proto"
)

func newRunCmd() *cobra.Command {
	var (
		runID       string
		contextText string
		autoApprove bool
	)
	cmd := &cobra.Command{
		Use:   "run <intent>",
		Short: "Create a run and drive it until it needs you or finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if autoApprove {
				cfg.AutoApprove = true
			}
			svc, err := orch.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.CreateRun(cmd.Context(), runID, args[0], contextText)
			if err != nil {
				return err
			}
			fmt.Printf("Created run %s\n", st.RunID)

			return driveInteractive(cmd.Context(), svc, st.RunID)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "explicit run id (default: generated)")
	cmd.Flags().StringVar(&contextText, "context", "", "patient or situational context for the drafter")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve the draft without pausing for review")
	return cmd
}

// driveInteractive drives the run and, when it pauses on a TTY, walks the
// operator through approve/reject/edit until the run finishes.
func driveInteractive(ctx context.Context, svc *orch.Service, runID string) error {
	events, stop := svc.Subscribe(runID)
	defer stop()
	go printEvents(events)

	for {
		st, err := svc.Drive(ctx, runID)
		if err != nil {
			return err
		}
		if st.Done {
			printFinal(st)
			return nil
		}
		if !st.AwaitingHuman {
			return nil
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Printf("\nRun %s is awaiting review. Resume with:\n  foundry resume %s --approve\n", runID, runID)
			return nil
		}

		decision, err := promptDecision(st)
		if err != nil {
			return err
		}
		st, err = svc.SubmitHumanDecision(ctx, runID, decision)
		if err != nil {
			return err
		}
		if st.Done {
			printFinal(st)
			return nil
		}
		// A rejection resumed drafting inside SubmitHumanDecision; loop to
		// handle the next pause.
	}
}

func printEvents(events <-chan proto.Event) {
	for ev := range events {
		switch ev.Type {
		case proto.EventStageApplied:
			fmt.Printf("  [iteration %d] %s finished\n", ev.Iteration, ev.Stage)
		case proto.EventPaused, proto.EventCompleted:
			fmt.Printf("  %s\n", ev.Note)
		}
	}
}

func promptDecision(st *proto.RunState) (proto.HumanDecision, error) {
	fmt.Printf("\n--- draft (version %d) ---\n%s\n--- end draft ---\n", len(st.DraftVersions), st.CurrentDraft)
	if st.Safety != nil && len(st.Safety.Concerns) > 0 {
		fmt.Printf("Safety concerns: %s\n", strings.Join(st.Safety.Concerns, "; "))
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Approve draft? [y]es / [n]o, request revision / [e]dit and approve: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return proto.HumanDecision{}, fmt.Errorf("failed to read decision: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return proto.HumanDecision{Approved: true}, nil
		case "n", "no":
			fmt.Print("What should change? ")
			feedback, err := reader.ReadString('\n')
			if err != nil {
				return proto.HumanDecision{}, fmt.Errorf("failed to read feedback: %w", err)
			}
			return proto.HumanDecision{Approved: false, Feedback: strings.TrimSpace(feedback)}, nil
		case "e", "edit":
			fmt.Println("Enter the edited draft, end with a line containing only '.':")
			edits, err := readUntilDot(reader)
			if err != nil {
				return proto.HumanDecision{}, err
			}
			return proto.HumanDecision{Approved: true, Edits: edits}, nil
		}
		fmt.Println("Please answer y, n, or e.")
	}
}

func readUntilDot(reader *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read edits: %w", err)
		}
		if strings.TrimSpace(line) == "." {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
}

func printFinal(st *proto.RunState) {
	fmt.Printf("\nRun %s complete after %d iteration(s).\n\n%s\n", st.RunID, st.IterationCount, st.FinalOutput)
}
