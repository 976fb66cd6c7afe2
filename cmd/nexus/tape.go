package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/tape"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/pkg/models"
)

func buildTapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tape",
		Short: "Record or replay a deterministic run-loop session",
	}
	cmd.AddCommand(buildTapeRecordCmd(), buildTapeReplayCmd())
	return cmd
}

func buildTapeRecordCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "record <file>",
		Short: "Record a single turn against the live provider to a tape file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			llmProviders, err := buildProviders(cfg)
			if err != nil {
				return err
			}
			router := buildRouter(cfg, llmProviders)
			metrics := buildMetrics(cfg)
			rec := tape.NewRecorder(router).WithMetrics(metrics)

			registry := buildToolRegistry(cfg, metrics)
			policyEngine, err := buildPolicyEngine(cfg, registry)
			if err != nil {
				return err
			}
			rt := agent.NewRuntime(rec, registry, agent.RuntimeOptions{
				PolicyEngine: policyEngine,
				Ledger:       buildLedger(cfg),
				Refiner:      buildRefiner(cfg, llmProviders),
				Config:       buildLoopConfig(cfg, true),
				Metrics:      metrics,
			})

			result, err := rt.RunTurn(context.Background(), []*models.Message(nil), prompt)
			if err != nil {
				return fmt.Errorf("run turn: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.FinalText)

			data, err := rec.Tape().Marshal()
			if err != nil {
				return fmt.Errorf("marshal tape: %w", err)
			}
			return os.WriteFile(args[0], data, 0o644)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "the user message to record a turn for")
	return cmd
}

func buildTapeReplayCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a recorded tape's turns deterministically, without live credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read tape %s: %w", args[0], err)
			}
			recordedTape, err := tape.Unmarshal(data)
			if err != nil {
				return fmt.Errorf("parse tape %s: %w", args[0], err)
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			metrics := buildMetrics(cfg)
			replayer := tape.NewReplayer(recordedTape).WithMetrics(metrics)
			if strict {
				replayer = replayer.WithMode(tape.ReplayStrict)
			}

			registry := buildToolRegistry(cfg, metrics)
			policyEngine, err := buildPolicyEngine(cfg, registry)
			if err != nil {
				return err
			}
			rt := agent.NewRuntime(replayer, registry, agent.RuntimeOptions{
				PolicyEngine: policyEngine,
				Ledger:       buildLedger(cfg),
				Config:       buildLoopConfig(cfg, true),
				Metrics:      metrics,
			})

			out := cmd.OutOrStdout()
			var history []*models.Message
			for i := 0; i < recordedTape.TotalTurns(); i++ {
				turn, ok := recordedTape.GetTurn(i)
				if !ok {
					break
				}
				result, err := rt.RunTurn(context.Background(), history, lastUserText(turn))
				if err != nil {
					return fmt.Errorf("replay turn %d: %w", i, err)
				}
				history = result.Messages
				fmt.Fprintf(out, "turn %d: %s\n", i, result.FinalText)
			}
			if mismatches := replayer.Mismatches(); len(mismatches) > 0 {
				fmt.Fprintf(out, "%d request mismatch(es) detected during replay\n", len(mismatches))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail replay on any request mismatch rather than only reporting it")
	return cmd
}

// lastUserText pulls the most recent user-role message out of a recorded
// turn's request so the run-loop can be driven turn-by-turn during replay.
func lastUserText(turn *tape.Turn) string {
	if turn == nil || turn.Request == nil {
		return ""
	}
	for i := len(turn.Request.Messages) - 1; i >= 0; i-- {
		if turn.Request.Messages[i].Role == "user" {
			return turn.Request.Messages[i].Content
		}
	}
	return ""
}
