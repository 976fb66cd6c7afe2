package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/refine"
	"github.com/haasonsaas/nexus/internal/agent/routing"
	"github.com/haasonsaas/nexus/internal/agent/tape"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var (
		skipConfirmations bool
		recordPath        string
		replayPath        string
		sessionKey        string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent session",
		Long: `Start an interactive REPL against the configured provider.

Type "exit" or "quit" to leave the session, or "help" to see this message
again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd, skipConfirmations, recordPath, replayPath, sessionKey)
		},
	}
	cmd.Flags().BoolVar(&skipConfirmations, "skip-confirmations", false, "bypass the diff-preview confirmation hook for write-effect tools")
	cmd.Flags().StringVar(&recordPath, "record", "", "record every turn to a tape file at the given path")
	cmd.Flags().StringVar(&replayPath, "replay", "", "replay a previously recorded tape instead of calling a live provider")
	cmd.Flags().StringVar(&sessionKey, "session", "cli-default", "session key to load and append history under")
	return cmd
}

func runREPL(cmd *cobra.Command, skipConfirmations bool, recordPath, replayPath, sessionKey string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	metrics := buildMetrics(cfg)
	if metrics != nil {
		stop, err := serveMetrics(cfg.MetricsAddr, metrics)
		if err != nil {
			return err
		}
		defer stop()
	}

	registry := buildToolRegistry(cfg, metrics)
	policyEngine, err := buildPolicyEngine(cfg, registry)
	if err != nil {
		return err
	}

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	session, err := sessionStore.GetOrCreate(ctx, sessionKey, "cli", models.ChannelAPI, sessionKey)
	if err != nil {
		return fmt.Errorf("open session %s: %w", sessionKey, err)
	}
	history, err := sessionStore.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return fmt.Errorf("load session history: %w", err)
	}

	var provider agent.LLMProvider
	var taskRouter *routing.TaskRouter
	var recorder *tape.Recorder
	var refiner *refine.Refiner
	if replayPath != "" {
		data, err := os.ReadFile(replayPath)
		if err != nil {
			return fmt.Errorf("read tape %s: %w", replayPath, err)
		}
		recordedTape, err := tape.Unmarshal(data)
		if err != nil {
			return fmt.Errorf("parse tape %s: %w", replayPath, err)
		}
		provider = tape.NewReplayer(recordedTape).WithMetrics(metrics)
	} else {
		llmProviders, err := buildProviders(cfg)
		if err != nil {
			return err
		}
		router := buildRouter(cfg, llmProviders)
		taskRouter = buildTaskRouter(cfg, router)
		refiner = buildRefiner(cfg, llmProviders)
		if recordPath != "" {
			rec := tape.NewRecorder(router).WithMetrics(metrics)
			recorder = rec
			provider = rec
		} else {
			provider = router
		}
	}

	led := buildLedger(cfg)
	loopCfg := buildLoopConfig(cfg, skipConfirmations)
	opts := agent.RuntimeOptions{
		PolicyEngine: policyEngine,
		Ledger:       led,
		Config:       loopCfg,
		Metrics:      metrics,
	}
	opts.Router = taskRouter
	if refiner != nil {
		opts.Refiner = refiner
	}
	rt := agent.NewRuntime(provider, registry, opts)

	fmt.Fprintln(out, "nexus agent session. Type 'help' for commands, 'exit' to quit.")
	reader := bufio.NewReader(cmd.InOrStdin())

	for {
		fmt.Fprint(out, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "exit", "quit":
			if recorder != nil {
				if err := saveTape(recordPath, recorder.Tape()); err != nil {
					slog.Error("save tape", "error", err)
				}
			}
			return nil
		case "help":
			fmt.Fprintln(out, "commands: exit, quit, help. Anything else is sent to the agent.")
			continue
		}

		result, err := rt.RunTurn(ctx, history, text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		// RunTurn's returned history may be trimmed relative to what was
		// passed in, so the store is given only the two user-visible
		// messages for this turn rather than a length-based diff.
		if err := sessionStore.AppendMessage(ctx, session.ID, &models.Message{
			SessionID: session.ID, Channel: models.ChannelAPI, Direction: models.DirectionInbound,
			Role: models.RoleUser, Content: text,
		}); err != nil {
			slog.Error("persist session message", "error", err)
		}
		if err := sessionStore.AppendMessage(ctx, session.ID, &models.Message{
			SessionID: session.ID, Channel: models.ChannelAPI, Direction: models.DirectionOutbound,
			Role: models.RoleAssistant, Content: result.FinalText,
		}); err != nil {
			slog.Error("persist session message", "error", err)
		}
		history = result.Messages
		fmt.Fprintln(out, result.FinalText)
		if result.Advisory != "" {
			fmt.Fprintf(out, "[advisory] %s\n", result.Advisory)
		}
	}

	if recorder != nil {
		return saveTape(recordPath, recorder.Tape())
	}
	return nil
}

func saveTape(path string, t *tape.Tape) error {
	if path == "" {
		return nil
	}
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("marshal tape: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
