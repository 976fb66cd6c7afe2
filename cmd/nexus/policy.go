package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/tools/policy"
)

func buildPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and edit the per-tool policy store",
	}
	cmd.AddCommand(
		buildPolicyListCmd(),
		buildPolicySetCmd("allow", policy.Allow),
		buildPolicySetCmd("deny", policy.Deny),
		buildPolicySetCmd("prompt", policy.Prompt),
	)
	return cmd
}

func openPolicyStore() (*policy.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	path := cfg.PolicyPath
	if path == "" {
		path = "nexus-policy.yaml"
	}
	store := policy.NewStore(path, slog.Default())
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load policy store: %w", err)
	}
	return store, nil
}

func buildPolicyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the current decision for every known tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPolicyStore()
			if err != nil {
				return err
			}
			all := store.All()
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)
			out := cmd.OutOrStdout()
			for _, name := range names {
				rec := all[name]
				fmt.Fprintf(out, "%-24s %s\n", name, rec.Decision)
			}
			return nil
		},
	}
}

func buildPolicySetCmd(use string, decision policy.Decision) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tool>",
		Short: fmt.Sprintf("Set a tool's policy to %s", decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPolicyStore()
			if err != nil {
				return err
			}
			engine := policy.NewEngine(store, nil)
			if err := engine.SetDecision(args[0], decision); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], decision)
			return nil
		},
	}
}
