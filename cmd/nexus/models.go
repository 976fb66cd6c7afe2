package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	catalog "github.com/haasonsaas/nexus/internal/models"
)

func buildModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model identity catalog",
	}
	cmd.AddCommand(buildModelsListCmd())
	return cmd
}

func buildModelsListCmd() *cobra.Command {
	var (
		provider          string
		tier              string
		minContextWindow  int
		includeDeprecated bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known models from the process-wide catalog, with optional filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := &catalog.Filter{
				MinContextWindow:  minContextWindow,
				IncludeDeprecated: includeDeprecated,
			}
			if provider != "" {
				filter.Providers = []catalog.Provider{catalog.Provider(strings.ToLower(provider))}
			}
			if tier != "" {
				filter.Tiers = []catalog.Tier{catalog.Tier(strings.ToLower(tier))}
			}

			models := catalog.List(filter)
			sort.Slice(models, func(i, j int) bool {
				if models[i].Provider != models[j].Provider {
					return models[i].Provider < models[j].Provider
				}
				return models[i].ID < models[j].ID
			})

			out := cmd.OutOrStdout()
			for _, m := range models {
				flag := ""
				if m.Deprecated {
					flag = fmt.Sprintf(" [deprecated -> %s]", m.ReplacedBy)
				}
				fmt.Fprintf(out, "%-10s %-32s tier=%-8s context=%-8d%s\n", m.Provider, m.ID, m.Tier, m.ContextWindow, flag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "filter to a single provider (anthropic, openai, google, bedrock)")
	cmd.Flags().StringVar(&tier, "tier", "", "filter to a single quality/cost tier")
	cmd.Flags().IntVar(&minContextWindow, "min-context", 0, "require at least this many tokens of context window")
	cmd.Flags().BoolVar(&includeDeprecated, "include-deprecated", false, "include deprecated models in the listing")
	return cmd
}
