package simulate

import (
	"github.com/spf13/cobra"

	"github.com/camwatch/camwatch-go/internal/analysis"
	"github.com/camwatch/camwatch-go/internal/conf"
)

// Command creates the simulate command running built-in synthetic scenarios
// against a self-contained engine.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:       "simulate [scenario]",
		Short:     "Run built-in synthetic detection scenarios",
		Long:      "Drive the correlation engine with synthetic detection streams for smoke verification. Runs every scenario when none is named.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: analysis.Scenarios(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				settings.Input.Scenario = args[0]
			}
			return analysis.Simulate(settings)
		},
	}
}
