package replay

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/camwatch/camwatch-go/internal/analysis"
	"github.com/camwatch/camwatch-go/internal/conf"
)

// Command creates the replay command for feeding a recorded detection log
// through the correlation engine.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [detections.jsonl]",
		Short: "Replay a recorded detection log",
		Long:  "Feed a JSON Lines detection log through the correlation engine with the configured sinks attached.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.Input.Path = args[0]
			return analysis.Replay(settings)
		},
	}

	// Set up flags specific to the 'replay' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the replay command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().Float64Var(&settings.Input.Speed, "speed", 1.0, "Replay speed multiplier, 0 replays as fast as possible")
	cmd.Flags().BoolVar(&settings.Input.CloseDay, "closeday", false, "Roll attendance over for the last replayed date on exit")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
