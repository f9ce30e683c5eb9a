package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aktagon/image-harvester/internal/logging"
)

var (
	settingsPath string
	apiKey       string
	outputDir    string
	engine       string
	logFormat    string
	metricsFile  string
	debugMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "image-harvester",
	Short: "Harvest and name the images of a web page",
	Long: `Downloads every image a page shows, including lazy-loaded ones, and names
them by what they depict using an AI classifier with rule-based fallback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Harvest images from a page",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}

		target := settings.Target.BaseURL
		if len(args) > 0 {
			target = args[0]
		}
		if target == "" {
			return errors.New("URL required: pass it as an argument or set target.base_url")
		}

		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}

		var opts []ProcessorOption
		var metrics *Metrics
		if metricsFile != "" {
			metrics = NewMetrics()
			opts = append(opts, WithMetrics(metrics))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, runErr := NewProcessor(settings, apiKey, opts...).Run(ctx, target)
		PrintSummary(cmd.OutOrStdout(), summary)

		if metrics != nil {
			if err := metrics.WriteFile(metricsFile); err != nil {
				logging.New("main").Error("writing metrics", "path", metricsFile, "error", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("run failed: %w", runErr)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the network location the oracle would see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := ProbeNetwork(ctx, settings, nil)
		if err != nil {
			return err
		}
		PrintProbe(cmd.OutOrStdout(), report)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health [url]",
	Short: "Check browser, conversion engines and network reachability",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := setup()
		if err != nil {
			return err
		}
		target := settings.Target.BaseURL
		if len(args) > 0 {
			target = args[0]
		}

		report, err := NewHealthChecker(settings, nil).Check(cmd.Context(), target)
		if err != nil {
			return err
		}
		PrintHealth(cmd.OutOrStdout(), report)
		if report.Overall == Failing {
			return errors.New("health check failed")
		}
		return nil
	},
}

// setup loads settings and initializes logging for every subcommand.
func setup() (*Settings, error) {
	overrides := &ConfigOverrides{Debug: debugMode}
	if settingsPath != "" {
		overrides.SettingsPath = &settingsPath
	}
	if outputDir != "" {
		overrides.OutputDir = &outputDir
	}
	if engine != "" {
		overrides.Engine = &engine
	}
	if logFormat != "" {
		overrides.LogFormat = &logFormat
	}

	settings, err := LoadConfig(overrides)
	if err != nil {
		return nil, err
	}
	logging.Init(settings.LogLevel(), settings.Logging.Format)
	return settings, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to settings file (default .image-harvester/settings.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	runCmd.Flags().StringVar(&apiKey, "api-key", "", "Anthropic API key (default $ANTHROPIC_API_KEY)")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for images")
	runCmd.Flags().StringVar(&engine, "engine", "", "Acquisition engine: auto, rendered or direct")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")

	rootCmd.AddCommand(runCmd, probeCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
