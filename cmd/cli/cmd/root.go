package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/covparse/pkg/config"
	"github.com/covparse/pkg/telemetry"
	"github.com/covparse/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger utils.Logger

	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "covparse",
	Short: "Decode, merge and report on coverage instrumentation profiles",
	Long: `covparse is a CLI tool for working with LLVM-style coverage
instrumentation data.

It decodes raw, indexed and text counter profiles, merges profiles from
multiple runs, extracts coverage mappings from instrumented binaries,
and builds per-file line, branch and function coverage reports.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger = buildLogger()
		utils.SetGlobalLogger(logger)

		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}

		if cfg.Telemetry.Enabled {
			shutdown, err := telemetry.InitWithConfig(cmd.Context(), telemetryConfig())
			if err != nil {
				return err
			}
			telemetryShutdown = shutdown
			logger.Debug("telemetry initialized: endpoint=%s", cfg.Telemetry.Endpoint)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown != nil {
			return telemetryShutdown(context.Background())
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Set dynamic example using actual binary name
	binName := BinName()
	rootCmd.Example = `  # Show the contents of a raw profile
  ` + binName + ` show default.profraw

  # Merge profiles from several runs into one text profile
  ` + binName + ` merge -o merged.proftext run1.profraw run2.profraw

  # Build a coverage report from a binary and its profiles
  ` + binName + ` report -b ./app default.profraw -o coverage.json

  # List stored coverage runs
  ` + binName + ` runs list`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// buildLogger picks the log sink. Verbose runs log to stdout so the
// output is visible next to the command's results; otherwise
// diagnostics go to the configured log directory.
func buildLogger() utils.Logger {
	logLevel := utils.ParseLogLevel(cfg.Log.Level)
	if verbose {
		return utils.NewDefaultLogger(utils.LevelDebug, os.Stdout)
	}
	if cfg.Log.OutputPath != "" {
		fileLogger, err := utils.NewFileLogger(logLevel, filepath.Join(cfg.Log.OutputPath, "covparse.log"))
		if err == nil {
			return fileLogger
		}
	}
	return utils.NewDefaultLogger(logLevel, os.Stdout)
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// telemetryConfig maps the file configuration onto the telemetry
// package's environment-style config.
func telemetryConfig() *telemetry.Config {
	tcfg := telemetry.LoadFromEnv()
	tcfg.Enabled = true
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = Version
	tcfg.Endpoint = cfg.Telemetry.Endpoint

	if cfg.Telemetry.Protocol == "http" {
		tcfg.Protocol = "http/protobuf"
	} else {
		tcfg.Protocol = cfg.Telemetry.Protocol
	}

	if cfg.Telemetry.SampleRate > 0 && cfg.Telemetry.SampleRate < 1 {
		tcfg.Sampler = "parentbased_traceidratio"
		tcfg.SamplerArg = strconv.FormatFloat(cfg.Telemetry.SampleRate, 'f', -1, 64)
	}
	return tcfg
}
