package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/config"
	"github.com/animus-labs/attribution-runner/internal/platform/env"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Output     string // "text" | "json"
}

// ConfigEnv supplies the default for --config.
const ConfigEnv = "ATTRIBUTION_CONFIG"

// ValidOutputs defines the allowed command output formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the attribution-runner command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "attribution-runner",
		Short:         "Run private attribution computations",
		Long:          "Resolves a dataset window to a computation instance and drives it through its stage flow.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidOutput(opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", env.NonEmpty(ConfigEnv, ""), "path to a YAML config file (env "+ConfigEnv+")")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format override (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "command output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateInputCommand(opts))
	cmd.AddCommand(NewDatasetInfoCommand(opts))
	cmd.AddCommand(NewFlowsCommand(opts))
	cmd.AddCommand(NewAttemptsCommand(opts))

	return cmd
}

// load reads the config and applies the logging flag overrides.
func (o *RootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, usageError("load config", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if err := cfg.Log.Validate(); err != nil {
		return config.Config{}, usageError("invalid log flags", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. Logs go to w so command output on
// stdout stays machine-readable.
func NewLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isValidOutput(output string) bool {
	for _, f := range ValidOutputs {
		if f == output {
			return true
		}
	}
	return false
}
