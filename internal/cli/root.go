package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/config"
	"github.com/roach88/roomline/internal/logging"
)

// Build information, replaced by Execute.
var (
	version = "dev"
	commit  = "unknown"
)

// Execute runs the roomline CLI with the given build information.
func Execute(buildVersion, buildCommit string) error {
	version, commit = buildVersion, buildCommit
	return NewRootCommand().Execute()
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	EnvFile    string

	// Config is loaded before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the roomline CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "roomline",
		Short: "roomline - room timeline reconciliation",
		Long: `roomline reconciles room events, local echoes, edits, reactions,
redactions and decryption results into an ordered timeline and publishes
every change as a diff.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return loadConfig(opts, cmd)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default searches ./roomline.yaml and ~/.config/roomline)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file read before ROOMLINE_* overrides (empty disables)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewDriveCommand(opts))

	return cmd
}

// loadConfig loads the configuration and initializes logging from it.
// Diagnostics go to the command's error stream so JSON output stays clean.
func loadConfig(opts *RootOptions, cmd *cobra.Command) error {
	loader := config.NewLoader()
	loader.SetConfigFile(opts.ConfigFile)
	loader.SetEnvFile(opts.EnvFile)

	cfg, err := loader.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.Config = cfg

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logging.Init(logging.Config{
		Level:        level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	})
	if used := loader.ConfigFileUsed(); used != "" {
		logging.Component("cli").Debug().Str("path", used).Msg("config loaded")
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
