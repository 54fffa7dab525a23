package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/roomline/internal/compiler"
)

// Error codes for validate command failures that are not document errors.
const (
	ErrCodeNotFound = "E_NOT_FOUND"
	ErrCodeInvalid  = "E_INVALID"
)

// FileValidation holds the validation result of one scenario file.
type FileValidation struct {
	Path   string                     `json:"path"`
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>...",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario files against the scenario schema.

Checks YAML syntax, the schema (field names, step kinds, op summaries,
assertion types) and cross-field rules such as required step arguments,
declared sessions and timezones. Directories are searched for *.yaml and
*.yml files.

Exit codes:
  0 - Every file is valid
  1 - At least one file has errors
  2 - A path does not exist`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("path not found: %s", p), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("path not found: %s", p))
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := findScenarioFiles(p, "")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list scenarios", err)
		}
		files = append(files, found...)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		fv := FileValidation{Path: f, Valid: true}

		data, err := os.ReadFile(f)
		if err != nil {
			fv.Errors = []compiler.ValidationError{{Field: "file", Message: err.Error(), Code: ErrCodeInvalid}}
		} else {
			fv.Errors = compiler.ValidateScenario(data, f)
		}
		if len(fv.Errors) > 0 {
			fv.Valid = false
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	var failed *CLIError
	if !result.Valid {
		failed = &CLIError{Code: compiler.ErrSchemaViolation, Message: "scenario validation failed"}
	}

	if formatter.JSON() {
		if err := formatter.Result(result, failed); err != nil {
			return err
		}
	} else {
		outputValidateText(cmd, result)
	}

	if failed != nil {
		return NewExitError(ExitFailure, failed.Message)
	}
	return nil
}

func outputValidateText(cmd *cobra.Command, result ValidationResult) {
	w := cmd.OutOrStdout()
	invalid := 0
	for _, f := range result.Files {
		if f.Valid {
			fmt.Fprintf(w, "ok   %s\n", f.Path)
			continue
		}
		invalid++
		fmt.Fprintf(w, "FAIL %s\n", f.Path)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
	if invalid == 0 {
		fmt.Fprintf(w, "%s valid\n", plural(int64(len(result.Files)), "scenario", "scenarios"))
		return
	}
	fmt.Fprintf(w, "%d of %s invalid\n", invalid, plural(int64(len(result.Files)), "scenario", "scenarios"))
}
