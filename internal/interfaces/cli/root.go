// Package cli implements the mbpip command line: offline evaluation and
// gradient checks against coefficient files, basis introspection,
// coefficient file tooling, database migrations and coverage index
// maintenance.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// Set by -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
}

// CLIContext is attached to the command context by the root pre-run.
type CLIContext struct {
	Logger       logging.Logger
	OutputFormat string
	ConfigPath   string
	Timeout      time.Duration
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mbpip",
		Short: "Evaluate the H2O-H2O-ion 3-body polynomial",
		Long: "mbpip evaluates the permutationally invariant polynomial of the\n" +
			"two-water plus ion 3-body term from coefficient files, checks its\n" +
			"analytic gradient and converts between coefficient file formats.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (migrate only; MBPIP_* variables apply)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	pf.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "global operation timeout")

	cmd.AddCommand(
		NewEvalCmd(),
		NewGradCheckCmd(),
		NewBasisCmd(),
		NewCoeffsCmd(),
		NewMigrateCmd(),
		NewIndexCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch strings.ToLower(opts.OutputFormat) {
	case "text", "json", "table":
	default:
		return errors.InvalidParam("invalid output format").WithDetail(opts.OutputFormat)
	}
	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		ConfigPath:   opts.ConfigPath,
		Timeout:      opts.Timeout,
	}
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	cmd.SetContext(context.WithValue(parent, cliContextKey{}, cliCtx))
	return nil
}

func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := strings.ToLower(opts.LogLevel)
	switch level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		level = logging.LevelWarn
	}
	if opts.Verbose {
		return logging.NewDevelopmentLogger(), nil
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext returns the context installed by the root pre-run.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// operationContext bounds a command by --timeout.
func operationContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cliCtx, err := GetCLIContext(cmd); err == nil && cliCtx.Timeout > 0 {
		return context.WithTimeout(ctx, cliCtx.Timeout)
	}
	return context.WithCancel(ctx)
}

func commandLogger(cmd *cobra.Command) logging.Logger {
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		return cliCtx.Logger
	}
	return logging.NewNopLogger()
}

// Execute runs the root command and prints the error, if any.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data in the selected output format. Values without a
// text or table form fall back to JSON.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "json"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	out := cmd.OutOrStdout()
	switch format {
	case "table":
		if tp, ok := data.(tableProvider); ok {
			_, err := io.WriteString(out, FormatTable(tp.TableHeaders(), tp.TableRows()))
			return err
		}
	case "text":
		switch v := data.(type) {
		case string:
			_, err := fmt.Fprintln(out, v)
			return err
		case fmt.Stringer:
			_, err := fmt.Fprintln(out, v.String())
			return err
		}
	}
	return printJSON(out, data)
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// PrintError reports err on stderr with its error code when it has one.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error [%s]: %s\n", appErr.Code, err.Error())
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders left-aligned columns separated by two spaces.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(headers))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
