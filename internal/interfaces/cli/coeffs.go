package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// CoeffReport summarizes one validated coefficient file.
type CoeffReport struct {
	Path      string  `json:"path"`
	Name      string  `json:"name"`
	Ion       string  `json:"ion,omitempty"`
	Format    string  `json:"format"`
	Checksum  string  `json:"checksum"`
	NonZero   int     `json:"non_zero"`
	MaxAbs    float64 `json:"max_abs"`
	SwitchIn  float64 `json:"switch_inner"`
	SwitchOut float64 `json:"switch_outer"`
}

func newCoeffReport(path string, s *coefficient.Set) CoeffReport {
	r := CoeffReport{
		Path:      path,
		Name:      s.Name,
		Ion:       s.Ion,
		Format:    string(coeffs.FormatFromPath(path)),
		Checksum:  coefficient.Checksum(&s.Coefficients),
		SwitchIn:  s.Switch.Inner,
		SwitchOut: s.Switch.Outer,
	}
	for _, a := range s.Coefficients {
		if a != 0 {
			r.NonZero++
		}
		r.MaxAbs = math.Max(r.MaxAbs, math.Abs(a))
	}
	return r
}

// CoeffReports is the output of coeffs validate.
type CoeffReports []CoeffReport

func (r CoeffReports) TableHeaders() []string {
	return []string{"PATH", "NAME", "ION", "NONZERO", "MAX|A|", "CHECKSUM"}
}

func (r CoeffReports) TableRows() [][]string {
	rows := make([][]string, len(r))
	for i, x := range r {
		rows[i] = []string{x.Path, x.Name, x.Ion, strconv.Itoa(x.NonZero),
			strconv.FormatFloat(x.MaxAbs, 'g', 6, 64), x.Checksum[:12]}
	}
	return rows
}

func (r CoeffReports) String() string {
	var sb strings.Builder
	for _, x := range r {
		fmt.Fprintf(&sb, "OK %s: %s (ion %s), %d non-zero, max |a| %.6g, switch [%g, %g], sha256 %s\n",
			x.Path, x.Name, x.Ion, x.NonZero, x.MaxAbs, x.SwitchIn, x.SwitchOut, x.Checksum)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func NewCoeffsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coeffs",
		Short: "Coefficient file tools",
	}
	cmd.AddCommand(newCoeffsValidateCmd(), newCoeffsTemplateCmd(), newCoeffsConvertCmd())
	return cmd
}

func newCoeffsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check coefficient files against the compiled basis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := commandLogger(cmd)
			reports := make(CoeffReports, 0, len(args))
			var failed int
			for _, path := range args {
				s, err := coeffs.ReadFile(path)
				if err != nil {
					failed++
					logger.Error("Invalid coefficient file", logging.String("path", path), logging.Err(err))
					PrintError(cmd, fmt.Errorf("%s: %w", path, err))
					continue
				}
				reports = append(reports, newCoeffReport(path, s))
			}
			if len(reports) > 0 {
				if err := PrintResult(cmd, reports); err != nil {
					return err
				}
			}
			if failed > 0 {
				return errors.New(errors.ErrCodeValidation, "coefficient validation failed").
					WithDetail(fmt.Sprintf("%d of %d files invalid", failed, len(args)))
			}
			return nil
		},
	}
}

func newCoeffsTemplateCmd() *cobra.Command {
	var name, ion, format, output string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write an all-zero coefficient file with default parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := coeffs.FormatYAML
			switch {
			case format != "":
				var err error
				if f, err = coeffs.ParseFormat(format); err != nil {
					return err
				}
			case output != "":
				f = coeffs.FormatFromPath(output)
			}
			s := coeffs.Zero(name, ion)
			if output == "" {
				return coeffs.Write(cmd.OutOrStdout(), s, f)
			}
			if err := coeffs.WriteFile(output, s, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", coeffs.DefaultName, "set name")
	cmd.Flags().StringVar(&ion, "ion", "", "ion symbol, e.g. Na")
	cmd.Flags().StringVar(&format, "format", "", "yaml or dat (default: from --out, else yaml)")
	cmd.Flags().StringVar(&output, "out", "", "output file (default stdout)")
	return cmd
}

func newCoeffsConvertCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert between the yaml and dat formats",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := coeffs.ReadFile(args[0])
			if err != nil {
				return err
			}
			f := coeffs.FormatFromPath(args[1])
			if format != "" {
				if f, err = coeffs.ParseFormat(format); err != nil {
					return err
				}
			}
			if err := coeffs.WriteFile(args[1], s, f); err != nil {
				return err
			}
			commandLogger(cmd).Info("Coefficient file converted",
				logging.String("from", args[0]),
				logging.String("to", args[1]),
				logging.String("format", string(f)))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "output format (default: from the output extension)")
	return cmd
}
