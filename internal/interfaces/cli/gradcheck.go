package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// GradCheckOutput wraps the report for text output.
type GradCheckOutput struct {
	*evaluation.GradCheckReport
	Set string `json:"set"`
}

func (o *GradCheckOutput) String() string {
	verdict := "PASS"
	if !o.Passed {
		verdict = "FAIL"
	}
	names := pip.VariableNames()
	worst := fmt.Sprintf("x[%d]", o.WorstVariable)
	if o.WorstVariable >= 0 && o.WorstVariable < len(names) {
		worst = fmt.Sprintf("x[%d] (%s)", o.WorstVariable, names[o.WorstVariable])
	}
	return fmt.Sprintf("%s: %d samples, eps %g, seed %d\nmax abs error %.3e (tolerance %.1e) at sample %d, %s\nmax rel error %.3e",
		verdict, o.Samples, o.Epsilon, o.Seed,
		o.MaxAbsError, o.Tolerance, o.WorstSample, worst,
		o.MaxRelError)
}

func NewGradCheckCmd() *cobra.Command {
	var (
		coeffsPath string
		samples    int
		epsilon    float64
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "gradcheck",
		Short: "Compare the analytic gradient with central differences",
		Long: "Draw random points in variable space and compare the analytic\n" +
			"gradient of the polynomial against central finite differences.\n" +
			"Exits non-zero when the maximum absolute error exceeds the tolerance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := loadFileSet(coeffsPath)
			if err != nil {
				return err
			}
			svc := evaluation.NewService(evaluation.Deps{Sets: src, Logger: commandLogger(cmd)})
			ctx, cancel := operationContext(cmd)
			defer cancel()

			rep, err := svc.GradCheck(ctx, &evaluation.GradCheckRequest{
				SetID:   src.set.ID,
				Samples: samples,
				Epsilon: epsilon,
				Seed:    seed,
			})
			if err != nil {
				return err
			}
			commandLogger(cmd).Debug("Gradient check finished",
				logging.Float64("max_abs_error", rep.MaxAbsError),
				logging.Bool("passed", rep.Passed))
			if err := PrintResult(cmd, &GradCheckOutput{GradCheckReport: rep, Set: src.set.Name}); err != nil {
				return err
			}
			if !rep.Passed {
				return errors.New(errors.ErrCodeValidation, "gradient check failed").
					WithDetail(fmt.Sprintf("max abs error %.3e", rep.MaxAbsError))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&coeffsPath, "coeffs", "", "coefficient file (.yaml or .dat) [REQUIRED]")
	f.IntVar(&samples, "samples", evaluation.DefaultGradCheckSamples, "random sample points")
	f.Float64Var(&epsilon, "epsilon", evaluation.DefaultGradCheckEpsilon, "finite difference step")
	f.Int64Var(&seed, "seed", 1, "random seed")
	_ = cmd.MarkFlagRequired("coeffs")
	return cmd
}
