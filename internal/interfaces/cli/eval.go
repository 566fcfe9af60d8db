package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// fileSet serves one coefficient file to the evaluation service under a
// generated ID.
type fileSet struct {
	set *coefficient.Set
}

func loadFileSet(path string) (*fileSet, error) {
	set, err := coeffs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set.ID = common.NewID()
	set.Checksum = coefficient.Checksum(&set.Coefficients)
	return &fileSet{set: set}, nil
}

func (f *fileSet) Get(_ context.Context, id common.ID) (*coefficient.Set, error) {
	if id != f.set.ID {
		return nil, errors.New(errors.ErrCodeCoeffSetNotFound, "coefficient set not found")
	}
	return f.set, nil
}

type evalOptions struct {
	coeffsPath    string
	variables     string
	variablesFile string
	fragmentFile  string
	gradient      bool
	concurrency   int
}

// EvalOutput lists the results of one eval invocation in input order.
type EvalOutput struct {
	Set     string               `json:"set"`
	Results []*evaluation.Result `json:"results"`
}

func (o *EvalOutput) String() string {
	var sb strings.Builder
	for i, r := range o.Results {
		fmt.Fprintf(&sb, "%d\tE = %.12g", i, r.Energy)
		if r.Switch != nil {
			fmt.Fprintf(&sb, "\tpoly = %.12g\tswitch = %.6g", r.Polynomial, *r.Switch)
		}
		sb.WriteString("\n")
		if len(r.Gradient) > 0 {
			fmt.Fprintf(&sb, "\tdE/dx = %s\n", joinFloats(r.Gradient))
		}
		for a, g := range r.CartesianGradient {
			fmt.Fprintf(&sb, "\tdE/dr[%d] = %.10g %.10g %.10g\n", a, g[0], g[1], g[2])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (o *EvalOutput) TableHeaders() []string {
	return []string{"#", "ENERGY", "POLYNOMIAL", "SWITCH"}
}

func (o *EvalOutput) TableRows() [][]string {
	rows := make([][]string, len(o.Results))
	for i, r := range o.Results {
		poly, sw := "-", "-"
		if r.Switch != nil {
			poly = strconv.FormatFloat(r.Polynomial, 'g', 12, 64)
			sw = strconv.FormatFloat(*r.Switch, 'g', 6, 64)
		}
		rows[i] = []string{strconv.Itoa(i), strconv.FormatFloat(r.Energy, 'g', 12, 64), poly, sw}
	}
	return rows
}

// NewEvalCmd evaluates one or more configurations against a coefficient
// file.
func NewEvalCmd() *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate configurations against a coefficient file",
		Long: "Evaluate the 3-body energy of configurations given either as the\n" +
			"21 polynomial variables or as two waters and an ion in Angstrom.\n\n" +
			"--variables takes one comma separated configuration. --variables-file\n" +
			"takes one configuration per line. --fragment takes 'Sym x y z' atom\n" +
			"lines, configurations separated by blank lines.",
		Example: "  mbpip eval --coeffs na.yaml --fragment cluster.xyz --gradient\n" +
			"  mbpip eval --coeffs na.dat --variables-file points.txt -o table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.coeffsPath, "coeffs", "", "coefficient file (.yaml or .dat) [REQUIRED]")
	f.StringVar(&opts.variables, "variables", "", "21 comma separated variables")
	f.StringVar(&opts.variablesFile, "variables-file", "", "file with one configuration of 21 variables per line")
	f.StringVar(&opts.fragmentFile, "fragment", "", "file with Cartesian configurations ('-' reads stdin)")
	f.BoolVar(&opts.gradient, "gradient", false, "also compute the gradient")
	f.IntVar(&opts.concurrency, "concurrency", 4, "evaluation workers")
	_ = cmd.MarkFlagRequired("coeffs")
	cmd.MarkFlagsMutuallyExclusive("variables", "variables-file", "fragment")
	return cmd
}

func runEval(cmd *cobra.Command, opts *evalOptions) error {
	logger := commandLogger(cmd)
	src, err := loadFileSet(opts.coeffsPath)
	if err != nil {
		return err
	}
	logger.Debug("Coefficient file loaded",
		logging.String("path", opts.coeffsPath),
		logging.String("name", src.set.Name),
		logging.String("checksum", src.set.Checksum))

	reqs, err := evalRequests(cmd.InOrStdin(), opts, src.set.ID)
	if err != nil {
		return err
	}

	svc := evaluation.NewService(evaluation.Deps{
		Sets:    src,
		Options: evaluation.Options{Concurrency: opts.concurrency, MaxBatchSize: len(reqs)},
		Logger:  logger,
	})
	ctx, cancel := operationContext(cmd)
	defer cancel()

	results, err := svc.EvaluateBatch(ctx, reqs)
	if err != nil {
		return err
	}
	return PrintResult(cmd, &EvalOutput{Set: src.set.Name, Results: results})
}

func evalRequests(stdin io.Reader, opts *evalOptions, setID common.ID) ([]*evaluation.Request, error) {
	var reqs []*evaluation.Request
	switch {
	case opts.variables != "":
		x, err := parseVariables(opts.variables)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, &evaluation.Request{Variables: x})
	case opts.variablesFile != "":
		data, err := readInput(stdin, opts.variablesFile)
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			x, err := parseVariables(text)
			if err != nil {
				return nil, errors.Wrap(err, errors.GetCode(err), fmt.Sprintf("line %d", line))
			}
			reqs = append(reqs, &evaluation.Request{Variables: x})
		}
		if err := sc.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read variables file")
		}
	case opts.fragmentFile != "":
		data, err := readInput(stdin, opts.fragmentFile)
		if err != nil {
			return nil, err
		}
		for _, block := range splitBlocks(string(data)) {
			reqs = append(reqs, &evaluation.Request{Fragment: block})
		}
	default:
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "one of --variables, --variables-file or --fragment is required")
	}
	if len(reqs) == 0 {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "no configurations in input")
	}
	for _, r := range reqs {
		r.SetID = setID
		r.Gradient = opts.gradient
	}
	return reqs, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read input").WithDetail(path)
	}
	return data, nil
}

// parseVariables accepts comma and/or whitespace separated numbers.
func parseVariables(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != pip.NVars {
		return nil, errors.New(errors.ErrCodeVariableCountMismatch, "wrong number of variables").
			WithDetail(fmt.Sprintf("got %d, want %d", len(fields), pip.NVars))
	}
	x := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid variable").
				WithDetail(fmt.Sprintf("index %d: %q", i, f))
		}
		x[i] = v
	}
	return x, nil
}

// splitBlocks splits on blank lines and drops "#" comments.
func splitBlocks(s string) []string {
	var (
		blocks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			blocks = append(blocks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		switch {
		case t == "":
			flush()
		case strings.HasPrefix(t, "#"):
		default:
			cur.WriteString(t)
			cur.WriteByte('\n')
		}
	}
	flush()
	return blocks
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 10, 64)
	}
	return strings.Join(parts, " ")
}
