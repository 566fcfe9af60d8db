package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// BasisSummary is the text and table view of evaluation.BasisInfo.
type BasisSummary struct {
	evaluation.BasisInfo
}

func (b *BasisSummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "variables:  %d\n", b.NVars)
	fmt.Fprintf(&sb, "terms:      %d (max degree %d)\n", b.Size, b.MaxDegree)
	fmt.Fprintf(&sb, "monomials:  %d\n", b.Monomials)
	for d, n := range b.DegreeCounts {
		fmt.Fprintf(&sb, "  degree %d: %d\n", d, n)
	}
	fmt.Fprintf(&sb, "signature:  %s", b.Signature)
	return sb.String()
}

func (b *BasisSummary) TableHeaders() []string { return []string{"DEGREE", "TERMS"} }

func (b *BasisSummary) TableRows() [][]string {
	rows := make([][]string, len(b.DegreeCounts))
	for d, n := range b.DegreeCounts {
		rows[d] = []string{strconv.Itoa(d), strconv.Itoa(n)}
	}
	return rows
}

// VariableList is the table of pair variables.
type VariableList []evaluation.VariableInfo

func (v VariableList) TableHeaders() []string { return []string{"INDEX", "PAIR", "KIND"} }

func (v VariableList) TableRows() [][]string {
	rows := make([][]string, len(v))
	for i, x := range v {
		rows[i] = []string{strconv.Itoa(x.Index), x.Name, x.Kind}
	}
	return rows
}

func (v VariableList) String() string {
	return strings.TrimRight(FormatTable(v.TableHeaders(), v.TableRows()), "\n")
}

// TermList is a listing of basis functions.
type TermList []pip.Term

func (t TermList) TableHeaders() []string { return []string{"INDEX", "DEGREE", "MONOMIALS"} }

func (t TermList) TableRows() [][]string {
	rows := make([][]string, len(t))
	for i, x := range t {
		rows[i] = []string{strconv.Itoa(x.Index), strconv.Itoa(x.Degree), strconv.Itoa(len(x.Monomials))}
	}
	return rows
}

func (t TermList) String() string {
	return strings.TrimRight(FormatTable(t.TableHeaders(), t.TableRows()), "\n")
}

func NewBasisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basis",
		Short: "Describe the polynomial basis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, &BasisSummary{BasisInfo: evaluation.DescribeBasis()})
		},
	}
	cmd.AddCommand(newBasisTermCmd(), newBasisTermsCmd(), newBasisVariablesCmd())
	return cmd
}

func newBasisTermCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "term <index>",
		Short: "Show one basis function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.InvalidParam("term index must be an integer").WithDetail(args[0])
			}
			t, ok := pip.TermAt(i)
			if !ok {
				return errors.NotFound("term index out of range").
					WithDetail(fmt.Sprintf("%d not in [0, %d)", i, pip.Size))
			}
			return PrintResult(cmd, t)
		},
	}
}

func newBasisTermsCmd() *cobra.Command {
	degree := -1
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "List basis functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if degree > pip.MaxDegree {
				return errors.InvalidParam("degree out of range").
					WithDetail(fmt.Sprintf("%d > %d", degree, pip.MaxDegree))
			}
			var out TermList
			for _, t := range pip.Terms() {
				if degree < 0 || t.Degree == degree {
					out = append(out, t)
				}
			}
			return PrintResult(cmd, out)
		},
	}
	cmd.Flags().IntVar(&degree, "degree", -1, "only terms of this degree")
	return cmd
}

func newBasisVariablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variables",
		Short: "List the pair variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, VariableList(evaluation.DescribeBasis().Variables))
		},
	}
}
