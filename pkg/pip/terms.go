package pip

import (
	"fmt"
	"strings"
)

// Monomial is a product of variable powers, stored as one exponent per
// variable.
type Monomial [NVars]uint8

// Degree returns the total degree of the monomial.
func (m Monomial) Degree() int {
	d := 0
	for _, e := range m {
		d += int(e)
	}
	return d
}

// Eval returns the monomial value at x by direct multiplication.
func (m Monomial) Eval(x *Variables) float64 {
	r := 1.0
	for v, e := range m {
		for i := uint8(0); i < e; i++ {
			r *= x[v]
		}
	}
	return r
}

// String renders the monomial as e.g. "x05^2*x17"; the constant is "1".
func (m Monomial) String() string {
	var parts []string
	for v, e := range m {
		switch e {
		case 0:
		case 1:
			parts = append(parts, fmt.Sprintf("x%02d", v))
		default:
			parts = append(parts, fmt.Sprintf("x%02d^%d", v, e))
		}
	}
	if len(parts) == 0 {
		return "1"
	}
	return strings.Join(parts, "*")
}

// Term is one symmetrized basis function: the sum of all monomials in a
// permutation orbit.
type Term struct {
	Index     int        `json:"index"`
	Degree    int        `json:"degree"`
	Monomials []Monomial `json:"monomials"`
}

// String renders the term as a sum of its monomials.
func (t Term) String() string {
	parts := make([]string, len(t.Monomials))
	for i, m := range t.Monomials {
		parts[i] = m.String()
	}
	return strings.Join(parts, " + ")
}

// TermAt returns basis function i, or false when i is out of range.
func TermAt(i int) (Term, bool) {
	if i < 0 || i >= Size {
		return Term{}, false
	}
	orbit := prog.terms[i]
	t := Term{Index: i, Degree: int(orbit[0].n), Monomials: make([]Monomial, len(orbit))}
	for k, tp := range orbit {
		for j := uint8(0); j < tp.n; j++ {
			t.Monomials[k][tp.v[j]]++
		}
	}
	return t, true
}

// Terms returns every basis function in coefficient order.
func Terms() []Term {
	out := make([]Term, Size)
	for i := range out {
		out[i], _ = TermAt(i)
	}
	return out
}

// DegreeCounts returns the number of basis functions of each total degree.
func DegreeCounts() [MaxDegree + 1]int {
	return prog.degrees
}

// MonomialCount returns the number of distinct monomials across all terms.
func MonomialCount() int {
	return numMonomials
}

// Signature is a stable digest of the basis structure and ordering.
// Coefficient sets record it so that a set fitted against a different basis
// is rejected instead of evaluated.
func Signature() string {
	return prog.signature
}

// Pair returns the atoms whose distance feeds variable v, with i < j.
func Pair(v int) (i, j int) {
	pr := prog.pairs[v]
	return int(pr[0]), int(pr[1])
}

// Kind returns the fragment classification of variable v.
func Kind(v int) PairKind {
	return prog.kind(uint8(v))
}

// AtomName returns the label of atom i, e.g. "Ha1".
func AtomName(i int) string {
	return atomNames[i]
}

// VariableNames returns "A-B" labels for all variables in order.
func VariableNames() [NVars]string {
	var out [NVars]string
	for v := range out {
		i, j := Pair(v)
		out[v] = atomNames[i] + "-" + atomNames[j]
	}
	return out
}
