// Package pip evaluates the 3-body permutationally invariant polynomial for
// the H2O + H2O + ion cluster.
//
// The polynomial is a linear form over a fixed basis of 924 symmetrized
// monomials in 21 variables, one per atom pair. Coefficients are fitted
// offline and supplied by the caller. Evaluation never allocates, never
// fails, and keeps no state between calls, so the functions are safe for
// concurrent use with shared read-only inputs.
package pip

const (
	// NVars is the number of input variables.
	NVars = 21
	// Size is the number of basis functions and coefficients.
	Size = 924
)

// Variables holds the transformed pair distances in pair order, see Pair.
type Variables = [NVars]float64

// Coefficients holds one weight per basis function, term 0 being the
// constant.
type Coefficients = [Size]float64

// Evaluate returns the polynomial value Σ a[t]·basis_t(x).
//
// Inputs are not validated; NaN and Inf propagate through the arithmetic.
func Evaluate(a *Coefficients, x *Variables) float64 {
	var m [numNodes]float64
	forward(&m, x)
	return contract(a, &m)
}

// EvaluateWithGradient returns the polynomial value together with its
// partial derivatives with respect to each variable. The value is
// bit-identical to Evaluate on the same inputs.
func EvaluateWithGradient(a *Coefficients, x *Variables) (float64, Variables) {
	var m [numNodes]float64
	forward(&m, x)
	e := contract(a, &m)

	p := prog
	var adj [numNodes]float64
	for t := 0; t < Size; t++ {
		for _, k := range p.termNodes[p.termStart[t]:p.termStart[t+1]] {
			adj[k] = a[t]
		}
	}

	var g Variables
	for i := numNodes - 1; i > 0; i-- {
		v, q := p.vars[i], p.parent[i]
		g[v] += adj[i] * m[q]
		adj[q] += adj[i] * x[v]
	}
	return e, g
}

// BasisValues writes the value of every basis function at x into out, so
// that Evaluate(a, x) equals Σ a[t]·out[t] up to rounding. It is the row of
// the design matrix used when fitting coefficients.
func BasisValues(x *Variables, out *Coefficients) {
	var m [numNodes]float64
	forward(&m, x)

	p := prog
	for t := 0; t < Size; t++ {
		var s float64
		for _, k := range p.termNodes[p.termStart[t]:p.termStart[t+1]] {
			s += m[k]
		}
		out[t] = s
	}
}

func forward(m *[numNodes]float64, x *Variables) {
	p := prog
	m[0] = 1
	for i := 1; i < numNodes; i++ {
		m[i] = m[p.parent[i]] * x[p.vars[i]]
	}
}

func contract(a *Coefficients, m *[numNodes]float64) float64 {
	p := prog
	var e float64
	for t := 0; t < Size; t++ {
		var s float64
		for _, k := range p.termNodes[p.termStart[t]:p.termStart[t+1]] {
			s += m[k]
		}
		e += a[t] * s
	}
	return e
}
