// Package potential assembles the switched 3-body energy of an
// H2O + H2O + ion cluster from the polynomial core and the geometry
// transform.
package potential

import (
	"fmt"
	"math"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// Switch smoothly turns the 3-body term off between Inner and Outer.
type Switch struct {
	Inner float64 `json:"inner" yaml:"inner" mapstructure:"inner"`
	Outer float64 `json:"outer" yaml:"outer" mapstructure:"outer"`
}

// DefaultSwitch returns the cutoffs applied when a coefficient set does not
// carry its own, in Angstrom.
func DefaultSwitch() Switch {
	return Switch{Inner: 0.0, Outer: 5.0}
}

// Validate requires 0 <= Inner < Outer.
func (s Switch) Validate() error {
	if !(s.Inner >= 0) || !(s.Outer > s.Inner) || math.IsInf(s.Outer, 0) {
		return errors.New(errors.ErrCodeCoeffParamsInvalid, "switch needs 0 <= inner < outer").
			WithDetail(fmt.Sprintf("inner=%g outer=%g", s.Inner, s.Outer))
	}
	return nil
}

// Eval returns f(r) and df/dr, with f = 1 below Inner, 0 above Outer and
// ½(1 + cos πt) in between, t = (r − Inner)/(Outer − Inner).
func (s Switch) Eval(r float64) (f, df float64) {
	switch {
	case r <= s.Inner:
		return 1, 0
	case r >= s.Outer:
		return 0, 0
	}
	w := s.Outer - s.Inner
	t := (r - s.Inner) / w
	f = 0.5 * (1 + math.Cos(math.Pi*t))
	df = -0.5 * math.Pi * math.Sin(math.Pi*t) / w
	return f, df
}

// switchedPairs are the fragment separations that gate the 3-body term.
var switchedPairs = [3][2]int{
	{pip.AtomOa, pip.AtomOb},
	{pip.AtomOa, pip.AtomX},
	{pip.AtomOb, pip.AtomX},
}

// ThreeBody is a fitted 3-body term. Coeffs is shared read-only.
type ThreeBody struct {
	Params geometry.Params
	Switch Switch
	Coeffs *pip.Coefficients
}

// Result is the outcome of one geometric evaluation.
type Result struct {
	Energy     float64
	Polynomial float64
	Switch     float64
	Variables  pip.Variables
	// VariableGradient is dP/dx, populated only by EnergyAndGradient.
	VariableGradient pip.Variables
	Gradient         geometry.Gradient
}

// switchValue returns s = Π f(r_k) and the per-pair factors needed for its
// derivative.
func (tb *ThreeBody) switchValue(c *geometry.Cluster) (s float64, f, df, r [3]float64) {
	s = 1
	for k, pr := range switchedPairs {
		r[k] = c[pr[0]].Sub(c[pr[1]]).Norm()
		f[k], df[k] = tb.Switch.Eval(r[k])
		s *= f[k]
	}
	return s, f, df, r
}

// Energy returns the switched 3-body energy of c. The polynomial is skipped
// when the cluster lies beyond the switch.
func (tb *ThreeBody) Energy(c *geometry.Cluster) Result {
	s, _, _, _ := tb.switchValue(c)
	x, _ := geometry.Transform(c, &tb.Params)
	res := Result{Switch: s, Variables: x}
	if s == 0 {
		return res
	}
	res.Polynomial = pip.Evaluate(tb.Coeffs, &x)
	res.Energy = s * res.Polynomial
	return res
}

// EnergyAndGradient returns the switched energy with its Cartesian gradient.
func (tb *ThreeBody) EnergyAndGradient(c *geometry.Cluster) Result {
	s, f, df, rs := tb.switchValue(c)
	x, r := geometry.Transform(c, &tb.Params)
	res := Result{Switch: s, Variables: x}
	if s == 0 {
		return res
	}

	p, gx := pip.EvaluateWithGradient(tb.Coeffs, &x)
	res.Polynomial = p
	res.VariableGradient = gx
	res.Energy = s * p

	for v := range gx {
		gx[v] *= s
	}
	res.Gradient = geometry.Backpropagate(c, &tb.Params, &x, &r, &gx)

	for k, pr := range switchedPairs {
		if df[k] == 0 {
			continue
		}
		ds := df[k]
		for m := range f {
			if m != k {
				ds *= f[m]
			}
		}
		geometry.AddAtomPairGradient(&res.Gradient, c, pr[0], pr[1], p*ds, rs[k])
	}
	return res
}
