package geometry

import (
	"fmt"
	"math"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// PairClass groups variables that share nonlinear parameters. Classes are
// closed under the cluster symmetry, so any parameter choice keeps the
// transform permutationally invariant.
type PairClass int

const (
	ClassOHIntra PairClass = iota
	ClassHHIntra
	ClassOO
	ClassOHInter
	ClassHHInter
	ClassOX
	ClassHX

	NumClasses
)

var classNames = [NumClasses]string{"oh_intra", "hh_intra", "oo", "oh_inter", "hh_inter", "ox", "hx"}

func (c PairClass) String() string {
	if c < 0 || c >= NumClasses {
		return fmt.Sprintf("PairClass(%d)", int(c))
	}
	return classNames[c]
}

var variableClasses = func() [pip.NVars]PairClass {
	var out [pip.NVars]PairClass
	isO := func(a int) bool { return a == pip.AtomOa || a == pip.AtomOb }
	for v := range out {
		i, j := pip.Pair(v)
		switch pip.Kind(v) {
		case pip.KindIntra:
			if isO(i) || isO(j) {
				out[v] = ClassOHIntra
			} else {
				out[v] = ClassHHIntra
			}
		case pip.KindWaterWater:
			switch {
			case isO(i) && isO(j):
				out[v] = ClassOO
			case isO(i) || isO(j):
				out[v] = ClassOHInter
			default:
				out[v] = ClassHHInter
			}
		case pip.KindIon:
			if isO(i) {
				out[v] = ClassOX
			} else {
				out[v] = ClassHX
			}
		}
	}
	return out
}()

// ParsePairClass resolves a class by its String form, e.g. "oh_intra".
func ParsePairClass(name string) (PairClass, bool) {
	for c, n := range classNames {
		if n == name {
			return PairClass(c), true
		}
	}
	return 0, false
}

// ClassOf returns the parameter class of variable v.
func ClassOf(v int) PairClass {
	return variableClasses[v]
}

// Morse holds the parameters of x = exp(-K·(r − D0)).
type Morse struct {
	K  float64 `json:"k" yaml:"k" mapstructure:"k"`
	D0 float64 `json:"d0" yaml:"d0" mapstructure:"d0"`
}

// Params holds one Morse pair per class.
type Params struct {
	OHIntra Morse `json:"oh_intra" yaml:"oh_intra" mapstructure:"oh_intra"`
	HHIntra Morse `json:"hh_intra" yaml:"hh_intra" mapstructure:"hh_intra"`
	OO      Morse `json:"oo" yaml:"oo" mapstructure:"oo"`
	OHInter Morse `json:"oh_inter" yaml:"oh_inter" mapstructure:"oh_inter"`
	HHInter Morse `json:"hh_inter" yaml:"hh_inter" mapstructure:"hh_inter"`
	OX      Morse `json:"ox" yaml:"ox" mapstructure:"ox"`
	HX      Morse `json:"hx" yaml:"hx" mapstructure:"hx"`
}

// DefaultParams returns generic parameters near the equilibrium distances
// of a hydrated monovalent ion. Fitted sets ship their own values.
func DefaultParams() Params {
	return Params{
		OHIntra: Morse{K: 1.0, D0: 0.9572},
		HHIntra: Morse{K: 1.0, D0: 1.5139},
		OO:      Morse{K: 0.8, D0: 2.80},
		OHInter: Morse{K: 0.8, D0: 2.90},
		HHInter: Morse{K: 0.8, D0: 3.00},
		OX:      Morse{K: 0.7, D0: 2.40},
		HX:      Morse{K: 0.7, D0: 3.00},
	}
}

// For returns the parameters of class c.
func (p *Params) For(c PairClass) Morse {
	return *p.slot(c)
}

// Set replaces the parameters of class c.
func (p *Params) Set(c PairClass, m Morse) {
	*p.slot(c) = m
}

func (p *Params) slot(c PairClass) *Morse {
	switch c {
	case ClassOHIntra:
		return &p.OHIntra
	case ClassHHIntra:
		return &p.HHIntra
	case ClassOO:
		return &p.OO
	case ClassOHInter:
		return &p.OHInter
	case ClassHHInter:
		return &p.HHInter
	case ClassOX:
		return &p.OX
	default:
		return &p.HX
	}
}

// Validate requires positive finite decay constants and finite offsets.
func (p Params) Validate() error {
	for c := PairClass(0); c < NumClasses; c++ {
		m := p.For(c)
		if !(m.K > 0) || math.IsInf(m.K, 0) {
			return errors.New(errors.ErrCodeCoeffParamsInvalid, "decay constant must be positive and finite").
				WithDetail(fmt.Sprintf("%s.k = %g", c, m.K))
		}
		if math.IsNaN(m.D0) || math.IsInf(m.D0, 0) {
			return errors.New(errors.ErrCodeCoeffParamsInvalid, "offset must be finite").
				WithDetail(fmt.Sprintf("%s.d0 = %g", c, m.D0))
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Transform and Jacobian
// ─────────────────────────────────────────────────────────────────────────────

// Gradient holds one Cartesian derivative vector per atom.
type Gradient [pip.NAtoms]Vec3

// Distances returns the 21 pair distances in variable order.
func Distances(c *Cluster) [pip.NVars]float64 {
	var r [pip.NVars]float64
	for v := range r {
		i, j := pip.Pair(v)
		r[v] = c[i].Sub(c[j]).Norm()
	}
	return r
}

// Transform returns the polynomial variables of c together with the pair
// distances they were computed from.
func Transform(c *Cluster, p *Params) (pip.Variables, [pip.NVars]float64) {
	r := Distances(c)
	var x pip.Variables
	for v := range x {
		m := p.For(variableClasses[v])
		x[v] = math.Exp(-m.K * (r[v] - m.D0))
	}
	return x, r
}

// Backpropagate maps the variable-space gradient gx onto atomic positions
// using dx/dr = −K·x and dr/dRi = (Ri − Rj)/r. x and r must come from
// Transform on the same cluster.
func Backpropagate(c *Cluster, p *Params, x *pip.Variables, r *[pip.NVars]float64, gx *pip.Variables) Gradient {
	var g Gradient
	for v := 0; v < pip.NVars; v++ {
		m := p.For(variableClasses[v])
		AddPairGradient(&g, c, v, -m.K*x[v]*gx[v], r[v])
	}
	return g
}

// AddPairGradient accumulates dE/dr·dr/dR for the pair behind variable v
// into g. r is the pair distance.
func AddPairGradient(g *Gradient, c *Cluster, v int, dEdr, r float64) {
	i, j := pip.Pair(v)
	AddAtomPairGradient(g, c, i, j, dEdr, r)
}

// AddAtomPairGradient is AddPairGradient addressed by atom indices.
func AddAtomPairGradient(g *Gradient, c *Cluster, i, j int, dEdr, r float64) {
	if r == 0 {
		return
	}
	d := c[i].Sub(c[j]).Scale(dEdr / r)
	g[i] = g[i].Add(d)
	g[j] = g[j].Sub(d)
}
