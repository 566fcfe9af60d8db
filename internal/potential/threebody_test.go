package potential

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

const fragment = `
O   0.000000   0.000000   0.000000
H   0.957200   0.000000   0.000000
H  -0.239988   0.926627   0.000000
O   2.900000   0.300000   0.200000
H   3.300000   1.150000   0.100000
H   3.400000  -0.350000   0.550000
Na  1.300000  -1.900000   0.400000
`

func newThreeBody(t *testing.T, seed int64) (*ThreeBody, geometry.Cluster) {
	t.Helper()
	atoms, err := geometry.ParseFragment(fragment)
	require.NoError(t, err)
	c, _, err := geometry.ClusterFromAtoms(atoms)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	var a pip.Coefficients
	for i := range a {
		a[i] = (2*rng.Float64() - 1) * 1e-2
	}
	return &ThreeBody{
		Params: geometry.DefaultParams(),
		Switch: Switch{Inner: 1.0, Outer: 4.5},
		Coeffs: &a,
	}, c
}

func TestSwitch_Limits(t *testing.T) {
	s := Switch{Inner: 2, Outer: 4}

	f, df := s.Eval(1.5)
	assert.Equal(t, 1.0, f)
	assert.Equal(t, 0.0, df)

	f, df = s.Eval(4.0)
	assert.Equal(t, 0.0, f)
	assert.Equal(t, 0.0, df)

	f, _ = s.Eval(3.0)
	assert.InDelta(t, 0.5, f, 1e-15)
}

func TestSwitch_DerivativeMatchesFiniteDifference(t *testing.T) {
	s := Switch{Inner: 2, Outer: 4}
	const h = 1e-6
	for _, r := range []float64{2.1, 2.7, 3.3, 3.9} {
		fp, _ := s.Eval(r + h)
		fm, _ := s.Eval(r - h)
		_, df := s.Eval(r)
		assert.InDelta(t, (fp-fm)/(2*h), df, 1e-8, "r=%g", r)
	}
}

func TestSwitch_Validate(t *testing.T) {
	assert.NoError(t, DefaultSwitch().Validate())
	assert.Error(t, Switch{Inner: 3, Outer: 3}.Validate())
	assert.Error(t, Switch{Inner: -1, Outer: 3}.Validate())
	assert.Error(t, Switch{Inner: 0, Outer: math.Inf(1)}.Validate())
}

func TestThreeBody_EnergyMatchesGradientEntry(t *testing.T) {
	tb, c := newThreeBody(t, 1)
	e := tb.Energy(&c)
	eg := tb.EnergyAndGradient(&c)

	assert.Equal(t, e.Energy, eg.Energy)
	assert.Greater(t, e.Switch, 0.0)
	assert.Less(t, e.Switch, 1.0)
	assert.Equal(t, e.Switch*e.Polynomial, e.Energy)
}

func TestThreeBody_CartesianGradient(t *testing.T) {
	const h = 1e-5
	tb, c := newThreeBody(t, 2)
	res := tb.EnergyAndGradient(&c)

	for i := range c {
		for k := 0; k < 3; k++ {
			cp, cm := c, c
			cp[i][k] += h
			cm[i][k] -= h
			fd := (tb.Energy(&cp).Energy - tb.Energy(&cm).Energy) / (2 * h)
			assert.InDelta(t, fd, res.Gradient[i][k], 1e-6, "atom %d axis %d", i, k)
		}
	}
}

func TestThreeBody_BeyondCutoffIsZero(t *testing.T) {
	tb, c := newThreeBody(t, 3)
	c[pip.AtomX] = c[pip.AtomX].Add(geometry.Vec3{20, 0, 0})

	res := tb.EnergyAndGradient(&c)
	assert.Equal(t, 0.0, res.Energy)
	assert.Equal(t, 0.0, res.Switch)
	assert.Equal(t, geometry.Gradient{}, res.Gradient)
}

func TestThreeBody_InvariantUnderSymmetry(t *testing.T) {
	tb, c := newThreeBody(t, 4)
	want := tb.Energy(&c).Energy

	for _, perm := range pip.Permutations() {
		pc := geometry.Permute(c, perm)
		got := tb.Energy(&pc).Energy
		assert.InDelta(t, want, got, 1e-12*math.Max(1, math.Abs(want)), "perm %v", perm)
	}
}
