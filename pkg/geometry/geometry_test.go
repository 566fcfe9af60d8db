package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

const sampleFragment = `
O   0.000000   0.000000   0.000000
H   0.957200   0.000000   0.000000
H  -0.239988   0.926627   0.000000
O   2.900000   0.300000   0.200000
H   3.300000   1.150000   0.100000
H   3.400000  -0.350000   0.550000
Na  1.300000  -1.900000   0.400000
`

func sampleCluster(t *testing.T) Cluster {
	t.Helper()
	atoms, err := ParseFragment(sampleFragment)
	require.NoError(t, err)
	c, ion, err := ClusterFromAtoms(atoms)
	require.NoError(t, err)
	require.Equal(t, "Na", ion)
	return c
}

func randomCoefficients(seed int64) *pip.Coefficients {
	rng := rand.New(rand.NewSource(seed))
	var a pip.Coefficients
	for i := range a {
		a[i] = (2*rng.Float64() - 1) * 1e-2
	}
	return &a
}

// ─────────────────────────────────────────────────────────────────────────────
// Parsing
// ─────────────────────────────────────────────────────────────────────────────

func TestParseFragment_Valid(t *testing.T) {
	atoms, err := ParseFragment("O 0 0 0 H 1 0 0 h 0 1 0")
	require.NoError(t, err)
	require.Len(t, atoms, 3)
	assert.Equal(t, "H", atoms[2].Symbol)
	assert.Equal(t, Vec3{0, 1, 0}, atoms[2].Pos)
}

func TestParseFragment_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"short group":    "O 0 0",
		"bad symbol":     "123 0 0 0",
		"bad coordinate": "O 0 zero 0",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFragment(in)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeFragmentParseFailed))
		})
	}
}

func TestFormatFragment_RoundTrip(t *testing.T) {
	c := sampleCluster(t)
	atoms, err := ParseFragment(FormatFragment(c.Atoms("Na")))
	require.NoError(t, err)
	back, ion, err := ClusterFromAtoms(atoms)
	require.NoError(t, err)
	assert.Equal(t, "Na", ion)
	for i := range c {
		for k := 0; k < 3; k++ {
			assert.InDelta(t, c[i][k], back[i][k], 1e-8)
		}
	}
}

func TestClusterFromAtoms_IonFirst(t *testing.T) {
	atoms, err := ParseFragment(sampleFragment)
	require.NoError(t, err)
	reordered := append([]Atom{atoms[6]}, atoms[:6]...)

	c, ion, err := ClusterFromAtoms(reordered)
	require.NoError(t, err)
	assert.Equal(t, "Na", ion)
	assert.Equal(t, atoms[6].Pos, c[pip.AtomX])
	assert.Equal(t, atoms[0].Pos, c[pip.AtomOa])
}

func TestClusterFromAtoms_Composition(t *testing.T) {
	cases := map[string]string{
		"too few":      "O 0 0 0 H 1 0 0 H 0 1 0",
		"three waters": "O 0 0 0 H 1 0 0 H 0 1 0 O 3 0 0 H 4 0 0 H 3 1 0 O 6 0 0",
		"wrong order":  "H 0 0 0 O 1 0 0 H 0 1 0 O 3 0 0 H 4 0 0 H 3 1 0 Cl 6 0 0",
		"hydrogen ion": "O 0 0 0 H 1 0 0 H 0 1 0 O 3 0 0 H 4 0 0 H 3 1 0 H 6 0 0",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			atoms, err := ParseFragment(in)
			require.NoError(t, err)
			_, _, err = ClusterFromAtoms(atoms)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeFragmentComposition))
		})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transform
// ─────────────────────────────────────────────────────────────────────────────

func TestClassOf_Counts(t *testing.T) {
	counts := map[PairClass]int{}
	for v := 0; v < pip.NVars; v++ {
		counts[ClassOf(v)]++
	}
	assert.Equal(t, map[PairClass]int{
		ClassOHIntra: 4, ClassHHIntra: 2, ClassOO: 1, ClassOHInter: 4,
		ClassHHInter: 4, ClassOX: 2, ClassHX: 4,
	}, counts)
	assert.Equal(t, "oh_intra", ClassOHIntra.String())
}

func TestClassOf_ClosedUnderSymmetry(t *testing.T) {
	for _, perm := range pip.Permutations() {
		for v := 0; v < pip.NVars; v++ {
			i, j := pip.Pair(v)
			w := variableIndex(t, perm[i], perm[j])
			assert.Equal(t, ClassOf(v), ClassOf(w))
		}
	}
}

func TestTransform_AtEquilibriumIsOne(t *testing.T) {
	p := DefaultParams()
	c := sampleCluster(t)
	x, r := Transform(&c, &p)
	for v := range x {
		m := p.For(ClassOf(v))
		assert.InDelta(t, math.Exp(-m.K*(r[v]-m.D0)), x[v], 1e-15)
	}
	assert.InDelta(t, 0.9572, r[0], 1e-6)
	assert.InDelta(t, 1.0, x[0], 1e-6)
}

func TestParams_Validate(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())

	p.OX.K = 0
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCoeffParamsInvalid))

	p = DefaultParams()
	p.HX.D0 = math.NaN()
	assert.Error(t, p.Validate())
}

func TestBackpropagate_FiniteDifferences(t *testing.T) {
	const h = 1e-5
	p := DefaultParams()
	a := randomCoefficients(1)
	c := sampleCluster(t)

	energy := func(c Cluster) float64 {
		x, _ := Transform(&c, &p)
		return pip.Evaluate(a, &x)
	}

	x, r := Transform(&c, &p)
	_, gx := pip.EvaluateWithGradient(a, &x)
	g := Backpropagate(&c, &p, &x, &r, &gx)

	for i := range c {
		for k := 0; k < 3; k++ {
			cp, cm := c, c
			cp[i][k] += h
			cm[i][k] -= h
			fd := (energy(cp) - energy(cm)) / (2 * h)
			assert.InDelta(t, fd, g[i][k], 1e-6, "atom %d axis %d", i, k)
		}
	}
}

func TestEnergy_InvariantUnderAtomRelabeling(t *testing.T) {
	p := DefaultParams()
	a := randomCoefficients(2)
	c := sampleCluster(t)

	x, _ := Transform(&c, &p)
	want := pip.Evaluate(a, &x)

	for _, perm := range SymmetryPermutations() {
		pc := Permute(c, perm)
		y, _ := Transform(&pc, &p)
		assert.InDelta(t, want, pip.Evaluate(a, &y), 1e-12*math.Max(1, math.Abs(want)), "perm %v", perm)
	}
}

func TestGradient_SumsToZero(t *testing.T) {
	p := DefaultParams()
	a := randomCoefficients(3)
	c := sampleCluster(t)

	x, r := Transform(&c, &p)
	_, gx := pip.EvaluateWithGradient(a, &x)
	g := Backpropagate(&c, &p, &x, &r, &gx)

	var total Vec3
	for _, gi := range g {
		total = total.Add(gi)
	}
	assert.InDelta(t, 0, total.Norm(), 1e-12)
}

func variableIndex(t *testing.T, i, j int) int {
	t.Helper()
	if i > j {
		i, j = j, i
	}
	for v := 0; v < pip.NVars; v++ {
		a, b := pip.Pair(v)
		if a == i && b == j {
			return v
		}
	}
	t.Fatalf("no variable for atoms %d,%d", i, j)
	return -1
}

func TestParams_SetAndParseClass(t *testing.T) {
	c, ok := ParsePairClass("hx")
	require.True(t, ok)
	assert.Equal(t, ClassHX, c)
	_, ok = ParsePairClass("xx")
	assert.False(t, ok)

	p := DefaultParams()
	p.Set(ClassHX, Morse{K: 2, D0: 3.5})
	assert.Equal(t, Morse{K: 2, D0: 3.5}, p.HX)
	assert.Equal(t, Morse{K: 2, D0: 3.5}, p.For(ClassHX))
}
