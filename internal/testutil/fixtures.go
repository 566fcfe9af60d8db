package testutil

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// SampleFragment is a Na+ between two waters, in Angstrom, inside the
// switching range.
const SampleFragment = `
O   0.000000   0.000000   0.000000
H   0.957200   0.000000   0.000000
H  -0.239988   0.926627   0.000000
O   2.900000   0.300000   0.200000
H   3.300000   1.150000   0.100000
H   3.400000  -0.350000   0.550000
Na  1.300000  -1.900000   0.400000
`

func SampleCluster(t testing.TB) geometry.Cluster {
	t.Helper()
	atoms, err := geometry.ParseFragment(SampleFragment)
	require.NoError(t, err)
	c, _, err := geometry.ClusterFromAtoms(atoms)
	require.NoError(t, err)
	return c
}

// RandomCoefficients returns small reproducible coefficients.
func RandomCoefficients(seed int64) *pip.Coefficients {
	rng := rand.New(rand.NewSource(seed))
	var a pip.Coefficients
	for i := range a {
		a[i] = (2*rng.Float64() - 1) * 1e-2
	}
	return &a
}

// RandomVariables returns variables in (0, 1], the range the transform
// produces.
func RandomVariables(rng *rand.Rand) pip.Variables {
	var x pip.Variables
	for i := range x {
		x[i] = 0.05 + 0.95*rng.Float64()
	}
	return x
}

// NewSet returns an unsaved set with random coefficients.
func NewSet(name string, seed int64) *coefficient.Set {
	s := coefficient.NewSet(name, "Na")
	s.Coefficients = *RandomCoefficients(seed)
	return s
}
