package pip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasis_Counts(t *testing.T) {
	assert.Equal(t, [MaxDegree + 1]int{1, 2, 26, 172, 723}, DegreeCounts())
	assert.Len(t, Terms(), Size)

	total := 0
	for _, term := range Terms() {
		total += len(term.Monomials)
	}
	assert.Equal(t, MonomialCount(), total)
	assert.Equal(t, 5616, total)
}

func TestBasis_ConstantTermFirst(t *testing.T) {
	term, ok := TermAt(0)
	require.True(t, ok)
	assert.Equal(t, 0, term.Degree)
	require.Len(t, term.Monomials, 1)
	assert.Equal(t, "1", term.Monomials[0].String())
}

func TestBasis_FirstLinearTerm(t *testing.T) {
	term, ok := TermAt(1)
	require.True(t, ok)
	assert.Equal(t, 1, term.Degree)
	assert.Equal(t, "x05 + x17", term.String())
	assert.Equal(t, "Oa-X", VariableNames()[5])
	assert.Equal(t, "Ob-X", VariableNames()[17])
}

func TestBasis_TermAtOutOfRange(t *testing.T) {
	_, ok := TermAt(-1)
	assert.False(t, ok)
	_, ok = TermAt(Size)
	assert.False(t, ok)
}

func TestBasis_DegreesAreOrdered(t *testing.T) {
	prev := 0
	for _, term := range Terms() {
		assert.GreaterOrEqual(t, term.Degree, prev, "term %d", term.Index)
		prev = term.Degree
		for _, m := range term.Monomials {
			assert.Equal(t, term.Degree, m.Degree())
		}
	}
}

func TestBasis_OrbitsAreDisjointAndClosed(t *testing.T) {
	seen := map[Monomial]int{}
	for _, term := range Terms() {
		members := map[Monomial]bool{}
		for _, m := range term.Monomials {
			prev, dup := seen[m]
			require.False(t, dup, "monomial %s in terms %d and %d", m, prev, term.Index)
			seen[m] = term.Index
			members[m] = true
		}
		for _, m := range term.Monomials {
			for _, perm := range Permutations() {
				assert.True(t, members[permuteMonomial(t, m, perm)], "term %d not closed", term.Index)
			}
		}
	}
}

func TestBasis_AdmissionRule(t *testing.T) {
	for _, term := range Terms()[1:] {
		for _, m := range term.Monomials {
			var intra, ww, ion int
			for v, e := range m {
				assert.LessOrEqual(t, int(e), 2)
				switch Kind(v) {
				case KindIntra:
					intra += int(e)
				case KindWaterWater:
					ww += int(e)
				case KindIon:
					ion += int(e)
				}
			}
			assert.Positive(t, ion, "term %d", term.Index)
			assert.LessOrEqual(t, intra, 1, "term %d", term.Index)
			assert.LessOrEqual(t, ww, 2, "term %d", term.Index)
		}
	}
}

func TestBasis_VariableKinds(t *testing.T) {
	counts := map[PairKind]int{}
	for v := 0; v < NVars; v++ {
		counts[Kind(v)]++
	}
	assert.Equal(t, 6, counts[KindIntra])
	assert.Equal(t, 9, counts[KindWaterWater])
	assert.Equal(t, 6, counts[KindIon])
	assert.Equal(t, "ion", KindIon.String())
}

func TestPermutations_Group(t *testing.T) {
	perms := Permutations()
	require.Len(t, perms, 8)
	assert.Equal(t, [NAtoms]int{0, 1, 2, 3, 4, 5, 6}, perms[0])

	unique := map[[NAtoms]int]bool{}
	for _, p := range perms {
		unique[p] = true
		assert.Equal(t, AtomX, p[AtomX])
	}
	assert.Len(t, unique, 8)
}

func TestSignature_Stable(t *testing.T) {
	sig := Signature()
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, compile().signature)
}

func permuteMonomial(t *testing.T, m Monomial, perm [NAtoms]int) Monomial {
	t.Helper()
	var out Monomial
	for v, e := range m {
		if e == 0 {
			continue
		}
		i, j := Pair(v)
		pi, pj := perm[i], perm[j]
		if pi > pj {
			pi, pj = pj, pi
		}
		out[pairIndex(t, pi, pj)] += e
	}
	return out
}
