// Package geometry converts Cartesian cluster geometries into the 21 pair
// variables consumed by package pip, and maps variable-space gradients back
// onto atomic positions.
package geometry

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// Atom is one labelled position, in Angstrom.
type Atom struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Pos    Vec3   `json:"pos" yaml:"pos"`
}

// ParseFragment reads the whitespace separated "Sym x y z Sym x y z ..."
// form used by QM fragment drivers. Newlines are treated as spaces.
func ParseFragment(s string) ([]Atom, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrCodeFragmentParseFailed, "empty fragment")
	}
	if len(fields)%4 != 0 {
		return nil, errors.New(errors.ErrCodeFragmentParseFailed, "fragment must be groups of symbol x y z").
			WithDetail(fmt.Sprintf("%d tokens", len(fields)))
	}

	atoms := make([]Atom, 0, len(fields)/4)
	for i := 0; i < len(fields); i += 4 {
		sym := fields[i]
		if !isSymbol(sym) {
			return nil, errors.New(errors.ErrCodeFragmentParseFailed, "invalid element symbol").
				WithDetail(fmt.Sprintf("atom %d: %q", i/4, sym))
		}
		var a Atom
		a.Symbol = normalizeSymbol(sym)
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(fields[i+1+k], 64)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeFragmentParseFailed, "invalid coordinate").
					WithDetail(fmt.Sprintf("atom %d (%s)", i/4, sym))
			}
			a.Pos[k] = v
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

// FormatFragment renders atoms in the form accepted by ParseFragment, one
// atom per line.
func FormatFragment(atoms []Atom) string {
	var sb strings.Builder
	for _, a := range atoms {
		fmt.Fprintf(&sb, "%-2s %14.8f %14.8f %14.8f\n", a.Symbol, a.Pos[0], a.Pos[1], a.Pos[2])
	}
	return sb.String()
}

func isSymbol(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// ─────────────────────────────────────────────────────────────────────────────
// Cluster
// ─────────────────────────────────────────────────────────────────────────────

// Cluster holds the seven atom positions in pip atom order:
// Oa Ha1 Ha2 Ob Hb1 Hb2 X.
type Cluster [pip.NAtoms]Vec3

var waterPattern = [6]string{"O", "H", "H", "O", "H", "H"}

// ClusterFromAtoms arranges a parsed fragment into a Cluster. The two
// waters must be listed as O H H O H H, with the ion either first or last.
// The ion symbol is returned alongside.
func ClusterFromAtoms(atoms []Atom) (Cluster, string, error) {
	var c Cluster
	if len(atoms) != pip.NAtoms {
		return c, "", errors.New(errors.ErrCodeFragmentComposition, "cluster needs exactly 7 atoms").
			WithDetail(fmt.Sprintf("got %d", len(atoms)))
	}

	waters, ion := atoms[:6], atoms[6]
	if !matchesWaters(waters) {
		waters, ion = atoms[1:], atoms[0]
	}
	if !matchesWaters(waters) || ion.Symbol == "O" || ion.Symbol == "H" {
		return c, "", errors.New(errors.ErrCodeFragmentComposition, "expected O H H O H H plus one ion").
			WithDetail(symbols(atoms))
	}

	for i, a := range waters {
		c[i] = a.Pos
	}
	c[pip.AtomX] = ion.Pos
	return c, ion.Symbol, nil
}

// Atoms returns the cluster as a labelled atom list with the ion last.
func (c *Cluster) Atoms(ion string) []Atom {
	out := make([]Atom, pip.NAtoms)
	for i := 0; i < 6; i++ {
		out[i] = Atom{Symbol: waterPattern[i], Pos: c[i]}
	}
	out[pip.AtomX] = Atom{Symbol: ion, Pos: c[pip.AtomX]}
	return out
}

// Permute relabels the atoms: atom i of c becomes atom perm[i] of the
// result.
func Permute(c Cluster, perm [pip.NAtoms]int) Cluster {
	var out Cluster
	for i, p := range perm {
		out[p] = c[i]
	}
	return out
}

// SymmetryPermutations returns the atom index maps of the cluster symmetry
// group, identity first.
func SymmetryPermutations() [][pip.NAtoms]int {
	return pip.Permutations()
}

func matchesWaters(atoms []Atom) bool {
	for i, want := range waterPattern {
		if atoms[i].Symbol != want {
			return false
		}
	}
	return true
}

func symbols(atoms []Atom) string {
	s := make([]string, len(atoms))
	for i, a := range atoms {
		s[i] = a.Symbol
	}
	return strings.Join(s, " ")
}
