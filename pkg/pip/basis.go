package pip

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// Atom labels of the H2O + H2O + X cluster, in variable order.
const (
	AtomOa = iota
	AtomHa1
	AtomHa2
	AtomOb
	AtomHb1
	AtomHb2
	AtomX

	// NAtoms is the number of atoms in the cluster.
	NAtoms
)

// MaxDegree is the highest total degree of any basis monomial.
const MaxDegree = 4

const (
	maxExponent  = 2
	maxIntra     = 1
	maxWaterPair = 2

	numMonomials = 5616
	numNodes     = 6000
)

var atomNames = [NAtoms]string{"Oa", "Ha1", "Ha2", "Ob", "Hb1", "Hb2", "X"}

// PairKind classifies a variable by the fragments its two atoms belong to.
type PairKind uint8

const (
	// KindIntra pairs two atoms of the same water.
	KindIntra PairKind = iota
	// KindWaterWater pairs one atom of each water.
	KindWaterWater
	// KindIon pairs a water atom with the ion.
	KindIon
)

func (k PairKind) String() string {
	switch k {
	case KindIntra:
		return "intra"
	case KindWaterWater:
		return "water-water"
	case KindIon:
		return "ion"
	default:
		return "unknown"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Compiled basis
// ─────────────────────────────────────────────────────────────────────────────

// tuple is a monomial written as a sorted list of variable indices with
// repetition, e.g. x5²·x17 is {5, 5, 17}.
type tuple struct {
	n uint8
	v [MaxDegree]uint8
}

func (t tuple) less(u tuple) bool {
	if t.n != u.n {
		return t.n < u.n
	}
	for i := uint8(0); i < t.n; i++ {
		if t.v[i] != u.v[i] {
			return t.v[i] < u.v[i]
		}
	}
	return false
}

func (t tuple) prefix() tuple {
	p := t
	p.n--
	p.v[p.n] = 0
	return p
}

// program is the evaluation schedule: node i holds the product
// m[parent[i]] * x[vars[i]] and node 0 is the empty product.
type program struct {
	parent    [numNodes]uint16
	vars      [numNodes]uint8
	termStart [Size + 1]uint16
	termNodes [numMonomials]uint16

	pairs     [NVars][2]uint8
	terms     [Size][]tuple
	degrees   [MaxDegree + 1]int
	signature string
}

var prog = compile()

func compile() *program {
	p := &program{}

	pairIndex := [NAtoms][NAtoms]int{}
	v := 0
	for i := 0; i < NAtoms; i++ {
		for j := i + 1; j < NAtoms; j++ {
			p.pairs[v] = [2]uint8{uint8(i), uint8(j)}
			pairIndex[i][j] = v
			pairIndex[j][i] = v
			v++
		}
	}

	perms := Permutations()
	varPerms := make([][NVars]uint8, len(perms))
	for g, perm := range perms {
		for v, pr := range p.pairs {
			varPerms[g][v] = uint8(pairIndex[perm[pr[0]]][perm[pr[1]]])
		}
	}

	terms := [][]tuple{{{}}}
	for d := 1; d <= MaxDegree; d++ {
		enumerate(d, func(t tuple) {
			if !p.admits(t) {
				return
			}
			orbit := orbitOf(t, varPerms)
			if orbit[0] == t {
				terms = append(terms, orbit)
			}
		})
	}
	if len(terms) != Size {
		panic(fmt.Sprintf("pip: basis has %d terms, want %d", len(terms), Size))
	}

	seen := map[tuple]struct{}{}
	var nodes []tuple
	for _, orbit := range terms {
		for _, m := range orbit {
			for q := m; ; q = q.prefix() {
				if _, ok := seen[q]; !ok {
					seen[q] = struct{}{}
					nodes = append(nodes, q)
				}
				if q.n == 0 {
					break
				}
			}
		}
	}
	if len(nodes) != numNodes {
		panic(fmt.Sprintf("pip: basis has %d nodes, want %d", len(nodes), numNodes))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].less(nodes[j]) })

	index := make(map[tuple]uint16, numNodes)
	for i, q := range nodes {
		index[q] = uint16(i)
		if q.n > 0 {
			p.parent[i] = index[q.prefix()]
			p.vars[i] = q.v[q.n-1]
		}
	}

	k := 0
	for t, orbit := range terms {
		p.termStart[t] = uint16(k)
		p.terms[t] = orbit
		p.degrees[orbit[0].n]++
		for _, m := range orbit {
			p.termNodes[k] = index[m]
			k++
		}
	}
	p.termStart[Size] = uint16(k)
	if k != numMonomials {
		panic(fmt.Sprintf("pip: basis has %d monomials, want %d", k, numMonomials))
	}

	p.signature = p.digest()
	return p
}

// enumerate calls fn for every sorted index tuple of length d in
// lexicographic order.
func enumerate(d int, fn func(tuple)) {
	var t tuple
	t.n = uint8(d)
	var rec func(pos int, from uint8)
	rec = func(pos int, from uint8) {
		if pos == d {
			fn(t)
			return
		}
		for v := from; v < NVars; v++ {
			t.v[pos] = v
			rec(pos+1, v)
		}
	}
	rec(0, 0)
}

func (p *program) kind(v uint8) PairKind {
	i, j := p.pairs[v][0], p.pairs[v][1]
	if j == AtomX {
		return KindIon
	}
	if (i < AtomOb) == (j < AtomOb) {
		return KindIntra
	}
	return KindWaterWater
}

func (p *program) admits(t tuple) bool {
	var intra, ww, ion int
	run := 0
	for i := uint8(0); i < t.n; i++ {
		switch p.kind(t.v[i]) {
		case KindIntra:
			intra++
		case KindWaterWater:
			ww++
		case KindIon:
			ion++
		}
		if i > 0 && t.v[i] == t.v[i-1] {
			run++
		} else {
			run = 1
		}
		if run > maxExponent {
			return false
		}
	}
	return ion > 0 && intra <= maxIntra && ww <= maxWaterPair
}

// orbitOf returns the distinct images of t under the variable permutations,
// sorted so that the canonical representative comes first.
func orbitOf(t tuple, varPerms [][NVars]uint8) []tuple {
	out := make([]tuple, 0, len(varPerms))
	for _, vp := range varPerms {
		img := tuple{n: t.n}
		for i := uint8(0); i < t.n; i++ {
			img.v[i] = vp[t.v[i]]
		}
		for i := uint8(1); i < img.n; i++ {
			for j := i; j > 0 && img.v[j] < img.v[j-1]; j-- {
				img.v[j], img.v[j-1] = img.v[j-1], img.v[j]
			}
		}
		dup := false
		for _, o := range out {
			if o == img {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func (p *program) digest() string {
	h := sha256.New()
	var buf [2]byte
	for i := 0; i < numNodes; i++ {
		binary.LittleEndian.PutUint16(buf[:], p.parent[i])
		h.Write(buf[:])
		h.Write([]byte{p.vars[i]})
	}
	for _, s := range p.termStart {
		binary.LittleEndian.PutUint16(buf[:], s)
		h.Write(buf[:])
	}
	for _, k := range p.termNodes {
		binary.LittleEndian.PutUint16(buf[:], k)
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Permutations returns the symmetry group of the cluster as atom index maps:
// perm[i] is the label atom i takes after relabeling. The identity is first.
func Permutations() [][NAtoms]int {
	out := make([][NAtoms]int, 0, 8)
	for _, swapWaters := range []bool{false, true} {
		for _, swapA := range []bool{false, true} {
			for _, swapB := range []bool{false, true} {
				a := [3]int{AtomOa, AtomHa1, AtomHa2}
				if swapA {
					a[1], a[2] = a[2], a[1]
				}
				b := [3]int{AtomOb, AtomHb1, AtomHb2}
				if swapB {
					b[1], b[2] = b[2], b[1]
				}
				if swapWaters {
					a, b = b, a
				}
				var perm [NAtoms]int
				copy(perm[0:3], a[:])
				copy(perm[3:6], b[:])
				perm[AtomX] = AtomX
				out = append(out, perm)
			}
		}
	}
	return out
}
