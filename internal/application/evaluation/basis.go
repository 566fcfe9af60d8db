package evaluation

import "github.com/turtacn/mbnrg-pip/pkg/pip"

// BasisInfo describes the polynomial basis served by this build.
type BasisInfo struct {
	NVars        int            `json:"n_vars"`
	Size         int            `json:"size"`
	MaxDegree    int            `json:"max_degree"`
	Monomials    int            `json:"monomials"`
	DegreeCounts []int          `json:"degree_counts"`
	Signature    string         `json:"signature"`
	Variables    []VariableInfo `json:"variables"`
}

type VariableInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
}

func DescribeBasis() BasisInfo {
	dc := pip.DegreeCounts()
	names := pip.VariableNames()
	info := BasisInfo{
		NVars:        pip.NVars,
		Size:         pip.Size,
		MaxDegree:    pip.MaxDegree,
		Monomials:    pip.MonomialCount(),
		DegreeCounts: dc[:],
		Signature:    pip.Signature(),
		Variables:    make([]VariableInfo, pip.NVars),
	}
	for v := range info.Variables {
		info.Variables[v] = VariableInfo{Index: v, Name: names[v], Kind: pip.Kind(v).String()}
	}
	return info
}
