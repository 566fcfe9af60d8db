package evaluation

import (
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Request evaluates one configuration. Coefficients come from either SetID
// or the inline Coefficients; the configuration from either Variables or
// Fragment.
type Request struct {
	SetID        common.ID `json:"set_id,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`

	Variables []float64 `json:"variables,omitempty"`

	// Fragment is "Sym x y z" per atom, two waters and one ion, in
	// Angstrom.
	Fragment string `json:"fragment,omitempty"`

	Gradient bool `json:"gradient,omitempty"`
}

// Result is the outcome of one Request. Polynomial, Switch, Ion and
// CartesianGradient are set for fragments only; Gradient (dE/dx) for
// variables only.
type Result struct {
	Energy            float64          `json:"energy"`
	Polynomial        float64          `json:"polynomial,omitempty"`
	Switch            *float64         `json:"switch,omitempty"`
	Ion               string           `json:"ion,omitempty"`
	Variables         []float64        `json:"variables,omitempty"`
	Gradient          []float64        `json:"gradient,omitempty"`
	CartesianGradient []geometry.Vec3  `json:"cartesian_gradient,omitempty"`
	Extrapolation     *coverage.Report `json:"extrapolation,omitempty"`
}

// GradCheckRequest audits the analytic gradient of a coefficient vector at
// Samples random points.
type GradCheckRequest struct {
	SetID        common.ID `json:"set_id,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Samples      int       `json:"samples,omitempty"`
	Epsilon      float64   `json:"epsilon,omitempty"`
	Seed         int64     `json:"seed,omitempty"`
}

// GradCheckReport compares analytic and central-difference gradients.
type GradCheckReport struct {
	Samples       int     `json:"samples"`
	Epsilon       float64 `json:"epsilon"`
	Seed          int64   `json:"seed"`
	MaxAbsError   float64 `json:"max_abs_error"`
	MaxRelError   float64 `json:"max_rel_error"`
	WorstSample   int     `json:"worst_sample"`
	WorstVariable int     `json:"worst_variable"`
	Tolerance     float64 `json:"tolerance"`
	Passed        bool    `json:"passed"`
}
