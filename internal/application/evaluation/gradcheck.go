package evaluation

import (
	"math"
	"math/rand"

	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

const (
	DefaultGradCheckSamples   = 32
	DefaultGradCheckEpsilon   = 1e-4
	DefaultGradCheckTolerance = 1e-5
	MaxGradCheckSamples       = 10000
)

// CheckGradient compares EvaluateWithGradient against central differences
// at samples points drawn uniformly from (0.05, 1]^21, the range the
// transform produces for bound clusters.
func CheckGradient(a *pip.Coefficients, samples int, eps float64, seed int64) GradCheckReport {
	if samples <= 0 {
		samples = DefaultGradCheckSamples
	}
	if !(eps > 0) {
		eps = DefaultGradCheckEpsilon
	}
	rep := GradCheckReport{Samples: samples, Epsilon: eps, Seed: seed, Tolerance: DefaultGradCheckTolerance}

	rng := rand.New(rand.NewSource(seed))
	for s := 0; s < samples; s++ {
		var x pip.Variables
		for k := range x {
			x[k] = 0.05 + 0.95*rng.Float64()
		}
		_, g := pip.EvaluateWithGradient(a, &x)
		for k := range x {
			xp, xm := x, x
			xp[k] += eps
			xm[k] -= eps
			fd := (pip.Evaluate(a, &xp) - pip.Evaluate(a, &xm)) / (2 * eps)

			abs := math.Abs(fd - g[k])
			if abs > rep.MaxAbsError || math.IsNaN(abs) {
				rep.MaxAbsError = abs
				rep.WorstSample, rep.WorstVariable = s, k
			}
			if scale := math.Max(math.Abs(fd), math.Abs(g[k])); scale > 0 {
				rep.MaxRelError = math.Max(rep.MaxRelError, abs/scale)
			}
		}
	}
	rep.Passed = rep.MaxAbsError < rep.Tolerance
	return rep
}
