// Package evaluation is the application service behind every evaluation
// entry point: HTTP, gRPC, the Kafka worker and the CLI.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/domain/coverage"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mbnrg-pip/internal/potential"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Service evaluates the 3-body term.
type Service interface {
	Evaluate(ctx context.Context, req *Request) (*Result, error)

	// EvaluateBatch returns results in request order. The first failing
	// request fails the batch.
	EvaluateBatch(ctx context.Context, reqs []*Request) ([]*Result, error)

	GradCheck(ctx context.Context, req *GradCheckRequest) (*GradCheckReport, error)
}

// SetSource resolves stored coefficient sets. The coefficient application
// service satisfies it.
type SetSource interface {
	Get(ctx context.Context, id common.ID) (*domain.Set, error)
}

// Options bound the work of one call.
type Options struct {
	Concurrency  int
	MaxBatchSize int
	Timeout      time.Duration

	// Threshold is the squared variable-space distance beyond which a
	// configuration is reported as an extrapolation.
	Threshold float64
}

// Deps are the collaborators. Sets and Coverage are optional: without Sets
// only inline coefficients are accepted, without Coverage no extrapolation
// report is attached.
type Deps struct {
	Sets     SetSource
	Coverage coverage.Index
	Options  Options
	Logger   logging.Logger
	Metrics  *prometheus.AppMetrics
}

type serviceImpl struct {
	sets     SetSource
	coverage coverage.Index
	opts     Options
	logger   logging.Logger
	metrics  *prometheus.AppMetrics
}

func NewService(d Deps) Service {
	if d.Options.Concurrency <= 0 {
		d.Options.Concurrency = 1
	}
	if d.Options.MaxBatchSize <= 0 {
		d.Options.MaxBatchSize = 10000
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &serviceImpl{
		sets:     d.Sets,
		coverage: d.Coverage,
		opts:     d.Options,
		logger:   d.Logger.Named("evaluation"),
		metrics:  d.Metrics,
	}
}

func (s *serviceImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *serviceImpl) Evaluate(ctx context.Context, req *Request) (res *Result, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { prometheus.RecordEvaluation(s.metrics, inputKind(req), mode(req), 1, time.Since(start), err) }()

	return s.evaluate(ctx, req)
}

func (s *serviceImpl) EvaluateBatch(ctx context.Context, reqs []*Request) (results []*Result, err error) {
	if len(reqs) == 0 {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "empty batch")
	}
	if len(reqs) > s.opts.MaxBatchSize {
		return nil, errors.New(errors.ErrCodeBatchTooLarge, "batch too large").
			WithDetail(fmt.Sprintf("%d requests, limit %d", len(reqs), s.opts.MaxBatchSize))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		prometheus.RecordEvaluation(s.metrics, inputKind(reqs[0]), mode(reqs[0]), len(reqs), time.Since(start), err)
	}()

	results = make([]*Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := s.evaluate(gctx, req)
			if err != nil {
				return annotate(err, fmt.Sprintf("request %d", i))
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "batch evaluation timed out")
		}
		return nil, err
	}
	return results, nil
}

func (s *serviceImpl) evaluate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "request is required")
	}
	set, err := s.resolve(ctx, req.SetID, req.Coefficients)
	if err != nil {
		return nil, err
	}

	var (
		res *Result
		x   pip.Variables
	)
	switch {
	case len(req.Variables) > 0 && req.Fragment != "":
		return nil, errors.InvalidParam("variables and fragment are mutually exclusive")
	case len(req.Variables) > 0:
		if len(req.Variables) != pip.NVars {
			return nil, errors.New(errors.ErrCodeVariableCountMismatch, "wrong number of variables").
				WithDetail(fmt.Sprintf("got %d, want %d", len(req.Variables), pip.NVars))
		}
		copy(x[:], req.Variables)
		res = evaluateVariables(&set.Coefficients, &x, req.Gradient)
	case req.Fragment != "":
		atoms, err := geometry.ParseFragment(req.Fragment)
		if err != nil {
			return nil, err
		}
		c, ion, err := geometry.ClusterFromAtoms(atoms)
		if err != nil {
			return nil, err
		}
		res = evaluateCluster(set.ThreeBody(), &c, req.Gradient)
		res.Ion = ion
		copy(x[:], res.Variables)
	default:
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "variables or fragment is required")
	}

	if req.SetID != "" {
		res.Extrapolation = s.assess(ctx, req.SetID, &x)
	}
	return res, nil
}

// resolve returns the stored set, or a set around the inline coefficients
// with default transform parameters and switch.
func (s *serviceImpl) resolve(ctx context.Context, id common.ID, inline []float64) (*domain.Set, error) {
	switch {
	case id != "" && len(inline) > 0:
		return nil, errors.InvalidParam("set_id and coefficients are mutually exclusive")
	case id != "":
		if s.sets == nil {
			return nil, errors.New(errors.ErrCodeServiceUnavailable, "coefficient storage is not configured")
		}
		return s.sets.Get(ctx, id)
	case len(inline) == 0:
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "set_id or coefficients is required")
	case len(inline) != pip.Size:
		return nil, errors.New(errors.ErrCodeCoeffCountMismatch, "wrong number of coefficients").
			WithDetail(fmt.Sprintf("got %d, want %d", len(inline), pip.Size))
	}
	set := domain.NewSet("inline", "")
	for i, v := range inline {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New(errors.ErrCodeCoeffNonFinite, "coefficient is not finite").
				WithDetail(fmt.Sprintf("index %d", i))
		}
		set.Coefficients[i] = v
	}
	return set, nil
}

// assess never fails the evaluation: a lookup error leaves the report
// unchecked.
func (s *serviceImpl) assess(ctx context.Context, id common.ID, x *pip.Variables) *coverage.Report {
	if s.coverage == nil {
		return nil
	}
	n, ok, err := s.coverage.Nearest(ctx, id, x)
	if err != nil {
		s.logger.Warn("Coverage lookup failed", logging.String("set_id", id.String()), logging.Err(err))
		prometheus.RecordError(s.metrics, "coverage", string(errors.GetCode(err)))
		return &coverage.Report{Threshold: s.opts.Threshold}
	}
	rep := coverage.Assess(n, ok, s.opts.Threshold)
	prometheus.RecordExtrapolation(s.metrics, !rep.Extrapolating)
	return &rep
}

func evaluateVariables(a *pip.Coefficients, x *pip.Variables, withGradient bool) *Result {
	if !withGradient {
		return &Result{Energy: pip.Evaluate(a, x)}
	}
	e, g := pip.EvaluateWithGradient(a, x)
	return &Result{Energy: e, Gradient: g[:]}
}

func evaluateCluster(tb *potential.ThreeBody, c *geometry.Cluster, withGradient bool) *Result {
	var r potential.Result
	if withGradient {
		r = tb.EnergyAndGradient(c)
	} else {
		r = tb.Energy(c)
	}
	sw := r.Switch
	res := &Result{
		Energy:     r.Energy,
		Polynomial: r.Polynomial,
		Switch:     &sw,
		Variables:  append([]float64(nil), r.Variables[:]...),
	}
	if withGradient {
		res.CartesianGradient = append([]geometry.Vec3(nil), r.Gradient[:]...)
	}
	return res
}

func (s *serviceImpl) GradCheck(ctx context.Context, req *GradCheckRequest) (*GradCheckReport, error) {
	if req == nil {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "request is required")
	}
	if req.Samples > MaxGradCheckSamples {
		return nil, errors.New(errors.ErrCodeBatchTooLarge, "too many gradient check samples").
			WithDetail(fmt.Sprintf("%d, limit %d", req.Samples, MaxGradCheckSamples))
	}
	if req.Epsilon < 0 {
		return nil, errors.InvalidParam("epsilon must be positive")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set, err := s.resolve(ctx, req.SetID, req.Coefficients)
	if err != nil {
		return nil, err
	}
	rep := CheckGradient(&set.Coefficients, req.Samples, req.Epsilon, req.Seed)
	if !rep.Passed {
		s.logger.Warn("Gradient check failed",
			logging.Float64("max_abs_error", rep.MaxAbsError),
			logging.Int("worst_variable", rep.WorstVariable))
	}
	return &rep, nil
}

func inputKind(req *Request) string {
	if req != nil && req.Fragment != "" {
		return "fragment"
	}
	return "variables"
}

func mode(req *Request) string {
	if req != nil && req.Gradient {
		return prometheus.ModeGradient
	}
	return prometheus.ModeEnergy
}

// annotate adds where in a batch err happened without losing its code.
func annotate(err error, where string) error {
	var app *errors.AppError
	if errors.As(err, &app) {
		if app.Detail != "" {
			where += ": " + app.Detail
		}
		return app.WithDetail(where)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, "evaluation failed").WithDetail(where)
}
