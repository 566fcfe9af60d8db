package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

// EvaluateRequest evaluates one configuration. Coefficients come from either
// SetID or the inline Coefficients, the configuration from either Variables
// or Fragment.
type EvaluateRequest struct {
	SetID        string    `json:"set_id,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Variables    []float64 `json:"variables,omitempty"`
	Fragment     string    `json:"fragment,omitempty"`
	Gradient     bool      `json:"gradient,omitempty"`
}

// Extrapolation reports the distance to the nearest training
// configuration. Distance is nil when the set has no training data.
type Extrapolation struct {
	Checked       bool     `json:"checked"`
	Distance      *float64 `json:"distance"`
	Threshold     float64  `json:"threshold"`
	Extrapolating bool     `json:"extrapolating"`
}

type EvaluateResult struct {
	Energy            float64        `json:"energy"`
	Polynomial        float64        `json:"polynomial,omitempty"`
	Switch            *float64       `json:"switch,omitempty"`
	Ion               string         `json:"ion,omitempty"`
	Variables         []float64      `json:"variables,omitempty"`
	Gradient          []float64      `json:"gradient,omitempty"`
	CartesianGradient [][3]float64   `json:"cartesian_gradient,omitempty"`
	Extrapolation     *Extrapolation `json:"extrapolation,omitempty"`
}

type GradCheckRequest struct {
	SetID        string    `json:"set_id,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Samples      int       `json:"samples,omitempty"`
	Epsilon      float64   `json:"epsilon,omitempty"`
	Seed         int64     `json:"seed,omitempty"`
}

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

type BasisVariable struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
}

// BasisInfo describes the basis compiled into the server.
type BasisInfo struct {
	NVars        int             `json:"n_vars"`
	Size         int             `json:"size"`
	MaxDegree    int             `json:"max_degree"`
	Monomials    int             `json:"monomials"`
	DegreeCounts []int           `json:"degree_counts"`
	Signature    string          `json:"signature"`
	Variables    []BasisVariable `json:"variables"`
}

// BasisTerm is one basis function.
type BasisTerm struct {
	pip.Term
	Expression string `json:"expression"`
}

// ---------------------------------------------------------------------------
// EvaluationsClient
// ---------------------------------------------------------------------------

// EvaluationsClient calls the evaluation and basis endpoints.
type EvaluationsClient struct {
	client *Client
}

func validateEvaluate(req *EvaluateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidConfig)
	}
	if (req.SetID == "") == (len(req.Coefficients) == 0) {
		return fmt.Errorf("%w: exactly one of set_id and coefficients is required", ErrInvalidConfig)
	}
	if (len(req.Variables) == 0) == (req.Fragment == "") {
		return fmt.Errorf("%w: exactly one of variables and fragment is required", ErrInvalidConfig)
	}
	if len(req.Variables) > 0 && len(req.Variables) != pip.NVars {
		return fmt.Errorf("%w: %d variables, want %d", ErrInvalidConfig, len(req.Variables), pip.NVars)
	}
	return nil
}

// Evaluate calls POST /api/v1/evaluate.
func (e *EvaluationsClient) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResult, error) {
	if err := validateEvaluate(req); err != nil {
		return nil, err
	}
	var out EvaluateResult
	if err := e.client.post(ctx, "/api/v1/evaluate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateBatch calls POST /api/v1/evaluate/batch. Results are in request
// order.
func (e *EvaluationsClient) EvaluateBatch(ctx context.Context, reqs []*EvaluateRequest) ([]*EvaluateResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidConfig)
	}
	for i, r := range reqs {
		if err := validateEvaluate(r); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}
	var out struct {
		Results []*EvaluateResult `json:"results"`
	}
	body := struct {
		Requests []*EvaluateRequest `json:"requests"`
	}{reqs}
	if err := e.client.post(ctx, "/api/v1/evaluate/batch", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GradCheck calls POST /api/v1/gradcheck.
func (e *EvaluationsClient) GradCheck(ctx context.Context, req *GradCheckRequest) (*GradCheckReport, error) {
	if req == nil || (req.SetID == "") == (len(req.Coefficients) == 0) {
		return nil, fmt.Errorf("%w: exactly one of set_id and coefficients is required", ErrInvalidConfig)
	}
	var out GradCheckReport
	if err := e.client.post(ctx, "/api/v1/gradcheck", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Basis calls GET /api/v1/basis.
func (e *EvaluationsClient) Basis(ctx context.Context) (*BasisInfo, error) {
	var out BasisInfo
	if err := e.client.get(ctx, "/api/v1/basis", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Term calls GET /api/v1/basis/terms/{index}.
func (e *EvaluationsClient) Term(ctx context.Context, index int) (*BasisTerm, error) {
	if index < 0 || index >= pip.Size {
		return nil, fmt.Errorf("%w: term index %d out of range", ErrInvalidConfig, index)
	}
	var out BasisTerm
	if err := e.client.get(ctx, "/api/v1/basis/terms/"+strconv.Itoa(index), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckSignature fails when the server's basis differs from the one this
// SDK was built with, which makes coefficient vectors incompatible.
func (e *EvaluationsClient) CheckSignature(ctx context.Context) error {
	info, err := e.Basis(ctx)
	if err != nil {
		return err
	}
	if info.Signature != pip.Signature() {
		return fmt.Errorf("mbpip: server basis %s differs from client basis %s", info.Signature, pip.Signature())
	}
	return nil
}
