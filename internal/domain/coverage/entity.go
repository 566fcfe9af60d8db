// Package coverage models the training configurations a coefficient set was
// fitted on. Evaluations far from every training point are extrapolations.
package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Batch records one ingestion of training configurations for a set.
type Batch struct {
	ID             common.ID `json:"id"`
	SetID          common.ID `json:"set_id"`
	Source         string    `json:"source,omitempty"`
	Configurations int       `json:"configurations"`
	CreatedAt      time.Time `json:"created_at"`
}

// Point is one training configuration in variable space.
type Point = pip.Variables

// Neighbor is the nearest training configuration to a query.
type Neighbor struct {
	BatchID common.ID `json:"batch_id"`

	// Distance is the squared L2 distance in variable space.
	Distance float64 `json:"distance"`
}

// Report is attached to evaluation results when a coverage index is
// configured.
type Report struct {
	Checked       bool    `json:"checked"`
	Distance      float64 `json:"distance"`
	Threshold     float64 `json:"threshold"`
	Extrapolating bool    `json:"extrapolating"`
}

// MarshalJSON writes an infinite distance (empty training set) as null.
func (r Report) MarshalJSON() ([]byte, error) {
	type wire struct {
		Checked       bool     `json:"checked"`
		Distance      *float64 `json:"distance"`
		Threshold     float64  `json:"threshold"`
		Extrapolating bool     `json:"extrapolating"`
	}
	w := wire{Checked: r.Checked, Threshold: r.Threshold, Extrapolating: r.Extrapolating}
	if !math.IsInf(r.Distance, 0) && !math.IsNaN(r.Distance) {
		d := r.Distance
		w.Distance = &d
	}
	return json.Marshal(w)
}

// Assess builds the report for the nearest neighbor. ok is false when the
// set has no indexed configurations; such queries are extrapolations.
func Assess(n Neighbor, ok bool, threshold float64) Report {
	if !ok {
		return Report{Checked: true, Distance: math.Inf(1), Threshold: threshold, Extrapolating: true}
	}
	return Report{Checked: true, Distance: n.Distance, Threshold: threshold, Extrapolating: n.Distance > threshold}
}

// NewBatch validates points and returns the batch describing them.
func NewBatch(setID common.ID, source string, points []Point, now time.Time) (*Batch, error) {
	if err := setID.Validate(); err != nil {
		return nil, errors.InvalidParam("invalid coefficient set id").WithCause(err)
	}
	if len(points) == 0 {
		return nil, errors.New(errors.ErrCodeEvaluationInputMissing, "no training configurations")
	}
	for i := range points {
		for k, v := range points[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.InvalidParam("training configuration is not finite").
					WithDetail(fmt.Sprintf("configuration %d, variable %d", i, k))
			}
		}
	}
	return &Batch{
		ID:             common.NewID(),
		SetID:          setID,
		Source:         source,
		Configurations: len(points),
		CreatedAt:      now,
	}, nil
}

// Repository persists batch metadata.
type Repository interface {
	Save(ctx context.Context, b *Batch) error
	ListBySet(ctx context.Context, setID common.ID) ([]*Batch, error)
}

// Index stores training points and answers nearest-neighbor queries per
// coefficient set.
type Index interface {
	Insert(ctx context.Context, b *Batch, points []Point) error
	Nearest(ctx context.Context, setID common.ID, x *Point) (Neighbor, bool, error)
	DeleteSet(ctx context.Context, setID common.ID) error
}
