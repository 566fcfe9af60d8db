// Package coefficient models fitted coefficient sets for the 3-body
// polynomial and the ports used to persist them.
package coefficient

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/turtacn/mbnrg-pip/internal/potential"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// Set is one fitted parameterization of the 3-body term: nonlinear
// transform parameters, switching cutoffs and the 924 linear coefficients.
type Set struct {
	ID             common.ID        `json:"id"`
	Name           string           `json:"name"`
	Ion            string           `json:"ion"`
	Description    string           `json:"description,omitempty"`
	Params         geometry.Params  `json:"params"`
	Switch         potential.Switch `json:"switch"`
	Coefficients   pip.Coefficients `json:"coefficients"`
	Checksum       string           `json:"checksum"`
	BasisSignature string           `json:"basis_signature"`
	ObjectKey      string           `json:"object_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Version        int              `json:"version"`
}

// Summary is the metadata view of a Set without its coefficients.
type Summary struct {
	ID             common.ID        `json:"id"`
	Name           string           `json:"name"`
	Ion            string           `json:"ion"`
	Description    string           `json:"description,omitempty"`
	Params         geometry.Params  `json:"params"`
	Switch         potential.Switch `json:"switch"`
	Checksum       string           `json:"checksum"`
	BasisSignature string           `json:"basis_signature"`
	ObjectKey      string           `json:"object_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Version        int              `json:"version"`
}

// NewSet returns a set with default transform parameters and switch.
func NewSet(name, ion string) *Set {
	return &Set{
		Name:   name,
		Ion:    ion,
		Params: geometry.DefaultParams(),
		Switch: potential.DefaultSwitch(),
	}
}

// Validate checks everything evaluation relies on: a name, finite
// coefficients, valid transform parameters and switch, and, when recorded,
// a basis signature matching the compiled basis.
func (s *Set) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.InvalidParam("coefficient set name is required")
	}
	for i, a := range s.Coefficients {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return errors.New(errors.ErrCodeCoeffNonFinite, "coefficient is not finite").
				WithDetail(fmt.Sprintf("index %d = %g", i, a))
		}
	}
	if err := s.Params.Validate(); err != nil {
		return err
	}
	if err := s.Switch.Validate(); err != nil {
		return err
	}
	if s.BasisSignature != "" && s.BasisSignature != pip.Signature() {
		return errors.New(errors.ErrCodeCoeffBasisMismatch, "basis signature does not match").
			WithDetail(s.BasisSignature)
	}
	return nil
}

// Checksum returns the sha256 of the coefficient bit patterns.
func Checksum(a *pip.Coefficients) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range a {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Finalize assigns identity and integrity fields before the first save.
func (s *Set) Finalize(now time.Time) {
	if s.ID == "" {
		s.ID = common.NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Version == 0 {
		s.Version = 1
	}
	s.Checksum = Checksum(&s.Coefficients)
	s.BasisSignature = pip.Signature()
	if s.ObjectKey == "" {
		s.ObjectKey = ObjectKey(s.ID)
	}
}

// ObjectKey is the blob storage key of a set.
func ObjectKey(id common.ID) string {
	return "coefficient-sets/" + string(id) + ".yaml"
}

// VerifyChecksum reports whether the coefficients still match Checksum.
func (s *Set) VerifyChecksum() bool {
	return s.Checksum == Checksum(&s.Coefficients)
}

// Summary returns the metadata view of s.
func (s *Set) Summary() Summary {
	return Summary{
		ID:             s.ID,
		Name:           s.Name,
		Ion:            s.Ion,
		Description:    s.Description,
		Params:         s.Params,
		Switch:         s.Switch,
		Checksum:       s.Checksum,
		BasisSignature: s.BasisSignature,
		ObjectKey:      s.ObjectKey,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Version:        s.Version,
	}
}

// ThreeBody returns the evaluable term backed by s. The coefficients are
// shared, not copied.
func (s *Set) ThreeBody() *potential.ThreeBody {
	return &potential.ThreeBody{
		Params: s.Params,
		Switch: s.Switch,
		Coeffs: &s.Coefficients,
	}
}
