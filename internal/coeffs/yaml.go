package coeffs

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/potential"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

type document struct {
	Name           string            `yaml:"name"`
	Ion            string            `yaml:"ion,omitempty"`
	Description    string            `yaml:"description,omitempty"`
	BasisSignature string            `yaml:"basis_signature,omitempty"`
	Params         *geometry.Params  `yaml:"params,omitempty"`
	Switch         *potential.Switch `yaml:"switch,omitempty"`
	Coefficients   []float64         `yaml:"coefficients"`
}

func decodeYAML(data []byte) (*coefficient.Set, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.ErrCodeCoeffParseFailed, "empty coefficient document")
		}
		return nil, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "parse yaml coefficient document")
	}
	if len(doc.Coefficients) != pip.Size {
		return nil, countMismatch(len(doc.Coefficients))
	}

	s := coefficient.NewSet(doc.Name, doc.Ion)
	s.Description = doc.Description
	s.BasisSignature = doc.BasisSignature
	if doc.Params != nil {
		s.Params = *doc.Params
	}
	if doc.Switch != nil {
		s.Switch = *doc.Switch
	}
	copy(s.Coefficients[:], doc.Coefficients)
	return s, nil
}

func encodeYAML(w io.Writer, s *coefficient.Set) error {
	params, sw := s.Params, s.Switch
	doc := document{
		Name:           s.Name,
		Ion:            s.Ion,
		Description:    s.Description,
		BasisSignature: pip.Signature(),
		Params:         &params,
		Switch:         &sw,
		Coefficients:   s.Coefficients[:],
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode yaml coefficient document")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode yaml coefficient document")
	}
	return nil
}

func countMismatch(n int) error {
	return errors.New(errors.ErrCodeCoeffCountMismatch, "wrong number of coefficients").
		WithDetail(fmt.Sprintf("got %d, want %d", n, pip.Size))
}
