// Package coeffs reads and writes coefficient set documents.
//
// Two formats are supported. The YAML document carries the full set:
// metadata, transform parameters, switch and the coefficients. The flat
// .dat form is one coefficient per line, as produced by fitting codes, with
// optional "# key: value" header comments for the metadata.
package coeffs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// Format identifies a coefficient document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatDat  Format = "dat"
)

// DefaultName is assigned to sets whose document carries no name.
const DefaultName = "unnamed"

// ParseFormat accepts "yaml", "yml" and "dat", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "dat", "txt":
		return FormatDat, nil
	}
	return "", errors.New(errors.ErrCodeCoeffFormatUnsupported, "unsupported coefficient format").WithDetail(s)
}

// FormatFromPath picks the format from a file extension. Anything that is
// not YAML is read as .dat.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatDat
}

// ContentType returns the MIME type used when storing documents of f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "text/plain"
}

// Decode parses and validates a document.
func Decode(data []byte, f Format) (*coefficient.Set, error) {
	return decode(data, f, DefaultName)
}

func decode(data []byte, f Format, fallbackName string) (*coefficient.Set, error) {
	var (
		s   *coefficient.Set
		err error
	)
	switch f {
	case FormatYAML:
		s, err = decodeYAML(data)
	case FormatDat:
		s, err = decodeDat(data)
	default:
		return nil, errors.New(errors.ErrCodeCoeffFormatUnsupported, "unsupported coefficient format").WithDetail(string(f))
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = fallbackName
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Read decodes a document from r.
func Read(r io.Reader, f Format) (*coefficient.Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "read coefficient document")
	}
	return Decode(data, f)
}

// Encode serializes s in format f.
func Encode(s *coefficient.Set, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, s, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes s in format f to w.
func Write(w io.Writer, s *coefficient.Set, f Format) error {
	switch f {
	case FormatYAML:
		return encodeYAML(w, s)
	case FormatDat:
		return encodeDat(w, s)
	}
	return errors.New(errors.ErrCodeCoeffFormatUnsupported, "unsupported coefficient format").WithDetail(string(f))
}

// ReadFile loads a document, choosing the format from the extension. A set
// without a name is named after the file.
func ReadFile(path string) (*coefficient.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "read coefficient file").WithDetail(path)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return decode(data, FormatFromPath(path), stem)
}

// WriteFile stores s at path in format f.
func WriteFile(path string, s *coefficient.Set, f Format) error {
	data, err := Encode(s, f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "write coefficient file").WithDetail(path)
	}
	return nil
}

// Zero returns a template set with all coefficients zero.
func Zero(name, ion string) *coefficient.Set {
	return coefficient.NewSet(name, ion)
}
