package coeffs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/turtacn/mbnrg-pip/internal/domain/coefficient"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/geometry"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

// .dat header keys. Transform parameters use the class name with two
// values, "# ox: 0.7 2.4"; the switch is "# switch: 0 5".
const (
	datKeyName      = "name"
	datKeyIon       = "ion"
	datKeyDesc      = "description"
	datKeySignature = "basis_signature"
	datKeySwitch    = "switch"
)

func decodeDat(data []byte) (*coefficient.Set, error) {
	s := coefficient.NewSet("", "")
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if err := applyHeader(s, strings.TrimSpace(text[1:]), line); err != nil {
				return nil, err
			}
			continue
		}
		// Trailing comments after the value are allowed.
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		for _, field := range strings.Fields(text) {
			v, err := parseFloat(field)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "invalid coefficient").
					WithDetail(fmt.Sprintf("line %d: %q", line, field))
			}
			if n < pip.Size {
				s.Coefficients[n] = v
			}
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "read dat coefficient document")
	}
	if n != pip.Size {
		return nil, countMismatch(n)
	}
	return s, nil
}

// parseFloat also accepts Fortran exponents such as 1.5D-03.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.NewReplacer("D", "e", "d", "e").Replace(s), 64)
}

func applyHeader(s *coefficient.Set, text string, line int) error {
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return nil
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case datKeyName:
		s.Name = value
	case datKeyIon:
		s.Ion = value
	case datKeyDesc:
		s.Description = value
	case datKeySignature:
		s.BasisSignature = value
	case datKeySwitch:
		a, b, err := parsePair(value, line)
		if err != nil {
			return err
		}
		s.Switch.Inner, s.Switch.Outer = a, b
	default:
		c, ok := geometry.ParsePairClass(key)
		if !ok {
			// Free-form comments such as "# fitted: 2019-04-02" are kept out
			// of the set.
			return nil
		}
		k, d0, err := parsePair(value, line)
		if err != nil {
			return err
		}
		s.Params.Set(c, geometry.Morse{K: k, D0: d0})
	}
	return nil
}

func parsePair(value string, line int) (float64, float64, error) {
	f := strings.Fields(value)
	if len(f) != 2 {
		return 0, 0, errors.New(errors.ErrCodeCoeffParseFailed, "header needs two values").
			WithDetail(fmt.Sprintf("line %d: %q", line, value))
	}
	a, err := parseFloat(f[0])
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "invalid header value").
			WithDetail(fmt.Sprintf("line %d: %q", line, f[0]))
	}
	b, err := parseFloat(f[1])
	if err != nil {
		return 0, 0, errors.Wrap(err, errors.ErrCodeCoeffParseFailed, "invalid header value").
			WithDetail(fmt.Sprintf("line %d: %q", line, f[1]))
	}
	return a, b, nil
}

func encodeDat(w io.Writer, s *coefficient.Set) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s: %s\n", datKeyName, s.Name)
	if s.Ion != "" {
		fmt.Fprintf(bw, "# %s: %s\n", datKeyIon, s.Ion)
	}
	if s.Description != "" {
		fmt.Fprintf(bw, "# %s: %s\n", datKeyDesc, strings.ReplaceAll(s.Description, "\n", " "))
	}
	fmt.Fprintf(bw, "# %s: %s\n", datKeySignature, pip.Signature())
	for c := geometry.PairClass(0); c < geometry.NumClasses; c++ {
		m := s.Params.For(c)
		fmt.Fprintf(bw, "# %s: %s %s\n", c, formatFloat(m.K), formatFloat(m.D0))
	}
	fmt.Fprintf(bw, "# %s: %s %s\n", datKeySwitch, formatFloat(s.Switch.Inner), formatFloat(s.Switch.Outer))
	for _, a := range s.Coefficients {
		bw.WriteString(formatFloat(a))
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write dat coefficient document")
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
