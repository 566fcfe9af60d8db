package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type Switch struct {
	Inner float64 `json:"inner"`
	Outer float64 `json:"outer"`
}

// SetSummary is the metadata of a stored coefficient set. Params holds the
// transform parameters keyed as in the YAML document.
type SetSummary struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Ion            string                 `json:"ion"`
	Description    string                 `json:"description,omitempty"`
	Params         map[string]interface{} `json:"params"`
	Switch         Switch                 `json:"switch"`
	Checksum       string                 `json:"checksum"`
	BasisSignature string                 `json:"basis_signature"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Version        int                    `json:"version"`
}

type SetPage struct {
	Items    []*SetSummary `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// UploadOptions describe an uploaded document. Non-empty Name, Ion and
// Description override the document's own values.
type UploadOptions struct {
	Format      string // "yaml" (default) or "dat"
	Name        string
	Ion         string
	Description string
}

// CoverageBatch is one ingestion of training configurations.
type CoverageBatch struct {
	ID             string    `json:"id"`
	SetID          string    `json:"set_id"`
	Source         string    `json:"source,omitempty"`
	Configurations int       `json:"configurations"`
	CreatedAt      time.Time `json:"created_at"`
}

// CoverageIngest carries training configurations as variables or as
// fragments, never both.
type CoverageIngest struct {
	Source    string      `json:"source,omitempty"`
	Variables [][]float64 `json:"variables,omitempty"`
	Fragments []string    `json:"fragments,omitempty"`
}

// ---------------------------------------------------------------------------
// SetsClient
// ---------------------------------------------------------------------------

// SetsClient calls the /api/v1/coefficient-sets endpoints.
type SetsClient struct {
	client *Client
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid set id %q", ErrInvalidConfig, id)
	}
	return nil
}

func validateFormat(f string) error {
	switch f {
	case "", "yaml", "dat":
		return nil
	}
	return fmt.Errorf("%w: unsupported format %q", ErrInvalidConfig, f)
}

func contentType(format string) string {
	if format == "dat" {
		return "text/plain"
	}
	return "application/yaml"
}

// Upload stores a coefficient document.
func (s *SetsClient) Upload(ctx context.Context, doc []byte, opts UploadOptions) (*SetSummary, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
	}
	if err := validateFormat(opts.Format); err != nil {
		return nil, err
	}
	q := url.Values{}
	for k, v := range map[string]string{"format": opts.Format, "name": opts.Name, "ion": opts.Ion, "description": opts.Description} {
		if v != "" {
			q.Set(k, v)
		}
	}
	var out SetSummary
	err := s.client.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v1/coefficient-sets",
		query:       q,
		body:        doc,
		contentType: contentType(opts.Format),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SetsClient) Get(ctx context.Context, id string) (*SetSummary, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out SetSummary
	if err := s.client.get(ctx, "/api/v1/coefficient-sets/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns one page, newest first. Zero page or pageSize uses the
// server defaults.
func (s *SetsClient) List(ctx context.Context, page, pageSize int) (*SetPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out SetPage
	if err := s.client.get(ctx, "/api/v1/coefficient-sets", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Document downloads the set encoded as format ("yaml" by default).
func (s *SetsClient) Document(ctx context.Context, id, format string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	var q url.Values
	if format != "" {
		q = url.Values{"format": {format}}
	}
	var out []byte
	if err := s.client.get(ctx, "/api/v1/coefficient-sets/"+id+"/document", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SetsClient) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.client.delete(ctx, "/api/v1/coefficient-sets/"+id)
}

// IngestCoverage adds training configurations to the set's coverage index.
func (s *SetsClient) IngestCoverage(ctx context.Context, id string, in *CoverageIngest) (*CoverageBatch, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if in == nil || (len(in.Variables) == 0) == (len(in.Fragments) == 0) {
		return nil, fmt.Errorf("%w: exactly one of variables and fragments is required", ErrInvalidConfig)
	}
	var out CoverageBatch
	if err := s.client.post(ctx, "/api/v1/coefficient-sets/"+id+"/coverage", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SetsClient) ListCoverage(ctx context.Context, id string) ([]*CoverageBatch, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out struct {
		Batches []*CoverageBatch `json:"batches"`
	}
	if err := s.client.get(ctx, "/api/v1/coefficient-sets/"+id+"/coverage", nil, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}
