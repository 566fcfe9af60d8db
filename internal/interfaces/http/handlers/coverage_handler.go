package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appcov "github.com/turtacn/mbnrg-pip/internal/application/coverage"
)

// CoverageHandler serves /api/v1/coefficient-sets/:id/coverage. A nil
// service answers 503.
type CoverageHandler struct {
	svc appcov.Service
}

func NewCoverageHandler(svc appcov.Service) *CoverageHandler {
	return &CoverageHandler{svc: svc}
}

type IngestRequest struct {
	Source    string      `json:"source"`
	Variables [][]float64 `json:"variables,omitempty"`
	Fragments []string    `json:"fragments,omitempty"`
}

// Ingest handles POST /api/v1/coefficient-sets/:id/coverage.
func (h *CoverageHandler) Ingest(c *gin.Context) {
	if h.svc == nil {
		unavailable(c, "coverage index")
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req IngestRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.svc.Ingest(c.Request.Context(), &appcov.IngestInput{
		SetID:     id,
		Source:    req.Source,
		Variables: req.Variables,
		Fragments: req.Fragments,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// List handles GET /api/v1/coefficient-sets/:id/coverage.
func (h *CoverageHandler) List(c *gin.Context) {
	if h.svc == nil {
		unavailable(c, "coverage index")
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	batches, err := h.svc.ListBatches(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"batches": batches})
}
