package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appcoeff "github.com/turtacn/mbnrg-pip/internal/application/coefficient"
	"github.com/turtacn/mbnrg-pip/internal/coeffs"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// CoefficientHandler serves /api/v1/coefficient-sets. A nil service
// answers 503.
type CoefficientHandler struct {
	svc appcoeff.Service
}

func NewCoefficientHandler(svc appcoeff.Service) *CoefficientHandler {
	return &CoefficientHandler{svc: svc}
}

func (h *CoefficientHandler) ready(c *gin.Context) bool {
	if h.svc == nil {
		unavailable(c, "coefficient storage")
		return false
	}
	return true
}

// Upload handles POST /api/v1/coefficient-sets. The body is the raw
// document; ?format selects yaml (default) or dat, and ?name, ?ion and
// ?description override the document.
func (h *CoefficientHandler) Upload(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	f := coeffs.FormatYAML
	if v := c.Query("format"); v != "" {
		var err error
		if f, err = coeffs.ParseFormat(v); err != nil {
			respondError(c, err)
			return
		}
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read request body"))
		return
	}
	sum, err := h.svc.Upload(c.Request.Context(), &appcoeff.UploadInput{
		Data:        data,
		Format:      f,
		Name:        c.Query("name"),
		Ion:         c.Query("ion"),
		Description: c.Query("description"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sum)
}

// List handles GET /api/v1/coefficient-sets.
func (h *CoefficientHandler) List(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	page, err := h.svc.List(c.Request.Context(), parsePagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, page)
}

// Get handles GET /api/v1/coefficient-sets/:id.
func (h *CoefficientHandler) Get(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	sum, err := h.svc.Describe(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, sum)
}

// Document handles GET /api/v1/coefficient-sets/:id/document and returns
// the set re-encoded in ?format (yaml by default).
func (h *CoefficientHandler) Document(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	f := coeffs.FormatYAML
	if v := c.Query("format"); v != "" {
		var err error
		if f, err = coeffs.ParseFormat(v); err != nil {
			respondError(c, err)
			return
		}
	}
	set, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	doc, err := coeffs.Encode(set, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, f.ContentType(), doc)
}

// Delete handles DELETE /api/v1/coefficient-sets/:id.
func (h *CoefficientHandler) Delete(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
