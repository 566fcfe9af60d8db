package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/pip"
)

type BasisHandler struct {
	info evaluation.BasisInfo
}

func NewBasisHandler() *BasisHandler {
	return &BasisHandler{info: evaluation.DescribeBasis()}
}

// Describe handles GET /api/v1/basis.
func (h *BasisHandler) Describe(c *gin.Context) { ok(c, h.info) }

// TermResponse is one basis function with its rendered form.
type TermResponse struct {
	pip.Term
	Expression string `json:"expression"`
}

// Term handles GET /api/v1/basis/terms/:index.
func (h *BasisHandler) Term(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, errors.InvalidParam("term index must be an integer"))
		return
	}
	t, found := pip.TermAt(i)
	if !found {
		respondError(c, errors.NotFound("term index out of range").WithDetail(c.Param("index")))
		return
	}
	ok(c, TermResponse{Term: t, Expression: t.String()})
}
