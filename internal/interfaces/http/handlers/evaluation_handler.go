package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/application/evaluation"
)

type EvaluationHandler struct {
	svc evaluation.Service
}

func NewEvaluationHandler(svc evaluation.Service) *EvaluationHandler {
	return &EvaluationHandler{svc: svc}
}

// Evaluate handles POST /api/v1/evaluate.
func (h *EvaluationHandler) Evaluate(c *gin.Context) {
	var req evaluation.Request
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Evaluate(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, res)
}

type BatchRequest struct {
	Requests []*evaluation.Request `json:"requests"`
}

type BatchResponse struct {
	Results []*evaluation.Result `json:"results"`
}

// EvaluateBatch handles POST /api/v1/evaluate/batch.
func (h *EvaluationHandler) EvaluateBatch(c *gin.Context) {
	var req BatchRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.EvaluateBatch(c.Request.Context(), req.Requests)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, BatchResponse{Results: res})
}

// GradCheck handles POST /api/v1/gradcheck.
func (h *EvaluationHandler) GradCheck(c *gin.Context) {
	var req evaluation.GradCheckRequest
	if !bindJSON(c, &req) {
		return
	}
	rep, err := h.svc.GradCheck(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, rep)
}
