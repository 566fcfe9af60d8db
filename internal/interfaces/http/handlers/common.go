// Package handlers holds the gin handlers of the mbpip HTTP API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/pkg/errors"
	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// respondError maps err to its HTTP status. Server-side failures are masked.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	resp := ErrorResponse{Code: string(code), RequestID: c.GetString(RequestIDKey)}

	var app *errors.AppError
	switch {
	case status >= 500 || !errors.As(err, &app):
		if code == errors.CodeUnknown {
			resp.Code = string(errors.ErrCodeInternal)
		}
		resp.Message = errors.DefaultMessageForCode(errors.ErrorCode(resp.Code))
	default:
		resp.Message = app.Message
		resp.Detail = app.Detail
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func pathID(c *gin.Context) (common.ID, bool) {
	id := common.ID(c.Param("id"))
	if err := id.Validate(); err != nil {
		respondError(c, errors.InvalidParam("invalid id").WithCause(err))
		return "", false
	}
	return id, true
}

func parsePagination(c *gin.Context) common.Pagination {
	p := common.Pagination{}
	if v, err := strconv.Atoi(c.Query("page")); err == nil {
		p.Page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil {
		p.PageSize = v
	}
	return p.Normalize()
}

func unavailable(c *gin.Context, what string) {
	respondError(c, errors.New(errors.ErrCodeServiceUnavailable, what+" is not configured"))
}

func ok(c *gin.Context, v interface{}) { c.JSON(http.StatusOK, v) }
