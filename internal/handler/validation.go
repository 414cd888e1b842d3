package handler

import (
	"errors"
	"io"

	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

type ValidationHandler struct {
	store *service.Store
}

func NewValidationHandler(store *service.Store) *ValidationHandler {
	return &ValidationHandler{store: store}
}

// criteriaRequest leaves unset checks at their default (enabled).
type criteriaRequest struct {
	Completeness  *bool `json:"check_completeness"`
	Verifiability *bool `json:"check_verifiability"`
	Clarity       *bool `json:"check_clarity"`
}

func (r criteriaRequest) criteria() model.Criteria {
	c := model.DefaultCriteria()
	if r.Completeness != nil {
		c.Completeness = *r.Completeness
	}
	if r.Verifiability != nil {
		c.Verifiability = *r.Verifiability
	}
	if r.Clarity != nil {
		c.Clarity = *r.Clarity
	}
	return c
}

type validateRequest struct {
	criteriaRequest
	Attach bool `json:"attach"`
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

// POST /validate
func (h *ValidationHandler) Text(c *gin.Context) {
	var req struct {
		criteriaRequest
		Text *string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	Success(c, h.store.ValidateText(*req.Text, req.criteria()))
}

// POST /projects/:id/requirements/:rid/validate
func (h *ValidationHandler) Requirement(c *gin.Context) {
	var req validateRequest
	if !bindOptional(c, &req) {
		return
	}
	report, err := h.store.ValidateRequirement(c.Request.Context(), c.Param("id"), c.Param("rid"), req.criteria(), req.Attach)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"requirement_id": c.Param("rid"), "report": report, "attached": req.Attach})
}

// POST /projects/:id/validate
func (h *ValidationHandler) Project(c *gin.Context) {
	var req validateRequest
	if !bindOptional(c, &req) {
		return
	}
	results, summary, err := h.store.ValidateProject(c.Request.Context(), c.Param("id"), req.criteria(), req.Attach)
	if err != nil {
		Fail(c, err)
		return
	}
	if results == nil {
		results = []model.RequirementValidation{}
	}
	Success(c, gin.H{"project_id": c.Param("id"), "results": results, "summary": summary})
}
