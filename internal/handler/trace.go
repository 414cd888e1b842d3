package handler

import (
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

type TraceHandler struct {
	store *service.Store
}

func NewTraceHandler(store *service.Store) *TraceHandler {
	return &TraceHandler{store: store}
}

// POST /projects/:id/traces
func (h *TraceHandler) Create(c *gin.Context) {
	var req service.TraceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t, err := h.store.CreateTrace(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, t)
}

// GET /projects/:id/traces?requirement_id=
func (h *TraceHandler) List(c *gin.Context) {
	h.list(c, c.Query("requirement_id"))
}

// GET /projects/:id/requirements/:rid/traces
func (h *TraceHandler) ListForRequirement(c *gin.Context) {
	h.list(c, c.Param("rid"))
}

func (h *TraceHandler) list(c *gin.Context, requirementID string) {
	traces, err := h.store.ListTraces(c.Param("id"), requirementID)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, traces)
}

// GET /projects/:id/traces/:tid
func (h *TraceHandler) Get(c *gin.Context) {
	t, err := h.store.GetTrace(c.Param("id"), c.Param("tid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}

// PUT /projects/:id/traces/:tid
func (h *TraceHandler) Update(c *gin.Context) {
	var patch service.TracePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t, err := h.store.UpdateTrace(c.Request.Context(), c.Param("id"), c.Param("tid"), patch)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}

// DELETE /projects/:id/traces/:tid
func (h *TraceHandler) Delete(c *gin.Context) {
	id := c.Param("tid")
	if err := h.store.DeleteTrace(c.Request.Context(), c.Param("id"), id); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"trace_id": id, "deleted": true})
}
