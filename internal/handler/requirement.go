package handler

import (
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

type RequirementHandler struct {
	store *service.Store
}

func NewRequirementHandler(store *service.Store) *RequirementHandler {
	return &RequirementHandler{store: store}
}

// POST /projects/:id/requirements
func (h *RequirementHandler) Create(c *gin.Context) {
	var req service.RequirementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	r, err := h.store.CreateRequirement(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, r)
}

// GET /projects/:id/requirements?status=&type=&priority=&tag=
func (h *RequirementHandler) List(c *gin.Context) {
	filter := service.RequirementFilter{
		Status:   model.Status(c.Query("status")),
		Type:     model.RequirementType(c.Query("type")),
		Priority: model.Priority(c.Query("priority")),
		Tag:      c.Query("tag"),
	}
	all, err := h.store.ListRequirements(c.Param("id"), filter)
	if err != nil {
		Fail(c, err)
		return
	}
	page, pageSize := parsePage(c)
	SuccessPaged(c, paginate(all, page, pageSize), int64(len(all)), page, pageSize)
}

// GET /projects/:id/requirements/:rid
func (h *RequirementHandler) Get(c *gin.Context) {
	r, err := h.store.GetRequirement(c.Param("id"), c.Param("rid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, r)
}

// PUT /projects/:id/requirements/:rid
func (h *RequirementHandler) Update(c *gin.Context) {
	var patch service.RequirementPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	r, err := h.store.UpdateRequirement(c.Request.Context(), c.Param("id"), c.Param("rid"), patch)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, r)
}

// DELETE /projects/:id/requirements/:rid?cascade=true
func (h *RequirementHandler) Delete(c *gin.Context) {
	cascade, ok := parseBool(c, "cascade")
	if !ok {
		return
	}
	id := c.Param("rid")
	if err := h.store.DeleteRequirement(c.Request.Context(), c.Param("id"), id, cascade); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"requirement_id": id, "deleted": true, "cascade": cascade})
}

// POST /projects/:id/requirements/:rid/refine
func (h *RequirementHandler) Refine(c *gin.Context) {
	var req struct {
		Feedback string `json:"feedback" binding:"required"`
		Apply    bool   `json:"apply"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.store.Refine(c.Request.Context(), c.Param("id"), c.Param("rid"), req.Feedback, req.Apply)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}
