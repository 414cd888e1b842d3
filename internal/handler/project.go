package handler

import (
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

type ProjectHandler struct {
	store *service.Store
}

func NewProjectHandler(store *service.Store) *ProjectHandler {
	return &ProjectHandler{store: store}
}

// POST /projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req service.ProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.store.CreateProject(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, p)
}

// GET /projects
func (h *ProjectHandler) List(c *gin.Context) {
	page, pageSize := parsePage(c)
	all := h.store.ListProjects()
	SuccessPaged(c, paginate(all, page, pageSize), int64(len(all)), page, pageSize)
}

// GET /projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	p, err := h.store.GetProject(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// PUT /projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	var patch service.ProjectPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.store.UpdateProject(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// DELETE /projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteProject(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"project_id": id, "deleted": true})
}

// GET /projects/:id/hierarchy
func (h *ProjectHandler) Hierarchy(c *gin.Context) {
	tree, err := h.store.Hierarchy(c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, tree)
}
