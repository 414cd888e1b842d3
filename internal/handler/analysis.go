package handler

import (
	"strconv"

	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

// AnalysisHandler answers hierarchy and impact questions about one
// requirement.
type AnalysisHandler struct {
	store *service.Store
}

func NewAnalysisHandler(store *service.Store) *AnalysisHandler {
	return &AnalysisHandler{store: store}
}

// GET /projects/:id/requirements/:rid/ancestors
func (h *AnalysisHandler) Ancestors(c *gin.Context) {
	ids, err := h.store.Ancestors(c.Param("id"), c.Param("rid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"requirement_id": c.Param("rid"), "ancestors": ids})
}

// GET /projects/:id/requirements/:rid/descendants
func (h *AnalysisHandler) Descendants(c *gin.Context) {
	ids, err := h.store.Descendants(c.Param("id"), c.Param("rid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"requirement_id": c.Param("rid"), "descendants": ids})
}

// GET /projects/:id/requirements/:rid/children
func (h *AnalysisHandler) Children(c *gin.Context) {
	list, err := h.store.Children(c.Param("id"), c.Param("rid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, list)
}

// GET /projects/:id/requirements/:rid/impact?hops=1
func (h *AnalysisHandler) Impact(c *gin.Context) {
	hops, err := strconv.Atoi(c.DefaultQuery("hops", "1"))
	if err != nil || hops < 0 {
		BadRequest(c, "hops must be a non-negative integer")
		return
	}
	impact, err := h.store.Impact(c.Param("id"), c.Param("rid"), hops)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, impact)
}

// GET /projects/:id/requirements/:rid/dependents
func (h *AnalysisHandler) Dependents(c *gin.Context) {
	deps, err := h.store.Dependents(c.Param("id"), c.Param("rid"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, deps)
}
