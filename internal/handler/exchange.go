package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/gin-gonic/gin"
)

// ExchangeHandler moves whole projects in and out.
type ExchangeHandler struct {
	store *service.Store
}

func NewExchangeHandler(store *service.Store) *ExchangeHandler {
	return &ExchangeHandler{store: store}
}

var extensions = map[string]string{
	service.FormatJSON:     "json",
	service.FormatYAML:     "yaml",
	service.FormatMarkdown: "md",
}

// GET /projects/:id/export?format=json|yaml|markdown&sections=metadata,requirements,traces
func (h *ExchangeHandler) Export(c *gin.Context) {
	opts := service.ExportOptions{Format: strings.ToLower(c.DefaultQuery("format", service.FormatJSON))}
	if raw := c.Query("sections"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.Sections = append(opts.Sections, s)
			}
		}
	}
	id := c.Param("id")
	data, contentType, err := h.store.Export(id, opts)
	if err != nil {
		Fail(c, err)
		return
	}
	if ext, ok := extensions[opts.Format]; ok {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+ext))
	}
	c.Data(http.StatusOK, contentType, data)
}

// POST /import?project_id=&name=
func (h *ExchangeHandler) Import(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		BadRequest(c, "read body: "+err.Error())
		return
	}
	res, err := h.store.Import(c.Request.Context(), data, service.ImportOptions{
		ProjectID: c.Query("project_id"),
		Name:      c.Query("name"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, res)
}
