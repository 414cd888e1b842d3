// Package mcptools exposes the requirement store to agents as MCP tools.
//
// Each tool is a struct holding the store, with Definition returning the
// schema and Handle serving a call. Failures come back as tool errors, not
// protocol errors, so the agent can read and correct them.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// ListProjectsTool handles req_list_projects.
type ListProjectsTool struct {
	store *service.Store
}

func NewListProjectsTool(store *service.Store) *ListProjectsTool {
	return &ListProjectsTool{store: store}
}

func (t *ListProjectsTool) Definition() mcp.Tool {
	return mcp.NewTool("req_list_projects",
		mcp.WithDescription("List every project with its requirement count."),
	)
}

func (t *ListProjectsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.store.ListProjects())
}

// ListRequirementsTool handles req_list_requirements.
type ListRequirementsTool struct {
	store *service.Store
}

func NewListRequirementsTool(store *service.Store) *ListRequirementsTool {
	return &ListRequirementsTool{store: store}
}

func (t *ListRequirementsTool) Definition() mcp.Tool {
	return mcp.NewTool("req_list_requirements",
		mcp.WithDescription("List the requirements of a project, optionally filtered by status, type, priority or tag."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("status", mcp.Description("new, in-progress, completed, rejected")),
		mcp.WithString("requirement_type", mcp.Description("functional, non-functional, constraint")),
		mcp.WithString("priority", mcp.Description("low, medium, high, critical")),
		mcp.WithString("tag", mcp.Description("Only requirements carrying this tag")),
	)
}

func (t *ListRequirementsTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	list, err := t.store.ListRequirements(projectID, service.RequirementFilter{
		Status:   model.Status(req.GetString("status", "")),
		Type:     model.RequirementType(req.GetString("requirement_type", "")),
		Priority: model.Priority(req.GetString("priority", "")),
		Tag:      req.GetString("tag", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

// GetRequirementTool handles req_get_requirement.
type GetRequirementTool struct {
	store *service.Store
}

func NewGetRequirementTool(store *service.Store) *GetRequirementTool {
	return &GetRequirementTool{store: store}
}

func (t *GetRequirementTool) Definition() mcp.Tool {
	return mcp.NewTool("req_get_requirement",
		mcp.WithDescription("Show one requirement with its history and last validation report."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("requirement_id", mcp.Required(), mcp.Description("Requirement ID")),
	)
}

func (t *GetRequirementTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	id := req.GetString("requirement_id", "")
	if projectID == "" || id == "" {
		return mcp.NewToolResultError("'project_id' and 'requirement_id' are required"), nil
	}
	r, err := t.store.GetRequirement(projectID, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

// CreateRequirementTool handles req_create_requirement.
type CreateRequirementTool struct {
	store *service.Store
}

func NewCreateRequirementTool(store *service.Store) *CreateRequirementTool {
	return &CreateRequirementTool{store: store}
}

func (t *CreateRequirementTool) Definition() mcp.Tool {
	return mcp.NewTool("req_create_requirement",
		mcp.WithDescription(
			"Add a requirement to a project. The parent must exist in the same project; "+
				"the requirement is stored even if its text would fail quality validation.",
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
		mcp.WithString("description", mcp.Description("Requirement text")),
		mcp.WithString("requirement_type", mcp.Description("functional (default), non-functional, constraint")),
		mcp.WithString("priority", mcp.Description("low, medium (default), high, critical")),
		mcp.WithString("parent_id", mcp.Description("Parent requirement ID")),
		mcp.WithString("created_by", mcp.Description("Author")),
	)
}

func (t *CreateRequirementTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	r, err := t.store.CreateRequirement(ctx, projectID, service.RequirementInput{
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
		Type:        model.RequirementType(req.GetString("requirement_type", "")),
		Priority:    model.Priority(req.GetString("priority", "")),
		ParentID:    req.GetString("parent_id", ""),
		CreatedBy:   req.GetString("created_by", "mcp"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

// ValidateTool handles req_validate.
type ValidateTool struct {
	store *service.Store
}

func NewValidateTool(store *service.Store) *ValidateTool {
	return &ValidateTool{store: store}
}

func (t *ValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("req_validate",
		mcp.WithDescription(
			"Score requirement text for completeness, verifiability and clarity. "+
				"Pass either 'text', or 'project_id' and 'requirement_id' to score a stored requirement.",
		),
		mcp.WithString("text", mcp.Description("Free text to score")),
		mcp.WithString("project_id", mcp.Description("Project ID")),
		mcp.WithString("requirement_id", mcp.Description("Requirement ID")),
		mcp.WithBoolean("attach", mcp.Description("Store the report on the requirement (default: false)")),
	)
}

func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	criteria := model.DefaultCriteria()
	projectID := req.GetString("project_id", "")
	id := req.GetString("requirement_id", "")
	if projectID != "" && id != "" {
		report, err := t.store.ValidateRequirement(ctx, projectID, id, criteria, boolArg(req, "attach", false))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(report)
	}
	text, ok := req.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("pass 'text', or 'project_id' with 'requirement_id'"), nil
	}
	return jsonResult(t.store.ValidateText(text, criteria))
}

// ImpactTool handles req_impact.
type ImpactTool struct {
	store *service.Store
}

func NewImpactTool(store *service.Store) *ImpactTool {
	return &ImpactTool{store: store}
}

func (t *ImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("req_impact",
		mcp.WithDescription(
			"List the requirements a change may affect: ancestors, descendants and everything "+
				"reachable over trace links within the hop limit.",
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("requirement_id", mcp.Required(), mcp.Description("Requirement ID")),
		mcp.WithNumber("hops", mcp.Description("Trace hop limit (default: 1)")),
	)
}

func (t *ImpactTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	id := req.GetString("requirement_id", "")
	if projectID == "" || id == "" {
		return mcp.NewToolResultError("'project_id' and 'requirement_id' are required"), nil
	}
	hops := intArg(req, "hops", 1)
	if hops < 0 {
		return mcp.NewToolResultError("'hops' must not be negative"), nil
	}
	impact, err := t.store.Impact(projectID, id, hops)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(impact)
}

// ExportTool handles req_export.
type ExportTool struct {
	store *service.Store
}

func NewExportTool(store *service.Store) *ExportTool {
	return &ExportTool{store: store}
}

func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool("req_export",
		mcp.WithDescription("Render a project as markdown (default), yaml or json."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("format", mcp.Description("markdown, yaml or json")),
	)
}

func (t *ExportTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	data, _, err := t.store.Export(projectID, service.ExportOptions{Format: req.GetString("format", service.FormatMarkdown)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
