package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/codeMaster/reqtrace/internal/graph"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func newStore(t *testing.T) *service.Store {
	t.Helper()
	s := service.NewStore(service.Options{})
	ctx := context.Background()
	_, err := s.CreateProject(ctx, service.ProjectInput{ID: "P1", Name: "Portal"})
	require.NoError(t, err)
	_, err = s.CreateRequirement(ctx, "P1", service.RequirementInput{ID: "A", Title: "Accounts"})
	require.NoError(t, err)
	_, err = s.CreateRequirement(ctx, "P1", service.RequirementInput{ID: "B", Title: "Login", ParentID: "A", Tags: []string{"auth"}})
	require.NoError(t, err)
	return s
}

func TestDefinitions(t *testing.T) {
	s := newStore(t)
	defs := map[string]tool{
		"req_list_projects":      NewListProjectsTool(s),
		"req_list_requirements":  NewListRequirementsTool(s),
		"req_get_requirement":    NewGetRequirementTool(s),
		"req_create_requirement": NewCreateRequirementTool(s),
		"req_validate":           NewValidateTool(s),
		"req_impact":             NewImpactTool(s),
		"req_export":             NewExportTool(s),
	}
	for name, tl := range defs {
		def := tl.Definition()
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.Description, name)
	}
	assert.Contains(t, NewImpactTool(s).Definition().InputSchema.Required, "requirement_id")
}

func TestListRequirements_Filter(t *testing.T) {
	s := newStore(t)
	res, err := NewListRequirementsTool(s).Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1",
		"tag":        "auth",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var list []model.Requirement
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "B", list[0].ID)
}

func TestCreateRequirement(t *testing.T) {
	s := newStore(t)
	tl := NewCreateRequirementTool(s)

	res, err := tl.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1",
		"title":      "Logout",
		"parent_id":  "A",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	var r model.Requirement
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &r))
	assert.Equal(t, "A", r.ParentID)
	assert.Equal(t, "mcp", r.CreatedBy)

	res, err = tl.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1",
		"title":      "Orphan",
		"parent_id":  "missing",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "missing")
}

func TestValidate(t *testing.T) {
	s := newStore(t)
	tl := NewValidateTool(s)

	res, err := tl.Handle(context.Background(), makeReq(map[string]interface{}{"text": ""}))
	require.NoError(t, err)
	var report model.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &report))
	assert.Zero(t, report.Score)
	assert.False(t, report.Passed)

	res, err = tl.Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1", "requirement_id": "B", "attach": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	r, err := s.GetRequirement("P1", "B")
	require.NoError(t, err)
	assert.NotNil(t, r.LastValidation)

	res, err = tl.Handle(context.Background(), makeReq(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestImpact(t *testing.T) {
	s := newStore(t)
	res, err := NewImpactTool(s).Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1", "requirement_id": "B", "hops": float64(1),
	}))
	require.NoError(t, err)
	var impact graph.Impact
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &impact))
	assert.Equal(t, []string{"A"}, impact.Ancestors)

	res, err = NewImpactTool(s).Handle(context.Background(), makeReq(map[string]interface{}{
		"project_id": "P1", "requirement_id": "Z",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestExport_DefaultsToMarkdown(t *testing.T) {
	s := newStore(t)
	res, err := NewExportTool(s).Handle(context.Background(), makeReq(map[string]interface{}{"project_id": "P1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "# Portal")
}

func TestNewServer(t *testing.T) {
	s := NewServer(newStore(t), "test")
	require.NotNil(t, s)
	assert.NotNil(t, Handler(s))
}
