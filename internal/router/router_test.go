package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codeMaster/reqtrace/internal/hub"
	"github.com/codeMaster/reqtrace/internal/mcptools"
	"github.com/codeMaster/reqtrace/internal/service"
	"github.com/codeMaster/reqtrace/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type errData struct {
	Kind   string   `json:"kind"`
	Reason string   `json:"reason"`
	IDs    []string `json:"ids"`
}

type api struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := hub.New(hub.Options{})
	store := service.NewStore(service.Options{Notifier: h})
	r := gin.New()
	Setup(r, Deps{
		Store:   store,
		Hub:     h,
		WS:      ws.NewServer(h, store, ws.Options{}),
		Version: "test",
		MCP:     mcptools.Handler(mcptools.NewServer(store, "test")),
	})
	return &api{t: t, r: r}
}

func (a *api) raw(method, path string, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *api) do(method, path string, body any) (int, envelope) {
	a.t.Helper()
	var payload string
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		payload = string(data)
	}
	w := a.raw(method, path, payload)
	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (a *api) ok(method, path string, body any, out any) {
	a.t.Helper()
	code, env := a.do(method, path, body)
	require.Less(a.t, code, 300, "%s %s: %s", method, path, env.Message)
	require.Zero(a.t, env.Code)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
}

func (a *api) fail(method, path string, body any, wantStatus, wantCode int) errData {
	a.t.Helper()
	code, env := a.do(method, path, body)
	require.Equal(a.t, wantStatus, code, env.Message)
	require.Equal(a.t, wantCode, env.Code, env.Message)
	var d errData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		require.NoError(a.t, json.Unmarshal(env.Data, &d))
	}
	return d
}

func (a *api) seed() {
	a.ok("POST", "/api/v1/projects", gin.H{"project_id": "P1", "name": "Portal"}, nil)
	a.ok("POST", "/api/v1/projects/P1/requirements", gin.H{"requirement_id": "A", "title": "Accounts", "description": "The system shall store accounts."}, nil)
	a.ok("POST", "/api/v1/projects/P1/requirements", gin.H{"requirement_id": "B", "title": "Login", "parent_id": "A", "tags": []string{"auth"}}, nil)
}

func TestProjects(t *testing.T) {
	a := newAPI(t)
	var p struct {
		ID   string `json:"project_id"`
		Name string `json:"name"`
	}
	a.ok("POST", "/api/v1/projects", gin.H{"project_id": "P1", "name": "Portal"}, &p)
	assert.Equal(t, "P1", p.ID)

	a.fail("POST", "/api/v1/projects", gin.H{"name": "portal"}, http.StatusConflict, 40904)

	var page struct {
		Total int64             `json:"total"`
		List  []json.RawMessage `json:"list"`
	}
	a.ok("GET", "/api/v1/projects?page=1&page_size=10", nil, &page)
	assert.Equal(t, int64(1), page.Total)
	assert.Len(t, page.List, 1)

	a.ok("PUT", "/api/v1/projects/P1", gin.H{"name": "Portal v2"}, &p)
	assert.Equal(t, "Portal v2", p.Name)

	a.ok("DELETE", "/api/v1/projects/P1", nil, nil)
	d := a.fail("GET", "/api/v1/projects/P1", nil, http.StatusNotFound, 40401)
	assert.Equal(t, "not_found", d.Kind)
}

func TestCycleThenCascadeDelete(t *testing.T) {
	a := newAPI(t)
	a.seed()

	d := a.fail("PUT", "/api/v1/projects/P1/requirements/A", gin.H{"parent_id": "B"}, http.StatusConflict, 40901)
	assert.Equal(t, "cycle_detected", d.Reason)
	assert.Contains(t, d.IDs, "A")

	d = a.fail("DELETE", "/api/v1/projects/P1/requirements/A", nil, http.StatusConflict, 40905)
	assert.Equal(t, "has_dependents", d.Reason)
	assert.Equal(t, []string{"A", "B"}, d.IDs)

	a.fail("DELETE", "/api/v1/projects/P1/requirements/A?cascade=maybe", nil, http.StatusBadRequest, 40001)
	a.ok("DELETE", "/api/v1/projects/P1/requirements/A?cascade=true", nil, nil)

	var b struct {
		ParentID string `json:"parent_id"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/B", nil, &b)
	assert.Empty(t, b.ParentID)
	a.fail("GET", "/api/v1/projects/P1/requirements/A", nil, http.StatusNotFound, 40401)
}

func TestRequirementListAndGraph(t *testing.T) {
	a := newAPI(t)
	a.seed()

	var page struct {
		Total int64 `json:"total"`
		List  []struct {
			ID string `json:"requirement_id"`
		} `json:"list"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements?tag=auth", nil, &page)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "B", page.List[0].ID)

	var anc struct {
		Ancestors []string `json:"ancestors"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/B/ancestors", nil, &anc)
	assert.Equal(t, []string{"A"}, anc.Ancestors)

	var desc struct {
		Descendants []string `json:"descendants"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/B/descendants", nil, &desc)
	assert.Empty(t, desc.Descendants)

	var tree map[string][]string
	a.ok("GET", "/api/v1/projects/P1/hierarchy", nil, &tree)
	assert.Equal(t, []string{"A"}, tree["root"])
	assert.Equal(t, []string{"B"}, tree["A"])

	a.ok("POST", "/api/v1/projects/P1/requirements", gin.H{"requirement_id": "C", "title": "Audit"}, nil)
	a.ok("POST", "/api/v1/projects/P1/traces", gin.H{"trace_id": "T1", "source_id": "B", "target_id": "C", "trace_type": "relates"}, nil)

	var impact struct {
		All      []string `json:"all"`
		TraceIDs []string `json:"trace_ids"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/B/impact?hops=1", nil, &impact)
	assert.Equal(t, []string{"A", "C"}, impact.All)
	assert.Equal(t, []string{"T1"}, impact.TraceIDs)
	a.fail("GET", "/api/v1/projects/P1/requirements/B/impact?hops=-1", nil, http.StatusBadRequest, 40001)

	var deps struct {
		Children []string `json:"children"`
		Traces   []string `json:"traces"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/A/dependents", nil, &deps)
	assert.Equal(t, []string{"B"}, deps.Children)

	var traces []struct {
		ID string `json:"trace_id"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/C/traces", nil, &traces)
	require.Len(t, traces, 1)
	assert.Equal(t, "T1", traces[0].ID)
}

func TestTraces(t *testing.T) {
	a := newAPI(t)
	a.seed()

	a.fail("POST", "/api/v1/projects/P1/traces", gin.H{"source_id": "A", "target_id": "P2/X", "trace_type": "relates"}, http.StatusConflict, 40902)
	a.fail("POST", "/api/v1/projects/P1/traces", gin.H{"source_id": "A", "target_id": "A", "trace_type": "relates"}, http.StatusConflict, 40903)
	a.fail("POST", "/api/v1/projects/P1/traces", gin.H{"source_id": "A", "target_id": "Z", "trace_type": "relates"}, http.StatusNotFound, 40401)

	a.ok("POST", "/api/v1/projects/P1/traces", gin.H{"trace_id": "T1", "source_id": "A", "target_id": "B", "trace_type": "relates"}, nil)
	var tr struct {
		TraceType string `json:"trace_type"`
	}
	a.ok("PUT", "/api/v1/projects/P1/traces/T1", gin.H{"trace_type": "derives"}, &tr)
	assert.Equal(t, "derives", tr.TraceType)

	var list []json.RawMessage
	a.ok("GET", "/api/v1/projects/P1/traces", nil, &list)
	assert.Len(t, list, 1)

	a.ok("DELETE", "/api/v1/projects/P1/traces/T1", nil, nil)
	a.fail("GET", "/api/v1/projects/P1/traces/T1", nil, http.StatusNotFound, 40401)
}

func TestValidation(t *testing.T) {
	a := newAPI(t)
	a.seed()

	var report struct {
		Score  float64 `json:"score"`
		Passed bool    `json:"passed"`
		Issues []struct {
			Type string `json:"type"`
		} `json:"issues"`
	}
	a.ok("POST", "/api/v1/validate", gin.H{"text": ""}, &report)
	assert.Zero(t, report.Score)
	assert.False(t, report.Passed)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "completeness", report.Issues[0].Type)

	a.fail("POST", "/api/v1/validate", gin.H{}, http.StatusBadRequest, 40001)

	var one struct {
		Attached bool `json:"attached"`
	}
	a.ok("POST", "/api/v1/projects/P1/requirements/B/validate", gin.H{"attach": true}, &one)
	assert.True(t, one.Attached)

	var b struct {
		LastValidation *struct {
			Passed bool `json:"passed"`
		} `json:"last_validation"`
	}
	a.ok("GET", "/api/v1/projects/P1/requirements/B", nil, &b)
	require.NotNil(t, b.LastValidation)
	assert.False(t, b.LastValidation.Passed)

	// an empty body validates with the default criteria
	w := a.raw("POST", "/api/v1/projects/P1/validate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var run struct {
		Summary struct {
			Total int `json:"total_requirements"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, 2, run.Summary.Total)
}

func TestRefineUnavailable(t *testing.T) {
	a := newAPI(t)
	a.seed()
	d := a.fail("POST", "/api/v1/projects/P1/requirements/A/refine", gin.H{"feedback": "be specific"}, http.StatusServiceUnavailable, 50301)
	assert.Equal(t, "transient", d.Kind)
	a.fail("POST", "/api/v1/projects/P1/requirements/A/refine", gin.H{}, http.StatusBadRequest, 40001)
}

func TestExportImport(t *testing.T) {
	a := newAPI(t)
	a.seed()

	w := a.raw("GET", "/api/v1/projects/P1/export?format=markdown", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "P1.md")
	assert.Contains(t, w.Body.String(), "# Portal")

	w = a.raw("GET", "/api/v1/projects/P1/export?format=yaml&sections=requirements", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "requirement_id: A")

	a.fail("GET", "/api/v1/projects/P1/export?format=pdf", nil, http.StatusBadRequest, 40001)

	w = a.raw("GET", "/api/v1/projects/P1/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := w.Body.Bytes()

	req := httptest.NewRequest("POST", "/api/v1/import?project_id=P2&name=Portal+copy", bytes.NewReader(snapshot))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var b struct {
		ParentID string `json:"parent_id"`
	}
	a.ok("GET", "/api/v1/projects/P2/requirements/B", nil, &b)
	assert.Equal(t, "A", b.ParentID)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	a.seed()

	var h struct {
		Status       string `json:"status"`
		ProjectCount int    `json:"project_count"`
		Version      string `json:"version"`
	}
	a.ok("GET", "/health", nil, &h)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.ProjectCount)
	assert.Equal(t, "test", h.Version)

	w := a.raw("GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reqtrace_store_writes_total")
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t)
	w := a.raw("OPTIONS", "/api/v1/projects", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
