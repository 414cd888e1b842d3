package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
)

// API reads entities over the HTTP interface.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *API) Requirement(ctx context.Context, projectID, id string) (*model.Requirement, error) {
	var r model.Requirement
	path := fmt.Sprintf("/api/v1/projects/%s/requirements/%s", url.PathEscape(projectID), url.PathEscape(id))
	if err := a.get(ctx, path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (a *API) Project(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := a.get(ctx, "/api/v1/projects/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *API) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return apperr.Internal("build request", err)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return apperr.Transient("GET "+path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apperr.Transient(fmt.Sprintf("GET %s: status %d", path, resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return statusError(resp.StatusCode, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Internal("decode "+path, err)
	}
	return nil
}

func statusError(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusConflict:
		return apperr.Conflict(apperr.ReasonNone, msg)
	case http.StatusBadRequest:
		return apperr.Invalid(msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return apperr.Transient(msg, nil)
	}
	return apperr.Internal(msg, fmt.Errorf("status %d", status))
}
