package service

import (
	"context"
	"errors"
	"strings"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/model"
	"github.com/codeMaster/reqtrace/internal/refine"
)

type RefineResult struct {
	RequirementID string             `json:"requirement_id"`
	Original      string             `json:"original_text"`
	Refined       string             `json:"refined_text"`
	Notes         string             `json:"notes,omitempty"`
	Applied       bool               `json:"applied"`
	Requirement   *model.Requirement `json:"requirement,omitempty"`
}

// Refine asks the text-transform service for a revised description. The
// remote call runs without any lock held. With apply the suggestion replaces
// the description, unless the description changed during the call, which is
// reported as a stale write.
func (s *Store) Refine(ctx context.Context, projectID, id, feedback string, apply bool) (*RefineResult, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, apperr.Invalid("feedback is required", id)
	}
	var req refine.Request
	err := s.read(projectID, func(st *projectState) error {
		r, ok := st.requirements[id]
		if !ok {
			return apperr.NotFound("requirement not found", id)
		}
		req = refine.Request{Title: r.Title, Text: r.Description, Feedback: feedback}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.refiner.Refine(ctx, req)
	if err != nil {
		if errors.Is(err, refine.ErrDisabled) {
			return nil, apperr.Transient("text-transform service unavailable", err)
		}
		s.logger.Warn("refine failed", "project_id", projectID, "requirement_id", id, "error", err)
		return nil, apperr.Transient("text-transform call failed", err)
	}
	out := &RefineResult{RequirementID: id, Original: req.Text, Refined: res.Text, Notes: res.Notes}
	if !apply {
		return out, nil
	}

	err = s.write(ctx, projectID, "refine", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		cur, ok := st.requirements[id]
		if !ok {
			return nil, apperr.NotFound("requirement not found", id)
		}
		if cur.Description != req.Text {
			return nil, apperr.Conflict(apperr.ReasonStaleWrite, "description changed while refining; retry", id)
		}
		r := cur.Clone()
		r.Description = res.Text
		r.UpdatedAt = s.now()
		r.AddHistory("refined", "Refined with feedback: "+feedback, r.UpdatedAt)
		cs := &changeset{putReqs: []*model.Requirement{r}}
		cs.event(projectID, model.EntityRequirement, id, model.OpUpdated, r.UpdatedAt)
		out.Requirement = r.Clone()
		return cs, nil
	})
	if err != nil {
		return nil, err
	}
	out.Applied = true
	return out, nil
}
