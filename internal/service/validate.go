package service

import (
	"context"
	"math"
	"sync"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/codeMaster/reqtrace/internal/metrics"
	"github.com/codeMaster/reqtrace/internal/model"
)

// ValidateText scores free text; nothing is stored.
func (s *Store) ValidateText(text string, criteria model.Criteria) model.ValidationReport {
	report := s.validator.Validate(text, criteria)
	metrics.ValidationScore.Observe(report.Score)
	return report
}

// ValidateRequirement scores the requirement's description. With attach the
// report replaces LastValidation and a history entry is appended; the
// requirement is stored either way, whatever the score.
func (s *Store) ValidateRequirement(ctx context.Context, projectID, id string, criteria model.Criteria, attach bool) (model.ValidationReport, error) {
	if !attach {
		var text string
		err := s.read(projectID, func(st *projectState) error {
			r, ok := st.requirements[id]
			if !ok {
				return apperr.NotFound("requirement not found", id)
			}
			text = r.Description
			return nil
		})
		if err != nil {
			return model.ValidationReport{}, err
		}
		report := s.ValidateText(text, criteria)
		report.ValidatedAt = s.now()
		return report, nil
	}

	var report model.ValidationReport
	err := s.write(ctx, projectID, "validate", model.EntityRequirement, func(st *projectState) (*changeset, error) {
		cur, ok := st.requirements[id]
		if !ok {
			return nil, apperr.NotFound("requirement not found", id)
		}
		report = s.ValidateText(cur.Description, criteria)
		r := s.withReport(cur, report)
		report = r.LastValidation.Clone()
		cs := &changeset{putReqs: []*model.Requirement{r}}
		cs.event(projectID, model.EntityRequirement, id, model.OpUpdated, r.UpdatedAt)
		return cs, nil
	})
	return report, err
}

type validationJob struct {
	id, title, text string
}

// ValidateProject scores every requirement of the project on the worker
// pool. With attach, reports are stored in one write; requirements whose
// description changed while scoring keep their previous report.
func (s *Store) ValidateProject(ctx context.Context, projectID string, criteria model.Criteria, attach bool) ([]model.RequirementValidation, model.ValidationSummary, error) {
	var jobs []validationJob
	err := s.read(projectID, func(st *projectState) error {
		for _, id := range sortedKeys(st.requirements) {
			r := st.requirements[id]
			jobs = append(jobs, validationJob{id: id, title: r.Title, text: r.Description})
		}
		return nil
	})
	if err != nil {
		return nil, model.ValidationSummary{}, err
	}

	results := make([]model.RequirementValidation, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		run := func() {
			defer wg.Done()
			results[i] = model.RequirementValidation{
				RequirementID: j.id,
				Title:         j.title,
				Report:        s.ValidateText(j.text, criteria),
			}
		}
		wg.Add(1)
		if s.pool == nil {
			run()
			continue
		}
		if err := s.pool.Submit(ctx, run); err != nil {
			wg.Done()
			wg.Wait()
			return nil, model.ValidationSummary{}, apperr.Transient("schedule validation", err)
		}
	}
	wg.Wait()

	now := s.now()
	for i := range results {
		results[i].Report.ValidatedAt = now
	}

	if attach && len(results) > 0 {
		err := s.write(ctx, projectID, "validate", model.EntityRequirement, func(st *projectState) (*changeset, error) {
			cs := &changeset{}
			for i, res := range results {
				cur, ok := st.requirements[res.RequirementID]
				if !ok || cur.Description != jobs[i].text {
					continue
				}
				r := s.withReport(cur, res.Report)
				cs.putReqs = append(cs.putReqs, r)
				cs.event(projectID, model.EntityRequirement, r.ID, model.OpUpdated, r.UpdatedAt)
			}
			return cs, nil
		})
		if err != nil {
			return nil, model.ValidationSummary{}, err
		}
	}
	return results, Summarize(results), nil
}

// Summarize counts passes, failures and issues per criterion.
func Summarize(results []model.RequirementValidation) model.ValidationSummary {
	sum := model.ValidationSummary{Total: len(results), IssuesByType: map[string]int{}}
	for _, r := range results {
		if r.Report.Passed {
			sum.Passed++
		} else {
			sum.Failed++
		}
		for _, is := range r.Report.Issues {
			sum.IssuesByType[is.Type]++
		}
	}
	sum.Readiness = model.ReadinessNeedsRefinement
	if sum.Total > 0 {
		sum.PassPercentage = math.Round(float64(sum.Passed)/float64(sum.Total)*10000) / 100
		if sum.PassPercentage >= model.ReadyPercentage {
			sum.Readiness = model.ReadinessReady
		}
	}
	return sum
}
