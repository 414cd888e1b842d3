// Package validation scores requirement text against quality criteria.
//
// Scoring is a pure function of (text, criteria, threshold): no clock, no
// randomness, and issues are emitted in a fixed order, so identical input
// always yields an identical report.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/codeMaster/reqtrace/internal/model"
)

// DefaultThreshold is the minimum overall score for a passing report.
const DefaultThreshold = 0.7

const (
	CriterionCompleteness  = "completeness"
	CriterionVerifiability = "verifiability"
	CriterionClarity       = "clarity"
)

const (
	minChars = 10
	minWords = 8

	// each vague term found costs this much clarity
	vaguePenalty = 0.25
	// an obligation without a measurable criterion is half verifiable
	obligationScore = 0.5
)

var (
	measurableTerms = []string{
		"measure", "measured", "test", "tested", "verify", "verified", "validate", "validated",
		"percent", "percentage", "seconds", "second", "minutes", "minute", "hours", "ms",
	}
	obligationTerms = []string{"shall", "must"}
	vagueTerms      = []string{
		"etc", "and so on", "and/or", "tbd", "maybe", "should", "could",
		"as appropriate", "if possible", "user-friendly", "various",
	}

	digitRe      = regexp.MustCompile(`[0-9]`)
	measurableRe = compileTerms(measurableTerms)
	obligationRe = compileTerms(obligationTerms)
	vagueRes     = compileEach(vagueTerms)
)

func termPattern(term string) string {
	return `(?:^|[^a-z0-9])` + regexp.QuoteMeta(term) + `(?:[^a-z0-9]|$)`
}

func compileTerms(terms []string) *regexp.Regexp {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = termPattern(t)
	}
	return regexp.MustCompile(strings.Join(parts, "|"))
}

func compileEach(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(terms))
	for i, t := range terms {
		out[i] = regexp.MustCompile(termPattern(t))
	}
	return out
}

type Engine struct {
	Threshold float64
}

// New returns an engine; a threshold outside (0, 1] falls back to DefaultThreshold.
func New(threshold float64) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{Threshold: threshold}
}

var defaultEngine = New(DefaultThreshold)

// Validate scores text with the default threshold.
func Validate(text string, criteria model.Criteria) model.ValidationReport {
	return defaultEngine.Validate(text, criteria)
}

// Validate computes the mean of the enabled sub-scores. With no criterion
// enabled the report passes vacuously with score 1.
func (e *Engine) Validate(text string, criteria model.Criteria) model.ValidationReport {
	report := model.ValidationReport{Criteria: criteria, Issues: []model.Issue{}}
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	var sum float64
	var n int
	add := func(score float64, issues []model.Issue) {
		sum += score
		n++
		report.Issues = append(report.Issues, issues...)
	}
	if criteria.Completeness {
		add(completeness(trimmed))
	}
	if criteria.Verifiability {
		add(verifiability(lower))
	}
	if criteria.Clarity {
		add(clarity(lower))
	}

	if n == 0 {
		report.Score = 1
	} else {
		report.Score = round(sum / float64(n))
	}
	report.Passed = report.Score >= e.Threshold
	return report
}

func completeness(text string) (float64, []model.Issue) {
	if text == "" {
		return 0, []model.Issue{{
			Type:       CriterionCompleteness,
			Message:    "Requirement text is empty",
			Suggestion: "Describe who needs what and the expected outcome",
		}}
	}
	if utf8.RuneCountInString(text) < minChars {
		return 0.2, []model.Issue{{
			Type:       CriterionCompleteness,
			Message:    "Description is too short",
			Suggestion: "Describe who needs what and the expected outcome",
		}}
	}
	words := len(strings.Fields(text))
	if words < minWords {
		return float64(words) / minWords, []model.Issue{{
			Type:       CriterionCompleteness,
			Message:    fmt.Sprintf("Requirement has only %d words", words),
			Suggestion: "State the actor, the action and the expected result",
		}}
	}
	return 1, nil
}

func verifiability(lower string) (float64, []model.Issue) {
	if lower == "" {
		return 0, []model.Issue{{
			Type:       CriterionVerifiability,
			Message:    "Requirement text is empty, nothing can be verified",
			Suggestion: "Add a measurable acceptance criterion such as a number with a unit or a test condition",
		}}
	}
	if digitRe.MatchString(lower) || measurableRe.MatchString(lower) {
		return 1, nil
	}
	if obligationRe.MatchString(lower) {
		return obligationScore, []model.Issue{{
			Type:       CriterionVerifiability,
			Message:    "Requirement states an obligation without a measurable acceptance criterion",
			Suggestion: "Add a number with a unit or a test condition",
		}}
	}
	return 0, []model.Issue{{
		Type:       CriterionVerifiability,
		Message:    "Requirement may not be easily verifiable",
		Suggestion: "Add a measurable acceptance criterion such as a number with a unit or a test condition",
	}}
}

func clarity(lower string) (float64, []model.Issue) {
	if lower == "" {
		return 0, []model.Issue{{
			Type:       CriterionClarity,
			Message:    "Requirement text is empty",
			Suggestion: "State the behaviour in precise, unambiguous terms",
		}}
	}
	var issues []model.Issue
	for i, re := range vagueRes {
		if re.MatchString(lower) {
			issues = append(issues, model.Issue{
				Type:       CriterionClarity,
				Message:    fmt.Sprintf("Requirement contains the vague term %q", vagueTerms[i]),
				Suggestion: fmt.Sprintf("Replace %q with a precise statement", vagueTerms[i]),
			})
		}
	}
	return math.Max(0, 1-vaguePenalty*float64(len(issues))), issues
}

func round(x float64) float64 {
	return math.Round(x*1000) / 1000
}
