package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesKindAndReason(t *testing.T) {
	err := Conflict(ReasonCycleDetected, "parent would create a cycle", "A", "B")

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.NotErrorIs(t, err, ErrInvalidTrace)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("update requirement: %w", NotFound("requirement not found", "X"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, []string{"X"}, IDsOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, ReasonNone, ReasonOf(errors.New("boom")))
	assert.Nil(t, IDsOf(errors.New("boom")))
}

func TestError_Message(t *testing.T) {
	err := Conflict(ReasonHasDependents, "requirement is still referenced", "B", "T1")
	assert.Equal(t, "conflict/has_dependents: requirement is still referenced [B, T1]", err.Error())

	wrapped := Transient("write entities", errors.New("connection refused"))
	assert.Equal(t, "transient: write entities: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrTransient)
}
