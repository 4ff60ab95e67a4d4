package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchSummaryAdd(t *testing.T) {
	var s BatchSummary
	s.Add(EnrichmentOutcome{LinkID: "a", Status: OutcomeSuccess})
	s.Add(EnrichmentOutcome{LinkID: "b", Status: OutcomePartial, ErrorKind: ErrKindRateLimited})
	s.Add(EnrichmentOutcome{LinkID: "c", Status: OutcomeFailure, ErrorKind: ErrKindFetchFailed})
	s.Add(EnrichmentOutcome{LinkID: "d", Status: OutcomeFailure, ErrorKind: ErrKindFetchFailed})

	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.RateLimited)
	assert.Equal(t, 2, s.ByKind[ErrKindFetchFailed])
	assert.Len(t, s.Outcomes, 4)
}

func TestFieldPatchIsZero(t *testing.T) {
	assert.True(t, FieldPatch{}.IsZero())

	title := "t"
	assert.False(t, FieldPatch{Title: &title}.IsZero())
	assert.False(t, FieldPatch{ClearRepository: true}.IsZero())
	assert.False(t, FieldPatch{ResetFailures: true}.IsZero())
}

func TestFieldPatchFields(t *testing.T) {
	title := "t"
	stars := int64(3)
	p := FieldPatch{Title: &title, StarCount: &stars, ClearRepository: true}
	assert.Equal(t, []string{"title", "star_count", "repository_fields_cleared"}, p.Fields())
}

func TestFirstEnrichment(t *testing.T) {
	var l LinkRecord
	assert.True(t, l.FirstEnrichment())
}
