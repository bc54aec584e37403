package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusFetching.Terminal())
	assert.False(t, StatusExtracting.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusSkipped.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSiteJobTransitionsAreMonotonic(t *testing.T) {
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	assert.Equal(t, StatusPending, job.Status())

	assert.True(t, job.Transition(StatusFetching))
	assert.False(t, job.Transition(StatusPending), "regression refused")
	assert.False(t, job.Transition(StatusFetching), "same rank refused")
	assert.True(t, job.Transition(StatusExtracting))
	assert.Equal(t, StatusExtracting, job.Status())
}

func TestSiteJobFirstTerminalWins(t *testing.T) {
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	job.Transition(StatusFetching)

	require.True(t, job.Finish(StatusFailed, ReasonTimeout))
	assert.False(t, job.Finish(StatusDone, ""), "second terminal refused")
	assert.False(t, job.Transition(StatusExtracting), "no transitions out of terminal")

	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, ReasonTimeout, job.Reason())
}

func TestSiteJobFinishRejectsNonTerminal(t *testing.T) {
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)

	assert.False(t, job.Finish(StatusFetching, ""))
	assert.Equal(t, StatusPending, job.Status())
}

func TestSiteJobOutcome(t *testing.T) {
	job := NewSiteJob("https://alpha.com/search", "Alpha", 10)
	job.Transition(StatusFetching)
	job.Transition(StatusExtracting)
	job.SetStrategy("structured_data")
	job.SetProductCount(4)
	require.True(t, job.Finish(StatusDone, ""))

	outcome := job.Outcome()
	assert.Equal(t, SiteOutcome{
		SiteLabel: "Alpha",
		URL:       "https://alpha.com/search",
		Status:    StatusDone,
		Strategy:  "structured_data",
		Products:  4,
	}, outcome)
}
