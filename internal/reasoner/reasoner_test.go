package reasoner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

func TestClassifyConnectivityWithManyAffectedSystems(t *testing.T) {
	c := Classify(
		[]string{"connection timeout", "unable to reach"},
		apptype.Context{AffectedSystems: []string{"api", "web", "worker", "cron"}},
	)
	assert.Equal(t, apptype.IssueConnectivity, c.IssueType)
	assert.Equal(t, apptype.SeverityHigh, c.Severity)
	assert.NotEmpty(t, c.RecommendedChecks)
}

func TestClassifyUnknown(t *testing.T) {
	c := Classify([]string{"something odd happened"}, apptype.Context{})
	assert.Equal(t, apptype.IssueUnknown, c.IssueType)
	assert.Empty(t, c.RecommendedChecks)
	assert.Equal(t, apptype.SeverityLow, c.Severity)
}

func TestClassifyPriorityOrdering(t *testing.T) {
	// Both connectivity ("timeout") and performance ("slow") keywords are
	// present; connectivity is earlier in the priority order.
	c := Classify([]string{"requests are slow and hit a timeout"}, apptype.Context{})
	assert.Equal(t, apptype.IssueConnectivity, c.IssueType)
}

func TestSeverityCascadeOrder(t *testing.T) {
	cases := []struct {
		name     string
		symptoms []string
		systems  int
		want     apptype.Severity
	}{
		{"critical word wins over error word", []string{"service is down with errors"}, 0, apptype.SeverityCritical},
		{"data loss is critical", []string{"possible data loss detected"}, 0, apptype.SeverityCritical},
		{"error word", []string{"requests failed"}, 0, apptype.SeverityHigh},
		{"unavailable", []string{"backend unavailable"}, 0, apptype.SeverityHigh},
		{"many affected systems", []string{"odd behavior"}, 4, apptype.SeverityHigh},
		{"three systems is not enough", []string{"odd behavior"}, 3, apptype.SeverityLow},
		{"degradation word", []string{"responses are intermittent"}, 0, apptype.SeverityMedium},
		{"critical beats degradation", []string{"intermittent outage"}, 0, apptype.SeverityCritical},
		{"default", []string{"minor cosmetic glitch"}, 0, apptype.SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			systems := make([]string, tc.systems)
			for i := range systems {
				systems[i] = "sys"
			}
			c := Classify(tc.symptoms, apptype.Context{AffectedSystems: systems})
			assert.Equal(t, tc.want, c.Severity)
		})
	}
}

func TestClassifyAuthentication(t *testing.T) {
	c := Classify([]string{"users getting 401 unauthorized"}, apptype.Context{})
	assert.Equal(t, apptype.IssueAuth, c.IssueType)
}

func TestClassifyResourceLimit(t *testing.T) {
	c := Classify([]string{"pods killed, out of memory"}, apptype.Context{})
	assert.Equal(t, apptype.IssueResourceLimit, c.IssueType)
}

func TestDetectPatternsRequiresTwoSharedSymptoms(t *testing.T) {
	historical := []apptype.Issue{
		{
			ID:              "h1",
			Title:           "DB connection pool exhaustion",
			Symptoms:        []string{"connection timeout", "slow queries", "pool exhausted"},
			OccurrenceCount: 5,
		},
		{
			ID:              "h2",
			Title:           "Single overlap only",
			Symptoms:        []string{"connection timeout", "disk full"},
			OccurrenceCount: 9,
		},
	}

	patterns := DetectPatterns([]string{"Connection Timeout", "slow queries"}, historical)
	require.Len(t, patterns, 1)
	assert.Equal(t, "Recurring: DB connection pool exhaustion", patterns[0].Name)
	assert.Equal(t, 5, patterns[0].Occurrences)
	assert.Len(t, patterns[0].CommonSymptoms, 2)
}

func TestDetectPatternsSortedByOccurrences(t *testing.T) {
	historical := []apptype.Issue{
		{ID: "h1", Title: "Rare", Symptoms: []string{"a", "b"}, OccurrenceCount: 1},
		{ID: "h2", Title: "Frequent", Symptoms: []string{"a", "b", "c"}, OccurrenceCount: 7},
	}
	patterns := DetectPatterns([]string{"a", "b"}, historical)
	require.Len(t, patterns, 2)
	assert.Equal(t, "Recurring: Frequent", patterns[0].Name)
	assert.Equal(t, "Recurring: Rare", patterns[1].Name)
}

func TestDetectPatternsEmptyInputs(t *testing.T) {
	assert.Empty(t, DetectPatterns(nil, nil))
	assert.Empty(t, DetectPatterns([]string{"a", "b"}, nil))
	assert.Empty(t, DetectPatterns(nil, []apptype.Issue{{Symptoms: []string{"a", "b"}}}))
}
