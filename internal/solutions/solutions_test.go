package solutions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

func baseSolution(id string) apptype.Solution {
	return apptype.Solution{
		ID:                       id,
		Title:                    "Restart the service",
		SuccessRate:              0.9,
		AvgImplementationMinutes: 10,
		RiskLevel:                apptype.RiskLow,
		AutomationAvailable:      true,
		RequiresDowntime:         false,
	}
}

func TestUrgencyFactor(t *testing.T) {
	assert.Equal(t, 1.0, UrgencyFactor(apptype.SeverityCritical, apptype.Context{}))
	assert.Equal(t, 0.8, UrgencyFactor(apptype.SeverityHigh, apptype.Context{}))
	assert.Equal(t, 0.5, UrgencyFactor(apptype.SeverityMedium, apptype.Context{}))
	assert.Equal(t, 0.2, UrgencyFactor(apptype.SeverityLow, apptype.Context{}))

	// Business-critical multiplies by 1.5, capped at 1.0.
	bc := apptype.Context{BusinessCritical: true}
	assert.Equal(t, 1.0, UrgencyFactor(apptype.SeverityHigh, bc))
	assert.InDelta(t, 0.75, UrgencyFactor(apptype.SeverityMedium, bc), 1e-12)
	assert.InDelta(t, 0.3, UrgencyFactor(apptype.SeverityLow, bc), 1e-12)
}

func TestPrerequisitePenaltyIsExactlyHalf(t *testing.T) {
	met := baseSolution("s-met")
	met.Prerequisites = []string{"backup exists"}

	unmet := met
	unmet.ID = "s-unmet"

	dctx := apptype.Context{SatisfiedPrerequisites: []string{"backup exists"}}
	metScore, _ := Score(met, apptype.SeverityHigh, dctx)
	unmetScore, unmetReason := Score(unmet, apptype.SeverityHigh, apptype.Context{})

	// With all prerequisites met the only delta is the 0.1 prereq term;
	// removing it and halving gives the unmet score.
	assert.InDelta(t, (metScore-0.1)*0.5, unmetScore, 1e-9)
	assert.Contains(t, unmetReason, "Unmet prerequisites")
}

func TestUnmetPrerequisitesCostMoreThanTheirTerm(t *testing.T) {
	a := baseSolution("a")
	b := baseSolution("b")
	b.Prerequisites = []string{"X"}

	ranked := Rank([]apptype.Solution{a, b}, apptype.SeverityHigh, apptype.Context{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Solution.ID)
	assert.Greater(t, ranked[0].Score-ranked[1].Score, 0.1)
}

func TestScoreLongImplementationTimeGoesNegativeTerm(t *testing.T) {
	quick := baseSolution("quick")
	slow := baseSolution("slow")
	slow.AvgImplementationMinutes = 180

	qs, qr := Score(quick, apptype.SeverityCritical, apptype.Context{})
	ss, sr := Score(slow, apptype.SeverityCritical, apptype.Context{})
	assert.Greater(t, qs, ss)
	assert.Contains(t, qr, "Quick to implement")
	assert.NotContains(t, sr, "Quick to implement")
}

func TestScoreDowntimeHandling(t *testing.T) {
	sol := baseSolution("s")
	sol.RequiresDowntime = true

	noWindow, _ := Score(sol, apptype.SeverityMedium, apptype.Context{})
	window, reason := Score(sol, apptype.SeverityMedium, apptype.Context{MaintenanceWindowAvailable: true})

	assert.InDelta(t, 0.1*0.05, window-noWindow, 1e-9)
	assert.Contains(t, reason, "Downtime fits maintenance window")
}

func TestScoreRiskLevels(t *testing.T) {
	low := baseSolution("low")
	med := baseSolution("med")
	med.RiskLevel = apptype.RiskMedium
	high := baseSolution("high")
	high.RiskLevel = apptype.RiskHigh

	ls, _ := Score(low, apptype.SeverityLow, apptype.Context{})
	ms, _ := Score(med, apptype.SeverityLow, apptype.Context{})
	hs, _ := Score(high, apptype.SeverityLow, apptype.Context{})

	assert.InDelta(t, 0.2*(0.9-0.5), ls-ms, 1e-9)
	assert.InDelta(t, 0.2*(0.5-0.1), ms-hs, 1e-9)
}

func TestReasoningFragmentsJoined(t *testing.T) {
	sol := baseSolution("s")
	_, reason := Score(sol, apptype.SeverityHigh, apptype.Context{})
	parts := strings.Split(reason, "; ")
	assert.Contains(t, parts, "High success rate")
	assert.Contains(t, parts, "Quick to implement")
	assert.Contains(t, parts, "Low risk")
	assert.Contains(t, parts, "Automation available")
	assert.Contains(t, parts, "No downtime required")
}

func TestRankOrderIndependent(t *testing.T) {
	a := baseSolution("a")
	b := baseSolution("b")
	b.SuccessRate = 0.4
	c := baseSolution("c")
	c.RiskLevel = apptype.RiskHigh

	forward := Rank([]apptype.Solution{a, b, c}, apptype.SeverityHigh, apptype.Context{})
	backward := Rank([]apptype.Solution{c, b, a}, apptype.SeverityHigh, apptype.Context{})
	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.Equal(t, forward[i].Solution.ID, backward[i].Solution.ID)
		assert.Equal(t, forward[i].Score, backward[i].Score)
	}
}

func TestRankTieBrokenByID(t *testing.T) {
	a := baseSolution("b-second")
	b := baseSolution("a-first")
	ranked := Rank([]apptype.Solution{a, b}, apptype.SeverityHigh, apptype.Context{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a-first", ranked[0].Solution.ID)
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil, apptype.SeverityLow, apptype.Context{}))
}
