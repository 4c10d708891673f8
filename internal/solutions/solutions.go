package solutions

import (
	"sort"
	"strings"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

var riskScore = map[apptype.RiskLevel]float64{
	apptype.RiskLow:    0.9,
	apptype.RiskMedium: 0.5,
	apptype.RiskHigh:   0.1,
}

// UrgencyFactor maps issue severity to a time-pressure multiplier, amplified
// by 1.5 (capped at 1.0) when the context marks the situation business
// critical.
func UrgencyFactor(severity apptype.Severity, dctx apptype.Context) float64 {
	var f float64
	switch severity {
	case apptype.SeverityCritical:
		f = 1.0
	case apptype.SeverityHigh:
		f = 0.8
	case apptype.SeverityMedium:
		f = 0.5
	default:
		f = 0.2
	}
	if dctx.BusinessCritical {
		f *= 1.5
		if f > 1.0 {
			f = 1.0
		}
	}
	return f
}

// prerequisitesMet reports whether every prerequisite appears in the
// context's satisfied set. A solution with no prerequisites is always met.
func prerequisitesMet(sol apptype.Solution, dctx apptype.Context) bool {
	if len(sol.Prerequisites) == 0 {
		return true
	}
	satisfied := make(map[string]struct{}, len(dctx.SatisfiedPrerequisites))
	for _, p := range dctx.SatisfiedPrerequisites {
		satisfied[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	for _, p := range sol.Prerequisites {
		if _, ok := satisfied[strings.ToLower(strings.TrimSpace(p))]; !ok {
			return false
		}
	}
	return true
}

// Score rates one solution against the issue severity and context, returning
// the score and a reasoning string naming the contributing factors.
// The function is pure; scoring one solution never depends on the others.
func Score(sol apptype.Solution, severity apptype.Severity, dctx apptype.Context) (float64, string) {
	urgency := UrgencyFactor(severity, dctx)
	prereqsMet := prerequisitesMet(sol, dctx)

	timeTerm := 1 - sol.AvgImplementationMinutes/60
	if timeTerm > 1 {
		timeTerm = 1
	}

	var downtimeTerm float64
	switch {
	case !sol.RequiresDowntime:
		downtimeTerm = 1
	case dctx.MaintenanceWindowAvailable:
		downtimeTerm = 0.05
	default:
		downtimeTerm = 0
	}

	var prereqTerm float64
	if prereqsMet {
		prereqTerm = 1
	}
	var automationTerm float64
	if sol.AutomationAvailable {
		automationTerm = 1
	}

	score := 0.3*sol.SuccessRate +
		0.2*urgency*timeTerm +
		0.2*riskScore[sol.RiskLevel] +
		0.1*automationTerm +
		0.1*downtimeTerm +
		0.1*prereqTerm

	// Unmet prerequisites halve the final score, after all additive terms.
	if !prereqsMet {
		score *= 0.5
	}

	var reasons []string
	if sol.SuccessRate >= 0.8 {
		reasons = append(reasons, "High success rate")
	}
	if sol.AvgImplementationMinutes < 30 {
		reasons = append(reasons, "Quick to implement")
	}
	if sol.RiskLevel == apptype.RiskLow {
		reasons = append(reasons, "Low risk")
	}
	if sol.AutomationAvailable {
		reasons = append(reasons, "Automation available")
	}
	if !sol.RequiresDowntime {
		reasons = append(reasons, "No downtime required")
	} else if dctx.MaintenanceWindowAvailable {
		reasons = append(reasons, "Downtime fits maintenance window")
	}
	if !prereqsMet {
		reasons = append(reasons, "Unmet prerequisites")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "No strong factors")
	}

	return score, strings.Join(reasons, "; ")
}

// Rank scores every candidate and returns them sorted by descending score,
// ties broken by solution id.
func Rank(candidates []apptype.Solution, severity apptype.Severity, dctx apptype.Context) []apptype.RankedSolution {
	out := make([]apptype.RankedSolution, 0, len(candidates))
	for _, sol := range candidates {
		score, reasoning := Score(sol, severity, dctx)
		out = append(out, apptype.RankedSolution{Solution: sol, Score: score, Reasoning: reasoning})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Solution.ID < out[j].Solution.ID
	})
	return out
}
