package reasoner

import (
	"sort"
	"strings"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

// classRule binds an issue type to its trigger keywords and the diagnostic
// checks recommended when it matches. Rules are evaluated in slice order and
// the first keyword hit wins.
type classRule struct {
	issueType apptype.IssueType
	keywords  []string
	checks    []string
}

var classRules = []classRule{
	{
		issueType: apptype.IssueConnectivity,
		keywords:  []string{"timeout", "unreachable", "unable to reach", "connection refused", "connection reset", "no route", "dns", "cannot connect", "network"},
		checks: []string{
			"Verify network reachability (ping, traceroute)",
			"Check DNS resolution for the target host",
			"Inspect security groups and firewall rules",
			"Confirm the service is listening on the expected port",
		},
	},
	{
		issueType: apptype.IssuePerformance,
		keywords:  []string{"slow", "latency", "high cpu", "high memory", "lag", "throughput", "degraded"},
		checks: []string{
			"Collect CPU, memory and I/O utilization",
			"Profile the slowest requests or queries",
			"Check for resource saturation on dependencies",
		},
	},
	{
		issueType: apptype.IssueAuth,
		keywords:  []string{"unauthorized", "forbidden", "401", "403", "login", "token expired", "invalid credentials", "authentication"},
		checks: []string{
			"Validate credentials and token expiry",
			"Check IAM roles and policy attachments",
			"Review recent permission or role changes",
		},
	},
	{
		issueType: apptype.IssueSecurity,
		keywords:  []string{"breach", "vulnerability", "cve", "malware", "intrusion", "exploit", "suspicious"},
		checks: []string{
			"Review audit logs for anomalous access",
			"Check for known CVEs on affected components",
			"Rotate potentially exposed credentials",
		},
	},
	{
		issueType: apptype.IssueConfiguration,
		keywords:  []string{"misconfigured", "config", "configuration", "wrong value", "missing setting", "environment variable"},
		checks: []string{
			"Diff current configuration against last known good",
			"Validate configuration file syntax",
			"Check recent configuration deployments",
		},
	},
	{
		issueType: apptype.IssueDataIntegrity,
		keywords:  []string{"corrupt", "data loss", "inconsistent", "checksum", "mismatch", "duplicate records"},
		checks: []string{
			"Run integrity checks on affected datasets",
			"Compare replicas for divergence",
			"Review recent migrations and backfills",
		},
	},
	{
		issueType: apptype.IssueResourceLimit,
		keywords:  []string{"quota", "limit exceeded", "out of memory", "disk full", "no space", "throttled", "rate limit"},
		checks: []string{
			"Check quota and limit usage against caps",
			"Review disk and memory headroom",
			"Identify the top consumers of the exhausted resource",
		},
	},
	{
		issueType: apptype.IssueDeployment,
		keywords:  []string{"deploy", "rollout", "release", "rollback", "crashloop", "image pull"},
		checks: []string{
			"Compare the failing version against the previous release",
			"Check rollout status and events",
			"Verify artifact and image availability",
		},
	},
	{
		issueType: apptype.IssueIntegration,
		keywords:  []string{"webhook", "third-party", "api error", "upstream", "downstream", "integration"},
		checks: []string{
			"Check the external service's status page",
			"Verify API contract and version compatibility",
			"Inspect request/response payloads at the boundary",
		},
	},
}

var severityCascade = []struct {
	severity apptype.Severity
	words    []string
}{
	{apptype.SeverityCritical, []string{"down", "critical", "outage", "data loss"}},
	{apptype.SeverityHigh, []string{"error", "failed", "unavailable"}},
}

// Classify maps a symptom list to an issue type, severity and recommended
// checks. Classification is deterministic: symptoms are lowered and joined,
// and the first rule whose keyword set intersects the text wins.
func Classify(symptoms []string, dctx apptype.Context) apptype.Classification {
	text := strings.ToLower(strings.Join(symptoms, " "))

	out := apptype.Classification{IssueType: apptype.IssueUnknown}
	for _, rule := range classRules {
		if containsAny(text, rule.keywords) {
			out.IssueType = rule.issueType
			out.RecommendedChecks = append([]string(nil), rule.checks...)
			break
		}
	}
	out.Severity = assessSeverity(text, dctx)
	return out
}

// assessSeverity applies the severity cascade in order, first match wins.
func assessSeverity(text string, dctx apptype.Context) apptype.Severity {
	for _, level := range severityCascade {
		if containsAny(text, level.words) {
			return level.severity
		}
	}
	if len(dctx.AffectedSystems) > 3 {
		return apptype.SeverityHigh
	}
	if containsAny(text, []string{"slow", "intermittent", "degraded"}) {
		return apptype.SeverityMedium
	}
	return apptype.SeverityLow
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// DetectPatterns compares the current symptoms against historical issues and
// reports each with at least two shared symptoms as a recurring pattern.
// Matching is exact set intersection over lowercased symptoms.
func DetectPatterns(symptoms []string, historical []apptype.Issue) []apptype.IssuePattern {
	current := make(map[string]struct{}, len(symptoms))
	for _, s := range symptoms {
		current[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	var patterns []apptype.IssuePattern
	for _, issue := range historical {
		var common []string
		for _, s := range issue.Symptoms {
			key := strings.ToLower(strings.TrimSpace(s))
			if _, ok := current[key]; ok {
				common = append(common, s)
			}
		}
		if len(common) < 2 {
			continue
		}
		sort.Strings(common)
		occurrences := issue.OccurrenceCount
		if occurrences < 1 {
			occurrences = 1
		}
		patterns = append(patterns, apptype.IssuePattern{
			Name:           "Recurring: " + issue.Title,
			CommonSymptoms: common,
			Occurrences:    occurrences,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].Name < patterns[j].Name
	})
	return patterns
}
