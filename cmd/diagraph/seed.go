package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/database"
	"github.com/opentriage/diagraph-go/internal/embeddings"
)

// knowledgePack is the on-disk YAML format for bulk-loading a diagnostic
// graph. Node ids must be unique across the pack; links reference them.
type knowledgePack struct {
	Issues    []packIssue    `yaml:"issues"`
	Causes    []packCause    `yaml:"causes"`
	Solutions []packSolution `yaml:"solutions"`
	Links     []packLink     `yaml:"links"`
}

type packIssue struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description"`
	Symptoms           []string `yaml:"symptoms"`
	IssueType          string   `yaml:"issue_type"`
	Severity           string   `yaml:"severity"`
	AffectedComponents []string `yaml:"affected_components"`
}

type packCause struct {
	ID              string   `yaml:"id"`
	IssueID         string   `yaml:"issue_id"`
	Title           string   `yaml:"title"`
	Description     string   `yaml:"description"`
	Likelihood      float64  `yaml:"likelihood"`
	Confidence      float64  `yaml:"confidence"`
	DiagnosticSteps []string `yaml:"diagnostic_steps"`
}

type packSolution struct {
	ID                       string   `yaml:"id"`
	Title                    string   `yaml:"title"`
	Description              string   `yaml:"description"`
	Steps                    []string `yaml:"steps"`
	Commands                 []string `yaml:"commands"`
	Prerequisites            []string `yaml:"prerequisites"`
	SuccessRate              float64  `yaml:"success_rate"`
	AvgImplementationMinutes float64  `yaml:"avg_implementation_minutes"`
	RiskLevel                string   `yaml:"risk_level"`
	RequiresRestart          bool     `yaml:"requires_restart"`
	RequiresDowntime         bool     `yaml:"requires_downtime"`
	AutomationAvailable      bool     `yaml:"automation_available"`
}

type packLink struct {
	Source string  `yaml:"source"`
	Target string  `yaml:"target"`
	Type   string  `yaml:"type"`
	Weight float64 `yaml:"weight"`
}

type seedCounts struct {
	Issues    int
	Causes    int
	Solutions int
	Links     int
}

// seedFromFile loads a knowledge pack and stores its nodes and edges. Issues
// and solutions get embeddings from the cache when a provider is configured;
// seeding proceeds without vectors otherwise.
func seedFromFile(ctx context.Context, store *database.Store, cache *embeddings.Cache, project, path string) (seedCounts, error) {
	var counts seedCounts

	data, err := os.ReadFile(path)
	if err != nil {
		return counts, fmt.Errorf("failed to read knowledge pack: %w", err)
	}
	var pack knowledgePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return counts, fmt.Errorf("failed to parse knowledge pack: %w", err)
	}

	embed := func(text string) []float32 {
		emb, err := cache.Embed(ctx, text)
		if err != nil {
			if apptype.IsEmbeddingUnavailable(err) {
				return nil
			}
			log.Printf("Warning: embedding failed during seed: %v", err)
			return nil
		}
		return emb
	}

	for _, pi := range pack.Issues {
		issue := &apptype.Issue{
			ID:                 pi.ID,
			Title:              pi.Title,
			Description:        pi.Description,
			Symptoms:           pi.Symptoms,
			IssueType:          apptype.IssueType(pi.IssueType),
			Severity:           apptype.Severity(pi.Severity),
			AffectedComponents: pi.AffectedComponents,
		}
		issue.Embedding = embed(strings.Join(append([]string{pi.Title, pi.Description}, pi.Symptoms...), " "))
		if _, err := store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindIssue, Issue: issue}); err != nil {
			return counts, fmt.Errorf("failed to seed issue %q: %w", pi.Title, err)
		}
		counts.Issues++
	}

	for _, pc := range pack.Causes {
		cause := &apptype.Cause{
			ID:              pc.ID,
			IssueID:         pc.IssueID,
			Title:           pc.Title,
			Description:     pc.Description,
			Likelihood:      pc.Likelihood,
			Confidence:      pc.Confidence,
			DiagnosticSteps: pc.DiagnosticSteps,
		}
		if _, err := store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindCause, Cause: cause}); err != nil {
			return counts, fmt.Errorf("failed to seed cause %q: %w", pc.Title, err)
		}
		counts.Causes++
	}

	for _, ps := range pack.Solutions {
		solution := &apptype.Solution{
			ID:                       ps.ID,
			Title:                    ps.Title,
			Description:              ps.Description,
			Steps:                    ps.Steps,
			Commands:                 ps.Commands,
			Prerequisites:            ps.Prerequisites,
			SuccessRate:              ps.SuccessRate,
			AvgImplementationMinutes: ps.AvgImplementationMinutes,
			RiskLevel:                apptype.RiskLevel(ps.RiskLevel),
			RequiresRestart:          ps.RequiresRestart,
			RequiresDowntime:         ps.RequiresDowntime,
			AutomationAvailable:      ps.AutomationAvailable,
		}
		solution.Embedding = embed(ps.Title + " " + ps.Description)
		if _, err := store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindSolution, Solution: solution}); err != nil {
			return counts, fmt.Errorf("failed to seed solution %q: %w", ps.Title, err)
		}
		counts.Solutions++
	}

	for _, pl := range pack.Links {
		edge := apptype.Edge{
			Source: pl.Source,
			Target: pl.Target,
			Type:   apptype.RelationType(strings.ToUpper(pl.Type)),
			Weight: pl.Weight,
		}
		if err := store.AddEdge(ctx, project, edge); err != nil {
			return counts, fmt.Errorf("failed to seed link %s -> %s: %w", pl.Source, pl.Target, err)
		}
		counts.Links++
	}

	return counts, nil
}
