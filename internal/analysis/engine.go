// Package analysis computes presence, frequency and case-variant statistics
// for curated term categories over a swept vocabulary mapping. The mapping
// is indexed once (normalized text -> ids), after which each exact-match
// term resolves in near-constant time; only explicitly substring-matching
// categories pay a scan, and that scan runs once for all substring terms
// together. Given the same mapping and registry, output is byte-identical
// modulo the generated_at timestamp.
package analysis

import (
	"sort"
	"strings"
	"time"

	"tokenlens/internal/category"
	"tokenlens/internal/checkpoint"
)

// TermResult is the per-term detail of a report.
type TermResult struct {
	Category string `json:"category"`
	Term     string `json:"term"`
	Present  bool   `json:"present"`
	// MatchedForms holds the distinct literal surface forms that matched:
	// case variants for exact matching, containing token texts for
	// substring matching. Sorted.
	MatchedForms    []string `json:"matched_forms"`
	OccurrenceCount int      `json:"occurrence_count"`
}

// CategorySummary aggregates presence per category.
type CategorySummary struct {
	PresentCount int `json:"present_count"`
	MissingCount int `json:"missing_count"`
	TotalTerms   int `json:"total_terms"`
}

// Report is the immutable result of one analysis run. Terms are ordered by
// (category, term).
type Report struct {
	ModelName      string                     `json:"model_name,omitempty"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	TotalRecords   int                        `json:"total_records"`
	ResolvedTokens int                        `json:"resolved_tokens"`
	Categories     map[string]CategorySummary `json:"categories"`
	Terms          []TermResult               `json:"terms"`
}

// vocabIndex is the reverse index over resolved token texts:
// folded text -> literal surface form -> distinct ids.
type vocabIndex struct {
	byFold map[string]map[string][]int
	// resolved keeps (id, text) pairs for the one substring scan.
	resolved []resolvedToken
}

type resolvedToken struct {
	id   int
	text string
}

func fold(s string) string {
	return strings.ToLower(s)
}

// buildIndex is the single linear pass over the mapping. Only resolved
// records participate; empty and failed ids carry no text to match.
func buildIndex(mapping checkpoint.Mapping) *vocabIndex {
	idx := &vocabIndex{byFold: make(map[string]map[string][]int)}
	for id, rec := range mapping {
		if rec.Status != checkpoint.StatusResolved {
			continue
		}
		idx.resolved = append(idx.resolved, resolvedToken{id: id, text: rec.Text})

		folded := fold(rec.Text)
		forms := idx.byFold[folded]
		if forms == nil {
			forms = make(map[string][]int)
			idx.byFold[folded] = forms
		}
		forms[rec.Text] = append(forms[rec.Text], id)
	}
	// Deterministic scan order for substring matching.
	sort.Slice(idx.resolved, func(i, j int) bool { return idx.resolved[i].id < idx.resolved[j].id })
	return idx
}

// lookupExact resolves an exact-match term against the index.
func (idx *vocabIndex) lookupExact(term string, caseSensitive bool) (forms []string, count int) {
	surfaces := idx.byFold[fold(term)]
	for surface, ids := range surfaces {
		if caseSensitive && surface != term {
			continue
		}
		forms = append(forms, surface)
		count += len(ids)
	}
	sort.Strings(forms)
	return forms, count
}

// lookupSubstring scans resolved texts for containment of term.
func (idx *vocabIndex) lookupSubstring(term string, caseSensitive bool) (forms []string, count int) {
	needle := term
	if !caseSensitive {
		needle = fold(term)
	}
	seen := make(map[string]bool)
	for _, tok := range idx.resolved {
		hay := tok.text
		if !caseSensitive {
			hay = fold(hay)
		}
		if !strings.Contains(hay, needle) {
			continue
		}
		count++
		if !seen[tok.text] {
			seen[tok.text] = true
			forms = append(forms, tok.text)
		}
	}
	sort.Strings(forms)
	return forms, count
}

// Analyze computes a report for the given vocabulary snapshot and validated
// registry. The mapping is never mutated.
func Analyze(modelName string, mapping checkpoint.Mapping, registry *category.Registry) *Report {
	idx := buildIndex(mapping)

	report := &Report{
		ModelName:      modelName,
		GeneratedAt:    time.Now().UTC(),
		TotalRecords:   len(mapping),
		ResolvedTokens: len(idx.resolved),
		Categories:     make(map[string]CategorySummary),
	}

	for _, def := range registry.Categories() {
		summary := CategorySummary{TotalTerms: len(def.Terms)}
		for _, term := range def.Terms {
			var forms []string
			var count int
			if def.Substring {
				forms, count = idx.lookupSubstring(term, def.CaseSensitive)
			} else {
				forms, count = idx.lookupExact(term, def.CaseSensitive)
			}

			result := TermResult{
				Category:        def.Name,
				Term:            term,
				Present:         count > 0,
				MatchedForms:    forms,
				OccurrenceCount: count,
			}
			if result.Present {
				summary.PresentCount++
			} else {
				summary.MissingCount++
			}
			report.Terms = append(report.Terms, result)
		}
		report.Categories[def.Name] = summary
	}

	return report
}
