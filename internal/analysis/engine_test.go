package analysis

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenlens/internal/category"
	"tokenlens/internal/checkpoint"
)

func mappingOf(texts map[int]string) checkpoint.Mapping {
	m := make(checkpoint.Mapping, len(texts))
	for id, text := range texts {
		m[id] = checkpoint.TokenRecord{ID: id, Text: text, Status: checkpoint.StatusResolved}
	}
	return m
}

func registryOf(t *testing.T, defs ...category.Definition) *category.Registry {
	t.Helper()
	reg, err := category.NewRegistry(defs)
	require.NoError(t, err)
	return reg
}

func termByName(t *testing.T, report *Report, term string) TermResult {
	t.Helper()
	for _, tr := range report.Terms {
		if tr.Term == term {
			return tr
		}
	}
	t.Fatalf("term %q not in report", term)
	return TermResult{}
}

func TestAnalyze_CaseInsensitiveVariants(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "Mind", 2: "mind", 3: "MIND", 4: "minds"})
	reg := registryOf(t, category.Definition{Name: "Consciousness", Terms: []string{"mind"}})

	report := Analyze("m", mapping, reg)
	tr := termByName(t, report, "mind")

	assert.True(t, tr.Present)
	assert.Equal(t, []string{"MIND", "Mind", "mind"}, tr.MatchedForms)
	assert.Equal(t, 3, tr.OccurrenceCount) // "minds" is a different token text
}

func TestAnalyze_CaseSensitiveExact(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "Mind", 2: "mind"})
	reg := registryOf(t, category.Definition{
		Name: "Strict", Terms: []string{"mind"}, CaseSensitive: true,
	})

	tr := termByName(t, Analyze("m", mapping, reg), "mind")
	assert.True(t, tr.Present)
	assert.Equal(t, []string{"mind"}, tr.MatchedForms)
	assert.Equal(t, 1, tr.OccurrenceCount)
}

func TestAnalyze_ExactMatchRejectsContainment(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "consciousness-raising"})
	reg := registryOf(t, category.Definition{Name: "C", Terms: []string{"consciousness"}})

	tr := termByName(t, Analyze("m", mapping, reg), "consciousness")
	assert.False(t, tr.Present)
	assert.Zero(t, tr.OccurrenceCount)
	assert.Empty(t, tr.MatchedForms)
}

func TestAnalyze_SubstringCategory(t *testing.T) {
	mapping := mappingOf(map[int]string{
		1: "consciousness-raising",
		2: "Consciousness",
		3: "unrelated",
	})
	reg := registryOf(t, category.Definition{
		Name: "C", Terms: []string{"consciousness"}, Substring: true,
	})

	tr := termByName(t, Analyze("m", mapping, reg), "consciousness")
	assert.True(t, tr.Present)
	assert.Equal(t, 2, tr.OccurrenceCount)
	assert.Equal(t, []string{"Consciousness", "consciousness-raising"}, tr.MatchedForms)
}

func TestAnalyze_SubstringCaseSensitive(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "Mindful", 2: "reminded"})
	reg := registryOf(t, category.Definition{
		Name: "S", Terms: []string{"mind"}, Substring: true, CaseSensitive: true,
	})

	tr := termByName(t, Analyze("m", mapping, reg), "mind")
	assert.True(t, tr.Present)
	assert.Equal(t, 1, tr.OccurrenceCount)
	assert.Equal(t, []string{"reminded"}, tr.MatchedForms)
}

func TestAnalyze_SpecScenario(t *testing.T) {
	// mapping {5:"soul", 6:"", 7:Failed}, category Philosophy {soul, spirit}.
	mapping := checkpoint.Mapping{
		5: {ID: 5, Text: "soul", Status: checkpoint.StatusResolved},
		6: {ID: 6, Status: checkpoint.StatusEmpty},
		7: {ID: 7, Status: checkpoint.StatusFailed},
	}
	reg := registryOf(t, category.Definition{Name: "Philosophy", Terms: []string{"soul", "spirit"}})

	report := Analyze("m", mapping, reg)

	soul := termByName(t, report, "soul")
	assert.True(t, soul.Present)
	assert.Equal(t, 1, soul.OccurrenceCount)

	spirit := termByName(t, report, "spirit")
	assert.False(t, spirit.Present)
	assert.Zero(t, spirit.OccurrenceCount)

	summary := report.Categories["Philosophy"]
	assert.Equal(t, CategorySummary{PresentCount: 1, MissingCount: 1, TotalTerms: 2}, summary)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 1, report.ResolvedTokens)
}

func TestAnalyze_EmptyAndFailedExcludedFromMatching(t *testing.T) {
	mapping := checkpoint.Mapping{
		1: {ID: 1, Text: "soul", Status: checkpoint.StatusEmpty},
		2: {ID: 2, Text: "soul", Status: checkpoint.StatusFailed},
		3: {ID: 3, Text: "soul", Status: checkpoint.StatusResolved},
	}
	reg := registryOf(t, category.Definition{Name: "P", Terms: []string{"soul"}})

	tr := termByName(t, Analyze("m", mapping, reg), "soul")
	assert.Equal(t, 1, tr.OccurrenceCount)
}

func TestAnalyze_Deterministic(t *testing.T) {
	texts := make(map[int]string, 2000)
	for i := 0; i < 2000; i++ {
		texts[i] = fmt.Sprintf("tok%d", i%37)
	}
	texts[100] = "Mind"
	texts[200] = "mind"
	mapping := mappingOf(texts)

	reg := registryOf(t,
		category.Definition{Name: "A", Terms: []string{"mind", "tok1", "absent"}},
		category.Definition{Name: "B", Terms: []string{"tok2"}, Substring: true},
	)

	r1 := Analyze("m", mapping, reg)
	r2 := Analyze("m", mapping, reg)

	ignoreTime := cmpopts.IgnoreFields(Report{}, "GeneratedAt")
	if diff := cmp.Diff(r1, r2, ignoreTime); diff != "" {
		t.Errorf("repeated analysis differs (-first +second):\n%s", diff)
	}
}

func TestAnalyze_DoesNotMutateMapping(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "soul"})
	before := mapping.Clone()

	Analyze("m", mapping, registryOf(t, category.Definition{Name: "P", Terms: []string{"soul"}}))

	if diff := cmp.Diff(before, mapping); diff != "" {
		t.Errorf("mapping mutated by analysis:\n%s", diff)
	}
}

func TestAnalyze_TermOrdering(t *testing.T) {
	mapping := mappingOf(map[int]string{1: "x"})
	reg := registryOf(t,
		category.Definition{Name: "Zeta", Terms: []string{"b", "a"}},
		category.Definition{Name: "Alpha", Terms: []string{"z", "y"}},
	)

	report := Analyze("m", mapping, reg)
	var got []string
	for _, tr := range report.Terms {
		got = append(got, tr.Category+"/"+tr.Term)
	}
	assert.Equal(t, []string{"Alpha/y", "Alpha/z", "Zeta/a", "Zeta/b"}, got)
}
