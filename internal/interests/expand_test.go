package interests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
tags:
  food:
    phrase: "local food, markets"
    categories: [food, market]
  culture:
    phrase: "palaces, temples"
    categories: [culture]
  kpop:
    phrase: "kpop merchandise, idol agencies"
    categories: [kpop, Shopping]
`

func testDictionary(t *testing.T) *Dictionary {
	t.Helper()

	d, err := Parse([]byte(testYAML))
	require.NoError(t, err)

	return d
}

func TestDictionary_Expand(t *testing.T) {
	d := testDictionary(t)

	tests := []struct {
		name     string
		subTags  []string
		mainTags []string
		want     string
	}{
		{"nothing given", nil, nil, Fallback},
		{"empty slices", []string{}, []string{}, "general sightseeing"},
		{"nothing resolves", []string{"unknown"}, []string{"also-unknown"}, Fallback},
		{"main tags used when no sub-tag", nil, []string{"food", "culture"}, "local food, markets, palaces, temples"},
		{"sub-tag wins over main tags", []string{"kpop"}, []string{"food"}, "kpop merchandise, idol agencies"},
		{"partially resolving sub-tags still suppress main tags", []string{"nope", "kpop"}, []string{"food"}, "kpop merchandise, idol agencies"},
		{"unresolved sub-tags fall back to main tags", []string{"nope"}, []string{"culture"}, "palaces, temples"},
		{"case and whitespace insensitive", []string{"  KPOP "}, nil, "kpop merchandise, idol agencies"},
		{"duplicates collapse", nil, []string{"food", "FOOD"}, "local food, markets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Expand(tt.subTags, tt.mainTags))
		})
	}
}

func TestDictionary_Expand_isPure(t *testing.T) {
	d := testDictionary(t)
	sub := []string{"kpop"}
	main := []string{"food"}

	first := d.Expand(sub, main)
	for range 5 {
		assert.Equal(t, first, d.Expand(sub, main))
	}

	assert.Equal(t, []string{"kpop"}, sub)
}

func TestDictionary_Categories(t *testing.T) {
	d := testDictionary(t)

	assert.Equal(t, []string{"kpop", "shopping"}, d.Categories([]string{"kpop"}, []string{"food"}))
	assert.Equal(t, []string{"food", "market", "culture"}, d.Categories(nil, []string{"food", "culture"}))
	assert.Empty(t, d.Categories(nil, nil))
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"splits and lowercases", "KPOP Merchandise, Idol Agencies", []string{"kpop merchandise", "idol agencies"}},
		{"drops empties", "a,, ,b,", []string{"a", "b"}},
		{"fallback is one keyword", Fallback, []string{"general sightseeing"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.in))
		})
	}
}

func TestDefaultDictionary(t *testing.T) {
	assert.NotEqual(t, Fallback, Expand([]string{"kpop"}, nil))
	assert.Contains(t, Keywords(Expand([]string{"kpop"}, nil)), "kpop merchandise")

	_, ok := Default().Lookup("street_food")
	assert.True(t, ok)
}

func TestParse_rejectsEmptyPhrase(t *testing.T) {
	_, err := Parse([]byte("tags:\n  bad:\n    phrase: \"  \"\n"))
	assert.Error(t, err)
}
