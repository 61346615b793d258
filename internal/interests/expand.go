// Package interests maps interest tags to descriptive phrases used as query text and
// keyword source for reranking. The dictionary is compiled into the binary.
package interests

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback is returned by Expand when no tag resolves.
const Fallback = "general sightseeing"

//go:embed tags.yaml
var defaultTags []byte

// Entry is the dictionary value for one tag.
type Entry struct {
	Phrase     string   `yaml:"phrase"`
	Categories []string `yaml:"categories"`
}

// Dictionary is an immutable tag lookup. Tags are matched case-insensitively.
type Dictionary struct {
	entries map[string]Entry
}

type dictionaryFile struct {
	Tags map[string]Entry `yaml:"tags"`
}

var defaultDictionary = mustParse(defaultTags)

// Default returns the compiled-in dictionary.
func Default() *Dictionary {
	return defaultDictionary
}

// Parse reads a dictionary from YAML of the form {tags: {name: {phrase, categories}}}.
func Parse(data []byte) (*Dictionary, error) {
	var f dictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse interest dictionary: %w", err)
	}

	entries := make(map[string]Entry, len(f.Tags))

	for tag, e := range f.Tags {
		e.Phrase = strings.TrimSpace(e.Phrase)
		if e.Phrase == "" {
			return nil, fmt.Errorf("interest tag %q has no phrase", tag)
		}

		entries[normalizeTag(tag)] = e
	}

	return &Dictionary{entries: entries}, nil
}

func mustParse(data []byte) *Dictionary {
	d, err := Parse(data)
	if err != nil {
		panic(err)
	}

	return d
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// Lookup returns the entry for tag.
func (d *Dictionary) Lookup(tag string) (Entry, bool) {
	e, ok := d.entries[normalizeTag(tag)]

	return e, ok
}

// resolve returns the entries of the winning tag set: sub-tags when at least one of them
// resolves, main tags otherwise.
func (d *Dictionary) resolve(subTags, mainTags []string) []Entry {
	if out := d.lookupAll(subTags); len(out) > 0 {
		return out
	}

	return d.lookupAll(mainTags)
}

func (d *Dictionary) lookupAll(tags []string) []Entry {
	var out []Entry

	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		key := normalizeTag(tag)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		if e, ok := d.entries[key]; ok {
			out = append(out, e)
		}
	}

	return out
}

// Expand joins the phrases of the resolved tags with ", ". If any sub-tag resolves, main tags
// are ignored entirely. When nothing resolves the result is Fallback.
func (d *Dictionary) Expand(subTags, mainTags []string) string {
	entries := d.resolve(subTags, mainTags)
	if len(entries) == 0 {
		return Fallback
	}

	phrases := make([]string, len(entries))
	for i, e := range entries {
		phrases[i] = e.Phrase
	}

	return strings.Join(phrases, ", ")
}

// Categories returns the deduplicated catalog categories implied by the resolved tags,
// under the same sub-tag priority as Expand.
func (d *Dictionary) Categories(subTags, mainTags []string) []string {
	var out []string

	for _, e := range d.resolve(subTags, mainTags) {
		for _, c := range e.Categories {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}

	return out
}

// Expand uses the default dictionary.
func Expand(subTags, mainTags []string) string {
	return defaultDictionary.Expand(subTags, mainTags)
}

// Keywords splits an expanded phrase on commas, lowercases and trims each part, and drops empties.
func Keywords(expanded string) []string {
	parts := strings.Split(expanded, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
