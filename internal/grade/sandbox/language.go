package sandbox

import "strings"

// defaultLanguages maps language names to Judge0 language ids.
var defaultLanguages = map[string]int{
	"c":          50,
	"cpp":        54,
	"c++":        54,
	"csharp":     51,
	"c#":         51,
	"go":         60,
	"java":       62,
	"javascript": 63,
	"js":         63,
	"python":     71,
	"python3":    71,
	"rust":       73,
	"typescript": 74,
	"ts":         74,
}

// LanguageTable resolves language names case-insensitively.
type LanguageTable struct {
	ids map[string]int
}

// NewLanguageTable merges overrides on top of the built-in table.
// An override with id <= 0 removes the language.
func NewLanguageTable(overrides map[string]int) *LanguageTable {
	ids := make(map[string]int, len(defaultLanguages)+len(overrides))
	for name, id := range defaultLanguages {
		ids[name] = id
	}
	for name, id := range overrides {
		key := normalizeLanguage(name)
		if id <= 0 {
			delete(ids, key)
			continue
		}
		ids[key] = id
	}
	return &LanguageTable{ids: ids}
}

// Lookup returns the sandbox id for language.
func (t *LanguageTable) Lookup(language string) (int, bool) {
	id, ok := t.ids[normalizeLanguage(language)]
	return id, ok
}

func normalizeLanguage(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}
