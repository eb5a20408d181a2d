package models

// Theme groups the curated queries whose excerpts are written to Index.
type Theme struct {
	Name    string       `yaml:"name" json:"name"`
	Index   string       `yaml:"index" json:"index"`
	Queries []ThemeQuery `yaml:"queries" json:"queries"`
}

// ThemeQuery is a three level term specification.
//
// TermSets holds macro-sets; a macro-set holds term-sets; a term-set holds
// interchangeable terms (synonyms).
type ThemeQuery struct {
	Title    string       `yaml:"title" json:"title"`
	TermSets [][][]string `yaml:"term_sets" json:"term_sets"`
}

// NaturalLanguageQueries returns the query titles used to score excerpts
// semantically.
func (t Theme) NaturalLanguageQueries() []string {
	out := make([]string, 0, len(t.Queries))
	for _, q := range t.Queries {
		out = append(out, q.Title)
	}
	return out
}
