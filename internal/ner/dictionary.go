package ner

import (
	"context"
	"sort"
	"strings"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// Dictionary tags every occurrence of a known place name as a location.
// It stands in for the model when none is configured.
type Dictionary struct {
	names []string
}

// NewDictionary builds a recognizer for names. Longer names are matched first
// so that "Aparecida de Goiânia" is not reported as "Goiânia".
func NewDictionary(names []string) *Dictionary {
	seen := make(map[string]struct{}, len(names))
	list := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		list = append(list, n)
	}
	sort.SliceStable(list, func(i, j int) bool { return len(list[i]) > len(list[j]) })
	return &Dictionary{names: list}
}

// Recognize never fails.
func (d *Dictionary) Recognize(_ context.Context, text string) ([]models.Entity, error) {
	taken := make([]bool, len(text))
	var out []models.Entity
	for _, name := range d.names {
		offset := 0
		for {
			i := strings.Index(text[offset:], name)
			if i < 0 {
				break
			}
			start := offset + i
			end := start + len(name)
			offset = end
			if overlaps(taken, start, end) {
				continue
			}
			for k := start; k < end; k++ {
				taken[k] = true
			}
			out = append(out, models.Entity{
				Label: models.LocationLabel,
				Text:  name,
				Start: start,
				End:   end,
				Score: 1,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func overlaps(taken []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if taken[k] {
			return true
		}
	}
	return false
}
