package segmentation

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
)

// Recognizer finds named entities in text. Implementations are loaded once
// and must be safe for concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]models.Entity, error)
}

// Resolver finds the municipality a chunk belongs to.
type Resolver struct {
	registry   *territories.Registry
	recognizer Recognizer
	log        *slog.Logger
}

// NewResolver builds a resolver over registry using recognizer.
func NewResolver(registry *territories.Registry, recognizer Recognizer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{registry: registry, recognizer: recognizer, log: logger}
}

// Resolve scans the chunk's location entities from last to first and returns
// the territory of stateCode whose name occurs in one of them, the longest
// name winning inside a single entity. Signature
// and identifier lines sit at the end of each block, so later mentions win.
// Without a match the association of stateCode is returned.
//
// A chunk naming two municipalities resolves by formatting convention only;
// see DESIGN.md.
func (r *Resolver) Resolve(ctx context.Context, text, stateCode string) models.Territory {
	fallback := r.registry.Association(stateCode)

	entities, err := r.recognizer.Recognize(ctx, text)
	if err != nil {
		r.log.Warn("entity recognition failed, using association",
			slog.String("state_code", stateCode),
			slog.Any("err", err),
		)
		return fallback
	}

	locations := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Label == models.LocationLabel {
			locations = append(locations, e)
		}
	}
	sort.SliceStable(locations, func(i, j int) bool {
		return locations[i].Start < locations[j].Start
	})

	candidates := r.registry.ForState(stateCode)
	for i := len(locations) - 1; i >= 0; i-- {
		if t, ok := longestMatch(locations[i].Text, candidates); ok {
			return t
		}
	}
	return fallback
}

// longestMatch returns the candidate with the longest name contained in text,
// so "Santa Cruz de Goiás" is not taken for "Goiás". Ties keep load order.
func longestMatch(text string, candidates []models.Territory) (models.Territory, bool) {
	var best models.Territory
	found := false
	for _, t := range candidates {
		if t.Name == "" || !strings.Contains(text, t.Name) {
			continue
		}
		if !found || len(t.Name) > len(best.Name) {
			best, found = t, true
		}
	}
	return best, found
}
