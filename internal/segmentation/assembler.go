package segmentation

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
)

// SegmentSeparator sits between the header and chunks of a segment.
const SegmentSeparator = "\n\n---\n\n"

// ResolvedChunk is a chunk tagged with its territory.
type ResolvedChunk struct {
	Chunk
	Territory models.Territory
}

// Assembler groups resolved chunks into per-territory segments.
type Assembler struct {
	registry *territories.Registry
	log      *slog.Logger
}

// NewAssembler builds an assembler looking territories up in registry.
func NewAssembler(registry *territories.Registry, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assembler{registry: registry, log: logger}
}

type group struct {
	slug  string
	texts []string
}

// Assemble builds one segment per territory slug, in first-encounter order.
// A slug missing from the registry drops that segment only; the lookup
// errors are returned alongside the segments that were built.
func (a *Assembler) Assemble(parent models.Gazette, header string, resolved []ResolvedChunk) ([]models.Gazette, []error) {
	var groups []*group
	index := make(map[string]*group)
	for _, rc := range resolved {
		g, ok := index[rc.Territory.Slug]
		if !ok {
			g = &group{slug: rc.Territory.Slug}
			index[rc.Territory.Slug] = g
			groups = append(groups, g)
		}
		g.texts = append(g.texts, rc.Text)
	}

	segments := make([]models.Gazette, 0, len(groups))
	var errs []error
	for _, g := range groups {
		territory, err := a.registry.BySlug(g.slug)
		if err != nil {
			a.log.Warn("dropping segment",
				slog.String("slug", g.slug),
				slog.String("file_path", parent.FilePath),
				slog.Any("err", err),
			)
			errs = append(errs, fmt.Errorf("segment %q of %s: %w", g.slug, parent.FilePath, err))
			continue
		}

		parts := make([]string, 0, len(g.texts)+1)
		parts = append(parts, header)
		parts = append(parts, g.texts...)
		text := strings.TrimSpace(strings.Join(parts, SegmentSeparator))

		a.log.Debug("creating segment",
			slog.String("slug", g.slug),
			slog.String("file_path", parent.FilePath),
			slog.Int("chunks", len(g.texts)),
		)
		segments = append(segments, models.NewSegment(parent, territory, text, processing.Checksum(text), len(g.texts)))
	}
	return segments, errs
}
