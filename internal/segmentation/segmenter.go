package segmentation

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

// Segmenter splits association gazettes into per-municipality segments.
type Segmenter struct {
	chunker   *Chunker
	resolver  *Resolver
	assembler *Assembler
	registry  *territories.Registry
	pool      *workpool.Pool
	log       *slog.Logger
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithMarker overrides the block terminator.
func WithMarker(marker string) Option {
	return func(s *Segmenter) {
		s.chunker = NewChunker(marker)
	}
}

// NewSegmenter wires the chunker, resolver and assembler. Chunks are resolved
// concurrently on pool.
func NewSegmenter(registry *territories.Registry, recognizer Recognizer, pool *workpool.Pool, opts ...Option) *Segmenter {
	s := &Segmenter{
		chunker:  NewChunker(IdentifierMarker),
		registry: registry,
		pool:     pool,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(registry, recognizer, s.log)
	s.assembler = NewAssembler(registry, s.log)
	return s
}

// Segments returns one segment per territory found in the gazette text.
func (s *Segmenter) Segments(ctx context.Context, gazette models.Gazette) []models.Gazette {
	chunked := s.chunker.Split(gazette.SourceText)
	if len(chunked.Chunks) == 0 {
		return nil
	}

	resolved, failures := workpool.Map(ctx, s.pool, "resolve_chunk", chunked.Chunks,
		func(c Chunk) string { return strconv.Itoa(c.Index) },
		func(ctx context.Context, c Chunk) (ResolvedChunk, error) {
			return ResolvedChunk{Chunk: c, Territory: s.resolver.Resolve(ctx, c.Text, gazette.StateCode)}, nil
		})
	// Every chunk must land in a group; a chunk whose resolution crashed
	// falls back to the association.
	for _, f := range failures {
		resolved = append(resolved, ResolvedChunk{
			Chunk:     chunked.Chunks[f.Index],
			Territory: s.registry.Association(gazette.StateCode),
		})
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].Index < resolved[j].Index })

	segments, _ := s.assembler.Assemble(gazette, chunked.Header, resolved)
	s.log.Info("gazette segmented",
		slog.String("file_path", gazette.FilePath),
		slog.Int("chunks", len(chunked.Chunks)),
		slog.Int("segments", len(segments)),
	)
	return segments
}
