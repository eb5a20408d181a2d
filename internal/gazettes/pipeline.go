package gazettes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

// ErrNoSegments is returned when an aggregated gazette with text could not be
// split into any territory segment.
var ErrNoSegments = errors.New("aggregated gazette produced no segments")

// Storage holds the original gazette files and their text renditions.
type Storage interface {
	Get(ctx context.Context, key string, w io.Writer) error
	Put(ctx context.Context, key, content string) error
}

// TextExtractor reads the text of a local file.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Indexer writes documents to the search backend.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc any, refresh bool) error
}

// Database records that a gazette was processed.
type Database interface {
	MarkGazetteProcessed(ctx context.Context, id int64, checksum string) error
}

// Segmenter splits an aggregated gazette into territory segments.
type Segmenter interface {
	Segments(ctx context.Context, gazette models.Gazette) []models.Gazette
}

// Observer receives pipeline counters.
type Observer interface {
	StartGazette()
	FinishGazette(duration time.Duration, err error)
	AddSegments(n int)
	AddIndexed(n int)
}

type noopObserver struct{}

func (noopObserver) StartGazette() {}
func (noopObserver) FinishGazette(time.Duration, error) {}
func (noopObserver) AddSegments(int) {}
func (noopObserver) AddIndexed(int) {}

// Config holds the pipeline settings.
type Config struct {
	// FilesEndpoint prefixes storage keys to build public URLs.
	FilesEndpoint string
	// Index receives gazettes and segments.
	Index string
	// TempDir holds downloads during extraction. Empty means os.TempDir.
	TempDir string
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Storage   Storage
	Extractor TextExtractor
	Indexer   Indexer
	Database  Database
	Segmenter Segmenter
	Pool      *workpool.Pool
	Observer  Observer
	Logger    *slog.Logger
}

// Pipeline extracts, stores and indexes the text of gazettes.
type Pipeline struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if strings.TrimSpace(cfg.FilesEndpoint) == "" {
		return nil, errors.New("files endpoint is required")
	}
	if deps.Storage == nil || deps.Extractor == nil || deps.Indexer == nil || deps.Database == nil || deps.Segmenter == nil {
		return nil, errors.New("pipeline dependencies are incomplete")
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.FilesEndpoint = strings.TrimRight(cfg.FilesEndpoint, "/")
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// ExtractTextFromGazettes processes every gazette and returns the ids of the
// documents written to the index. Failed gazettes are logged and skipped.
func (p *Pipeline) ExtractTextFromGazettes(ctx context.Context, gazettes []models.Gazette) []string {
	ids, _ := p.ProcessBatch(ctx, gazettes)
	return ids
}

// ProcessBatch is ExtractTextFromGazettes that also reports which gazettes
// failed, by position in gazettes.
func (p *Pipeline) ProcessBatch(ctx context.Context, gazettes []models.Gazette) ([]string, []workpool.Failure) {
	p.deps.Logger.Info("starting text extraction", slog.Int("gazettes", len(gazettes)))

	perGazette, failures := workpool.Map(ctx, p.deps.Pool, "process_gazette", gazettes,
		func(g models.Gazette) string { return g.FilePath },
		p.Process)

	var ids []string
	for _, list := range perGazette {
		ids = append(ids, list...)
	}
	p.deps.Logger.Info("text extraction finished",
		slog.Int("gazettes", len(gazettes)),
		slog.Int("failed", len(failures)),
		slog.Int("documents", len(ids)),
	)
	return ids, failures
}

// Process runs the whole task for one gazette and returns the indexed ids.
// The gazette is marked processed only when every step before it succeeded.
func (p *Pipeline) Process(ctx context.Context, gazette models.Gazette) (ids []string, err error) {
	started := time.Now()
	p.deps.Observer.StartGazette()
	defer func() {
		p.deps.Observer.FinishGazette(time.Since(started), err)
	}()

	p.deps.Logger.Debug("processing gazette", slog.String("file_path", gazette.FilePath))

	text, err := p.extract(ctx, gazette)
	if err != nil {
		return nil, err
	}
	gazette.SourceText = text
	gazette.URL = p.fileURL(gazette.FilePath)

	txtPath := TextPath(gazette.FilePath)
	gazette.FileRawTxt = p.fileURL(txtPath)
	if err := p.deps.Storage.Put(ctx, txtPath, text); err != nil {
		return nil, fmt.Errorf("upload raw text: %w", err)
	}

	if processing.IsAggregated(gazette.TerritoryID) {
		ids, err = p.indexSegments(ctx, gazette)
		if err != nil {
			return nil, err
		}
	} else {
		if err := p.deps.Indexer.IndexDocument(ctx, p.cfg.Index, gazette.FileChecksum, gazette, false); err != nil {
			return nil, err
		}
		ids = []string{gazette.FileChecksum}
	}
	p.deps.Observer.AddIndexed(len(ids))

	if err := p.deps.Database.MarkGazetteProcessed(ctx, gazette.ID, gazette.FileChecksum); err != nil {
		return nil, err
	}

	p.deps.Logger.Info("gazette processed",
		slog.String("file_path", gazette.FilePath),
		slog.Int("documents", len(ids)),
	)
	return ids, nil
}

// extract downloads the gazette file to a temporary file and reads its text.
// The temporary file never outlives the call.
func (p *Pipeline) extract(ctx context.Context, gazette models.Gazette) (string, error) {
	tmp, err := os.CreateTemp(p.cfg.TempDir, "gazette-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := p.deps.Storage.Get(ctx, gazette.FilePath, tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("download gazette: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}

	return p.deps.Extractor.ExtractText(ctx, tmp.Name())
}

func (p *Pipeline) indexSegments(ctx context.Context, gazette models.Gazette) ([]string, error) {
	segments := p.deps.Segmenter.Segments(ctx, gazette)
	p.deps.Observer.AddSegments(len(segments))
	if len(segments) == 0 && strings.TrimSpace(gazette.SourceText) != "" {
		return nil, fmt.Errorf("%w: territory_id=%s state_code=%q", ErrNoSegments, gazette.TerritoryID, gazette.StateCode)
	}

	ids, _ := workpool.Map(ctx, p.deps.Pool, "index_segment", segments,
		func(s models.Gazette) string { return SegmentPath(s) },
		func(ctx context.Context, segment models.Gazette) (string, error) {
			segmentPath := SegmentPath(segment)
			segment.FileRawTxt = p.fileURL(segmentPath)
			if err := p.deps.Storage.Put(ctx, segmentPath, segment.SourceText); err != nil {
				return "", fmt.Errorf("upload segment: %w", err)
			}
			if err := p.deps.Indexer.IndexDocument(ctx, p.cfg.Index, segment.FileChecksum, segment, false); err != nil {
				return "", err
			}
			return segment.FileChecksum, nil
		})
	return ids, nil
}

func (p *Pipeline) fileURL(key string) string {
	return p.cfg.FilesEndpoint + "/" + strings.TrimLeft(key, "/")
}

// TextPath is the storage key of the text rendition of a gazette file.
func TextPath(filePath string) string {
	return strings.TrimSuffix(filePath, path.Ext(filePath)) + ".txt"
}

// SegmentPath is the storage key of a segment's text.
func SegmentPath(segment models.Gazette) string {
	return fmt.Sprintf("%s/%s/%s.txt", segment.TerritoryID, segment.Date, segment.FileChecksum)
}
