package ner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	khugot "github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

const (
	defaultOnnxFilename = "model.onnx"
	defaultWindow       = 1500
)

// Config describes the token classification model.
type Config struct {
	ModelPath    string
	OnnxFilename string
	// MinScore drops entities the model is less confident about.
	MinScore float32
	// Window is the maximum number of bytes sent to the model at once.
	Window int
}

// Recognizer runs a token classification model through hugot's pure Go
// backend. It is loaded once and shared by every worker.
type Recognizer struct {
	session  *khugot.Session
	pipeline *pipelines.TokenClassificationPipeline
	minScore float32
	window   int
	log      *slog.Logger
}

// New loads the model at cfg.ModelPath.
func New(cfg Config, logger *slog.Logger) (*Recognizer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required for entity recognition")
	}
	if cfg.OnnxFilename == "" {
		cfg.OnnxFilename = defaultOnnxFilename
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	session, err := khugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	pipeline, err := khugot.NewPipeline(session, khugot.TokenClassificationConfig{
		ModelPath:    cfg.ModelPath,
		OnnxFilename: cfg.OnnxFilename,
		Name:         fmt.Sprintf("%s:%s", cfg.ModelPath, cfg.OnnxFilename),
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("create token classification pipeline: %w", err)
	}
	pipeline.AggregationStrategy = "SIMPLE"

	logger.Info("entity recognizer loaded",
		slog.String("model_path", cfg.ModelPath),
		slog.String("onnx_filename", cfg.OnnxFilename),
	)
	return &Recognizer{
		session:  session,
		pipeline: pipeline,
		minScore: cfg.MinScore,
		window:   cfg.Window,
		log:      logger,
	}, nil
}

// Recognize returns the entities found in text with offsets into text.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]models.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var out []models.Entity
	for _, w := range windows(text, r.window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		output, err := r.pipeline.RunPipeline([]string{w.text})
		if err != nil {
			return nil, fmt.Errorf("run token classification: %w", err)
		}
		if len(output.Entities) == 0 {
			continue
		}
		out = append(out, convert(output.Entities[0], w.offset, r.minScore)...)
	}
	r.log.Debug("entities recognized", slog.Int("text_length", len(text)), slog.Int("entities", len(out)))
	return out, nil
}

// Close releases the hugot session.
func (r *Recognizer) Close() error {
	if r.session == nil {
		return nil
	}
	return r.session.Destroy()
}

func convert(entities []pipelines.Entity, offset int, minScore float32) []models.Entity {
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Score < minScore {
			continue
		}
		out = append(out, models.Entity{
			Label: normalizeLabel(e.Entity),
			Text:  strings.TrimSpace(e.Word),
			Start: offset + int(e.Start),
			End:   offset + int(e.End),
			Score: e.Score,
		})
	}
	return out
}

// normalizeLabel maps IOB tags such as "B-LOC" or "I-Local" onto LocationLabel
// and upper-cases the rest.
func normalizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if len(label) > 2 && (label[:2] == "B-" || label[:2] == "I-") {
		label = label[2:]
	}
	switch label {
	case "LOC", "LOCAL", "LOCATION", "GPE":
		return models.LocationLabel
	}
	return label
}

type window struct {
	text   string
	offset int
}

// windows cuts text into pieces of at most size bytes, preferring line breaks
// and never splitting a rune.
func windows(text string, size int) []window {
	if len(text) <= size {
		return []window{{text: text}}
	}

	var out []window
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			out = append(out, window{text: text[start:], offset: start})
			break
		}
		if nl := strings.LastIndexByte(text[start:end], '\n'); nl > 0 {
			end = start + nl + 1
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
		}
		out = append(out, window{text: text[start:end], offset: start})
		start = end
	}
	return out
}
