package textextract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
)

var pdfMagic = []byte("%PDF-")

// Extractor reads the text of downloaded gazette files. PDFs go through the
// pdf reader, anything else must already be UTF-8 text.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// ExtractText returns the repaired text of the file at path. Every failure
// wraps models.ErrExtraction.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	head, err := readHead(path, len(pdfMagic))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}

	var text string
	if bytes.HasPrefix(head, pdfMagic) {
		text, err = extractPDF(path)
	} else {
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrExtraction, path, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no text", models.ErrExtraction, path)
	}
	return processing.FixUnicode(text), nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head, err := bufio.NewReader(f).Peek(n)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return head, nil
}

func extractPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.New("unsupported binary format")
	}
	return string(raw), nil
}

// extractPDF recovers from the panics the pdf reader raises on malformed
// cross-reference tables.
func extractPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
