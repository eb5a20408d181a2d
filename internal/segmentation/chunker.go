package segmentation

import "strings"

// IdentifierMarker opens the line that closes every municipality block of an
// association gazette.
const IdentifierMarker = "Código Identificador:"

// Chunk is a contiguous block of an aggregated gazette body.
type Chunk struct {
	Index int
	Text  string
}

// Chunked is a gazette split into its letterhead and body blocks.
// Header + "\n" + the concatenated chunk texts rebuilds the left-trimmed input,
// except for trailing blanks on the header line.
type Chunked struct {
	Header string
	Chunks []Chunk
}

// Chunker splits aggregated gazette text at a block terminator.
type Chunker struct {
	marker string
}

// NewChunker returns a chunker cutting after each line containing marker.
// An empty marker defaults to IdentifierMarker.
func NewChunker(marker string) *Chunker {
	if marker == "" {
		marker = IdentifierMarker
	}
	return &Chunker{marker: marker}
}

// Split extracts the first line as header and cuts the rest after every line
// holding the marker, so each terminator stays with the block it closes.
func (c *Chunker) Split(text string) Chunked {
	text = strings.TrimLeft(text, " \t\r\n")
	if text == "" {
		return Chunked{}
	}

	header, body, _ := strings.Cut(text, "\n")
	out := Chunked{Header: strings.TrimRight(header, " \t\r")}

	rest := body
	for {
		i := strings.Index(rest, c.marker)
		if i < 0 {
			break
		}
		end := i + len(c.marker)
		if nl := strings.IndexByte(rest[end:], '\n'); nl >= 0 {
			end += nl + 1
		} else {
			end = len(rest)
		}
		out.Chunks = append(out.Chunks, Chunk{Index: len(out.Chunks), Text: rest[:end]})
		rest = rest[end:]
	}

	switch {
	case strings.TrimSpace(rest) != "":
		out.Chunks = append(out.Chunks, Chunk{Index: len(out.Chunks), Text: rest})
	case rest != "" && len(out.Chunks) > 0:
		out.Chunks[len(out.Chunks)-1].Text += rest
	}
	return out
}
