package segmentation_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/segmentation"
)

const gazetteHeader = "DIÁRIO OFICIAL DOS MUNICÍPIOS DE GOIÁS"

const gazetteBody = "Prefeitura Municipal de Anápolis\nDecreto nº 1\nCódigo Identificador: ABC123\n" +
	"Prefeitura Municipal de Rio Verde\nPortaria nº 2\nCódigo Identificador: DEF456\n"

func rebuild(c segmentation.Chunked) string {
	var b strings.Builder
	b.WriteString(c.Header)
	b.WriteString("\n")
	for _, chunk := range c.Chunks {
		b.WriteString(chunk.Text)
	}
	return b.String()
}

func TestChunkerSplitsAfterIdentifierLines(t *testing.T) {
	text := gazetteHeader + "\n" + gazetteBody
	got := segmentation.NewChunker("").Split(text)

	require.Equal(t, gazetteHeader, got.Header)
	require.Len(t, got.Chunks, 2)
	require.Equal(t, 0, got.Chunks[0].Index)
	require.Equal(t, 1, got.Chunks[1].Index)
	require.True(t, strings.HasSuffix(got.Chunks[0].Text, "Código Identificador: ABC123\n"))
	require.True(t, strings.HasPrefix(got.Chunks[1].Text, "Prefeitura Municipal de Rio Verde"))
	require.Equal(t, text, rebuild(got))
}

func TestChunkerEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantHeader string
		wantChunks []string
	}{
		{
			name:       "empty text",
			text:       "  \n\t ",
			wantHeader: "",
		},
		{
			name:       "header only",
			text:       "Cabeçalho",
			wantHeader: "Cabeçalho",
		},
		{
			name:       "no marker keeps body whole",
			text:       "Cabeçalho\nlinha a\nlinha b",
			wantHeader: "Cabeçalho",
			wantChunks: []string{"linha a\nlinha b"},
		},
		{
			name:       "header trailing whitespace is trimmed",
			text:       "Cabeçalho \t\r\ncorpo\r\nCódigo Identificador: 1\r\n",
			wantHeader: "Cabeçalho",
			wantChunks: []string{"corpo\r\nCódigo Identificador: 1\r\n"},
		},
		{
			name:       "leading blank lines are skipped",
			text:       "\n\n  Cabeçalho\ncorpo",
			wantHeader: "Cabeçalho",
			wantChunks: []string{"corpo"},
		},
		{
			name:       "trailing text without marker is its own chunk",
			text:       "H\nA\nCódigo Identificador: 1\nAviso final",
			wantHeader: "H",
			wantChunks: []string{"A\nCódigo Identificador: 1\n", "Aviso final"},
		},
		{
			name:       "trailing whitespace joins the last chunk",
			text:       "H\nA\nCódigo Identificador: 1\n  \n",
			wantHeader: "H",
			wantChunks: []string{"A\nCódigo Identificador: 1\n  \n"},
		},
		{
			name:       "marker on the last line without newline",
			text:       "H\nA\nCódigo Identificador: 1",
			wantHeader: "H",
			wantChunks: []string{"A\nCódigo Identificador: 1"},
		},
	}

	chunker := segmentation.NewChunker(segmentation.IdentifierMarker)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunker.Split(tt.text)
			require.Equal(t, tt.wantHeader, got.Header)

			texts := make([]string, 0, len(got.Chunks))
			for i, c := range got.Chunks {
				require.Equal(t, i, c.Index)
				texts = append(texts, c.Text)
			}
			if tt.wantChunks == nil {
				require.Empty(t, texts)
			} else {
				require.Equal(t, tt.wantChunks, texts)
			}
		})
	}
}

func TestChunkerRoundTrip(t *testing.T) {
	texts := []string{
		gazetteHeader + "\n" + gazetteBody,
		gazetteHeader + "\n" + gazetteBody + "Errata\n",
		"H\nA\nCódigo Identificador: 1\n\n\n",
	}
	chunker := segmentation.NewChunker("")
	for _, text := range texts {
		require.Equal(t, text, rebuild(chunker.Split(text)))
	}
}

func TestChunkerCustomMarker(t *testing.T) {
	got := segmentation.NewChunker("FIM").Split("H\nbloco 1 FIM\nbloco 2 FIM\n")
	require.Len(t, got.Chunks, 2)
	require.Equal(t, "bloco 1 FIM\n", got.Chunks[0].Text)
}
