package segmentation_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/segmentation"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

func aggregatedGazette() models.Gazette {
	g := parentGazette()
	g.SourceText = gazetteHeader + "\n" + gazetteBody +
		"Aviso de licitação consorciada\nCódigo Identificador: GHI789\n"
	return g
}

func TestSegmenterSplitsAggregatedGazette(t *testing.T) {
	pool, err := workpool.New(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	segments := segmentation.NewSegmenter(testRegistry(), allNames, pool).Segments(context.Background(), aggregatedGazette())
	require.Len(t, segments, 3)

	require.Equal(t, "Anápolis", segments[0].TerritoryName)
	require.Equal(t, "Rio Verde", segments[1].TerritoryName)
	require.Equal(t, "5200000", segments[2].TerritoryID)

	for _, s := range segments {
		require.True(t, strings.HasPrefix(s.SourceText, gazetteHeader))
		require.NotEqual(t, "parent-checksum", s.FileChecksum)
		require.False(t, s.IsFragmented)
	}
}

func TestSegmenterWithoutPool(t *testing.T) {
	segments := segmentation.NewSegmenter(testRegistry(), allNames, nil).Segments(context.Background(), aggregatedGazette())
	require.Len(t, segments, 3)
}

func TestSegmenterRecognizerPanicFallsBackToAssociation(t *testing.T) {
	log, buf := testLogger()
	recognizer := recognizerFunc(func(context.Context, string) ([]models.Entity, error) {
		panic("onnx session crashed")
	})

	segments := segmentation.NewSegmenter(testRegistry(), recognizer, nil, segmentation.WithLogger(log)).
		Segments(context.Background(), aggregatedGazette())

	require.Len(t, segments, 1)
	require.Equal(t, "5200000", segments[0].TerritoryID)
	require.True(t, segments[0].IsFragmented)
	require.Contains(t, segments[0].SourceText, "Código Identificador: ABC123")
	require.Contains(t, segments[0].SourceText, "Código Identificador: GHI789")
	require.Contains(t, buf.String(), "gazette segmented")
}

func TestSegmenterEmptyText(t *testing.T) {
	g := parentGazette()
	g.SourceText = "só o cabeçalho"
	require.Empty(t, segmentation.NewSegmenter(testRegistry(), allNames, nil).Segments(context.Background(), g))
}
