package ner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/ner"
)

func TestDictionaryPrefersLongestName(t *testing.T) {
	d := ner.NewDictionary([]string{"Goiânia", "Aparecida de Goiânia", "Goiânia", " "})

	got, err := d.Recognize(context.Background(), "Prefeitura de Aparecida de Goiânia e Goiânia")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Aparecida de Goiânia", got[0].Text)
	require.Equal(t, 14, got[0].Start)
	require.Equal(t, "Goiânia", got[1].Text)
	for _, e := range got {
		require.Equal(t, models.LocationLabel, e.Label)
	}
}

func TestDictionaryNoMatch(t *testing.T) {
	got, err := ner.NewDictionary([]string{"Anápolis"}).Recognize(context.Background(), "nada aqui")
	require.NoError(t, err)
	require.Empty(t, got)
}
