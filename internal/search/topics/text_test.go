package topics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "revenue q grew", clean("Revenue, Q3 2023 grew!!"))
	assert.Equal(t, "", clean("  42 -- 7  "))
	assert.Equal(t, []string{"revenue", "grew"}, terms("the revenue q grew"))
}

func TestBuildVocabulary(t *testing.T) {
	docs := [][]string{
		{"revenue", "profit", "common"},
		{"revenue", "loss", "common"},
		{"revenue", "profit", "common"},
		{"patient", "common"},
		{"patient", "common"},
	}

	t.Run("document frequency window", func(t *testing.T) {
		// common appears everywhere and exceeds max_df; loss appears once
		assert.Equal(t, []string{"patient", "profit", "revenue"}, buildVocabulary(docs, defaultVocab))
	})

	t.Run("max terms keeps the most frequent", func(t *testing.T) {
		cfg := defaultVocab
		cfg.maxTerms = 1
		assert.Equal(t, []string{"revenue"}, buildVocabulary(docs, cfg))
	})

	t.Run("falls back when the window is empty", func(t *testing.T) {
		vocab := buildVocabulary([][]string{{"alpha"}, {"beta"}}, defaultVocab)
		assert.Equal(t, []string{"alpha", "beta"}, vocab)
	})
}

func TestTFIDF_IsUnitLength(t *testing.T) {
	bags := []map[int]int{{0: 2, 1: 1}, {1: 3}}
	idf := smoothIDF(bags, 2)
	assert.Greater(t, idf[0], idf[1])

	vec := tfidf(bags[0], idf)
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
	assert.Equal(t, []float64{0, 0}, tfidf(map[int]int{}, idf))
}

func TestFoldIn(t *testing.T) {
	phi := [][]float64{
		{0.9, 0.1},
		{0.1, 0.9},
	}
	theta := foldIn(phi, 0.5, map[int]int{0: 3})
	require.Len(t, theta, 2)
	assert.InDelta(t, 1.0, theta[0]+theta[1], 1e-9)
	assert.Greater(t, theta[0], theta[1])
	assert.Equal(t, []float64{0.5, 0.5}, foldIn(phi, 0.5, nil))
}

func TestLDA_SeparatesDisjointVocabularies(t *testing.T) {
	docs := [][]int{
		{0, 1, 2, 0, 1, 2},
		{0, 0, 1, 2, 2},
		{3, 4, 5, 3, 4, 5},
		{3, 3, 4, 5, 5},
	}
	fit, err := lda{k: 2, vocabSize: 6, alpha: 0.5, beta: 0.5, iterations: 200, seed: 7}.fit(context.Background(), docs)
	require.NoError(t, err)

	assert.Equal(t, argmax(fit.theta[0]), argmax(fit.theta[1]))
	assert.Equal(t, argmax(fit.theta[2]), argmax(fit.theta[3]))
	assert.NotEqual(t, argmax(fit.theta[0]), argmax(fit.theta[2]))

	for _, row := range fit.phi {
		var sum float64
		for _, p := range row {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestKMeans(t *testing.T) {
	rows := [][]float64{
		{1, 0}, {0.9, 0.1}, {0.95, 0.05},
		{0, 1}, {0.1, 0.9},
	}
	centroids, assign := kmeans(rows, 2, 42)
	require.Len(t, centroids, 2)
	assert.Equal(t, assign[0], assign[1])
	assert.Equal(t, assign[0], assign[2])
	assert.Equal(t, assign[3], assign[4])
	assert.NotEqual(t, assign[0], assign[3])

	_, small := kmeans(rows[:1], 5, 42)
	assert.Equal(t, []int{0}, small)
}
