// Package search ranks stored fragments against a query vector by exact
// cosine similarity. Every query scans all candidates, O(N·D).
package search

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"gopherai-rag/internal/model"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidTopK       = errors.New("top-k must be greater than zero")
)

// Result is one ranked fragment. Distance is 1 - Score.
type Result struct {
	FragmentID uint    `json:"id"`
	SourceID   uint    `json:"source_id"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	Distance   float64 `json:"distance"`
}

type Options struct {
	TopK int
	// MinScore drops results scoring below it before truncation to TopK.
	MinScore *float64
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero norm.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Rank scores every fragment, orders by score descending then fragment id
// ascending, applies the optional threshold and keeps at most TopK.
func Rank(query []float32, fragments []model.Fragment, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		return nil, ErrInvalidTopK
	}

	results := make([]Result, 0, len(fragments))
	for i := range fragments {
		f := &fragments[i]
		score, err := Cosine(query, f.Embedding)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", f.ID, err)
		}
		if opts.MinScore != nil && score < *opts.MinScore {
			continue
		}
		results = append(results, Result{
			FragmentID: f.ID,
			SourceID:   f.SourceID,
			Snippet:    f.Snippet,
			Score:      score,
			Distance:   1 - score,
		})
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.FragmentID, b.FragmentID)
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}
