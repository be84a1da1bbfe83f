// matcher.go: face matching policies
package recognition

import (
	"math"

	"github.com/classtrack/classtrack-go/internal/conf"
)

// KnownFace is one enrolled student's primary embedding, decoded and ready
// for comparison.
type KnownFace struct {
	StudentID uint
	FullName  string
	Embedding []float32
}

// MatchResult identifies the accepted candidate and the confidence reported
// to viewers.
type MatchResult struct {
	StudentID  uint
	FullName   string
	Confidence float64
}

// Matcher decides whether a detected face belongs to a known student. A
// Matcher is pure and deterministic; identical inputs always produce the
// same result. The boolean is false when no known face passes the policy's
// threshold.
type Matcher interface {
	Match(candidate []float32, known []KnownFace) (MatchResult, bool)
}

// NewMatcher selects the matching policy for the configured engine mode.
func NewMatcher(settings *conf.RecognitionSettings) Matcher {
	if settings.Mode == conf.ModeSimilarity {
		return &SimilarityMatcher{Threshold: settings.SimilarityThreshold}
	}
	return &DistanceMatcher{Threshold: settings.DistanceThreshold}
}

// DistanceMatcher accepts the nearest known face by Euclidean distance when
// it falls within the threshold. Confidence is max(0, 1-distance).
type DistanceMatcher struct {
	Threshold float64
}

func (m *DistanceMatcher) Match(candidate []float32, known []KnownFace) (MatchResult, bool) {
	best := MatchResult{}
	bestDistance := math.Inf(1)
	found := false

	for i := range known {
		if len(known[i].Embedding) != len(candidate) {
			continue
		}
		d := euclideanDistance(candidate, known[i].Embedding)
		if d < bestDistance {
			bestDistance = d
			best = MatchResult{
				StudentID:  known[i].StudentID,
				FullName:   known[i].FullName,
				Confidence: math.Max(0, 1-d),
			}
			found = true
		}
	}

	if !found || bestDistance > m.Threshold {
		return MatchResult{}, false
	}
	return best, true
}

// SimilarityMatcher accepts the most similar known face by cosine similarity
// when it reaches the threshold. Both vectors are L2-normalized first; the
// similarity itself is the reported confidence.
type SimilarityMatcher struct {
	Threshold float64
}

func (m *SimilarityMatcher) Match(candidate []float32, known []KnownFace) (MatchResult, bool) {
	normalized := l2Normalize(candidate)

	best := MatchResult{}
	bestSimilarity := math.Inf(-1)
	found := false

	for i := range known {
		if len(known[i].Embedding) != len(candidate) {
			continue
		}
		s := dotProduct(normalized, l2Normalize(known[i].Embedding))
		if s > bestSimilarity {
			bestSimilarity = s
			best = MatchResult{
				StudentID:  known[i].StudentID,
				FullName:   known[i].FullName,
				Confidence: s,
			}
			found = true
		}
	}

	if !found || bestSimilarity < m.Threshold {
		return MatchResult{}, false
	}
	return best, true
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// l2Normalize scales the vector to unit length. The epsilon guards against
// zero-length vectors.
func l2Normalize(v []float32) []float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + 1e-9

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out
}

func dotProduct(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
