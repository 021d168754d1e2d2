// Package matching decides which records from different sources describe the same building
package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultThreshold is the minimum score for two names to be considered the same building.
const DefaultThreshold = 0.8

const (
	MethodWords     = "words"
	MethodEmbedding = "embedding"
)

// EmbeddingMatcher scores two names semantically. It is a secondary signal
// consulted only when word overlap falls short.
type EmbeddingMatcher interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Candidate is one matchable record.
type Candidate struct {
	Ref  models.RecordRef
	Name string
	Key  string
}

// CandidateFromRecord builds a candidate from a source record.
func CandidateFromRecord(r models.SourceRecord) Candidate {
	return Candidate{Ref: r.Ref(), Name: r.DisplayName, Key: r.NormalizedKey}
}

// Pair is an accepted match.
type Pair struct {
	Source Candidate
	Target Candidate
	Score  float64
	Method string
}

// MatchResult is the outcome of one Match call.
type MatchResult struct {
	Pairs     []Pair
	Unmatched []Candidate
}

// Matcher pairs candidates greedily in input order.
type Matcher struct {
	logger    ectologger.Logger
	scorer    *Scorer
	embedding EmbeddingMatcher
}

// NewMatcher creates a matcher. embedding may be nil.
func NewMatcher(logger ectologger.Logger, embedding EmbeddingMatcher) *Matcher {
	return &Matcher{
		logger:    logger,
		scorer:    NewScorer(),
		embedding: embedding,
	}
}

// Scorer exposes the word-overlap scorer.
func (m *Matcher) Scorer() *Scorer {
	return m.scorer
}

// Match pairs each source with its best unconsumed target scoring at least
// threshold. Matching is exclusive: a target accepted for one source is not
// offered to later sources. Accepted targets are added to consumed; pass an
// Overlay to keep the claims tentative.
func (m *Matcher) Match(ctx context.Context, sources, targets []Candidate, threshold float64, consumed *ConsumedSet) MatchResult {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Match")
	defer span.End()

	result := MatchResult{
		Pairs:     make([]Pair, 0),
		Unmatched: make([]Candidate, 0),
	}

	for _, source := range sources {
		log := m.logger.WithContext(ctx).WithFields(map[string]any{
			"source":    source.Ref.String(),
			"name":      source.Name,
			"threshold": threshold,
		})

		if source.Key == "" {
			log.Warn("Source record has no usable name, skipping match")
			metrics.RecordIntegrityWarning("empty_name")
			metrics.RecordMatch(string(source.Ref.Source), MethodWords, 0, false)
			result.Unmatched = append(result.Unmatched, source)
			continue
		}

		best := -1
		bestScore := 0.0
		bestMethod := MethodWords
		for i, target := range targets {
			if consumed.Has(target.Ref) {
				continue
			}
			score, method := m.score(ctx, source.Key, target.Key, threshold)
			if score > bestScore {
				best, bestScore, bestMethod = i, score, method
			}
			if score >= 1.0 {
				break
			}
		}

		if best < 0 || bestScore < threshold {
			log.WithField("best_score", bestScore).Debug("No match above threshold")
			metrics.RecordMatch(string(source.Ref.Source), bestMethod, bestScore, false)
			result.Unmatched = append(result.Unmatched, source)
			continue
		}

		target := targets[best]
		consumed.Add(target.Ref)
		result.Pairs = append(result.Pairs, Pair{Source: source, Target: target, Score: bestScore, Method: bestMethod})
		metrics.RecordMatch(string(source.Ref.Source), bestMethod, bestScore, true)

		log.WithFields(map[string]any{
			"target":      target.Ref.String(),
			"target_name": target.Name,
			"score":       bestScore,
			"method":      bestMethod,
		}).Debug("Matched source record")
	}

	return result
}

// score returns the word-overlap score, upgraded by the embedding matcher when
// words fall short and the significant concepts agree.
func (m *Matcher) score(ctx context.Context, a, b string, threshold float64) (float64, string) {
	score := m.scorer.Similarity(a, b)
	if score >= threshold || m.embedding == nil || !m.scorer.ConceptsAgree(a, b) {
		return score, MethodWords
	}

	semantic, err := m.embedding.Similarity(ctx, a, b)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"a": a,
			"b": b,
		}).Warn("Embedding matcher failed, using word overlap")
		return score, MethodWords
	}

	if semantic > score {
		return semantic, MethodEmbedding
	}
	return score, MethodWords
}
