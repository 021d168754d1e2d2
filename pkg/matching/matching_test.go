package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func candidate(source models.SourceName, id, name string) Candidate {
	return Candidate{
		Ref:  models.RecordRef{Source: source, ID: id},
		Name: name,
		Key:  normalizers.NormalizeBuildingName(name),
	}
}

func TestScorer_Similarity(t *testing.T) {
	s := NewScorer()
	key := func(name string) string { return normalizers.NormalizeBuildingName(name) }

	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical keys", key("ЖК Акварель"), key("ЖК Акварель"), 1.0, 1.0},
		{"equivalent names", key("ЖК «Акварель»"), key("Акварель"), 1.0, 1.0},
		{"significant concept only on one side", key("Лесной"), key("Лесной Village"), 0, SignificantMismatchScore},
		{"different park concept", key("Родина Парк"), key("Родина"), 0, SignificantMismatchScore},
		{"unrelated", key("Акварель"), key("Космос"), 0, 0},
		{"one shared word of two", key("Новые Горизонты"), key("Горизонты"), 0.8, 0.95},
		{"transliterated latin name", key("Atlantis"), key("Атлантис"), 0.8, 0.95},
		{"stop words ignored", key("Новый Космос"), key("Космос"), 0.8, 0.95},
		{"empty key", "", key("Акварель"), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := s.Similarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, score, tt.min)
			assert.LessOrEqual(t, score, tt.max)
		})
	}
}

func TestScorer_SelfSimilarity(t *testing.T) {
	s := NewScorer()
	for _, name := range []string{"ЖК Акварель", "Village Park", "Дом на Набережной", "ЖК 8 Марта"} {
		k := normalizers.NormalizeBuildingName(name)
		assert.Equal(t, 1.0, s.Similarity(k, k), name)
	}
}

func TestScorer_ConceptsAgree(t *testing.T) {
	s := NewScorer()
	assert.True(t, s.ConceptsAgree("village park", "виллидж парк"))
	assert.False(t, s.ConceptsAgree("лесной", "лесной village"))
	assert.True(t, s.ConceptsAgree("акварель", "космос"))
}

func TestConsumedSet(t *testing.T) {
	a := models.RecordRef{Source: models.SourceAvito, ID: "1"}
	b := models.RecordRef{Source: models.SourceDomClick, ID: "1"}

	set := NewConsumedSet()
	assert.Equal(t, 0, set.Len())
	assert.False(t, set.Has(a))

	set.Add(a, a)
	assert.True(t, set.Has(a))
	assert.False(t, set.Has(b))
	assert.Equal(t, 1, set.Len())

	t.Run("overlay reads through and stays local until commit", func(t *testing.T) {
		layer := set.Overlay()
		layer.Add(a, b)
		assert.True(t, layer.Has(a))
		assert.True(t, layer.Has(b))
		assert.Equal(t, 2, layer.Len())
		assert.False(t, set.Has(b))

		layer.Commit()
		assert.True(t, set.Has(b))
		assert.Equal(t, 2, set.Len())
		assert.Equal(t, 2, layer.Len())
		assert.Equal(t, []string{"avito/1", "domclick/1"}, set.Keys())
	})

	t.Run("discarded overlay leaves parent untouched", func(t *testing.T) {
		c := models.RecordRef{Source: models.SourceCian, ID: "1"}
		layer := set.Overlay()
		layer.Add(c)
		assert.False(t, set.Has(c))
	})

	t.Run("commit without parent is a no-op", func(t *testing.T) {
		set.Commit()
		assert.Equal(t, 2, set.Len())
	})
}

func TestMatcher_Match(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(testLogger(), nil)

	t.Run("greedy exclusive in input order", func(t *testing.T) {
		sources := []Candidate{
			candidate(models.SourceDomRF, "r1", "ЖК Акварель"),
			candidate(models.SourceDomRF, "r2", "Акварель"),
		}
		targets := []Candidate{
			candidate(models.SourceAvito, "a1", "Акварель"),
		}

		result := m.Match(ctx, sources, targets, DefaultThreshold, NewConsumedSet())
		require.Len(t, result.Pairs, 1)
		assert.Equal(t, "r1", result.Pairs[0].Source.Ref.ID)
		assert.Equal(t, "a1", result.Pairs[0].Target.Ref.ID)
		require.Len(t, result.Unmatched, 1)
		assert.Equal(t, "r2", result.Unmatched[0].Ref.ID)
	})

	t.Run("accepted targets are claimed", func(t *testing.T) {
		consumed := NewConsumedSet()
		sources := []Candidate{candidate(models.SourceDomRF, "r1", "Акварель")}
		targets := []Candidate{candidate(models.SourceAvito, "a1", "Акварель")}

		m.Match(ctx, sources, targets, DefaultThreshold, consumed)
		assert.True(t, consumed.Has(targets[0].Ref))
		assert.Equal(t, 1, consumed.Len())
	})

	t.Run("overlay keeps claims tentative", func(t *testing.T) {
		consumed := NewConsumedSet()
		trial := consumed.Overlay()
		sources := []Candidate{candidate(models.SourceDomRF, "r1", "Акварель")}
		targets := []Candidate{candidate(models.SourceAvito, "a1", "Акварель")}

		result := m.Match(ctx, sources, targets, DefaultThreshold, trial)
		require.Len(t, result.Pairs, 1)
		assert.True(t, trial.Has(targets[0].Ref))
		assert.Zero(t, consumed.Len())
	})

	t.Run("skips already consumed targets", func(t *testing.T) {
		targets := []Candidate{candidate(models.SourceAvito, "a1", "Акварель")}
		consumed := NewConsumedSet(targets[0].Ref)

		result := m.Match(ctx, []Candidate{candidate(models.SourceDomRF, "r1", "Акварель")}, targets, DefaultThreshold, consumed)
		assert.Empty(t, result.Pairs)
		assert.Len(t, result.Unmatched, 1)
	})

	t.Run("significant concept mismatch never matches", func(t *testing.T) {
		result := m.Match(ctx,
			[]Candidate{candidate(models.SourceDomRF, "r1", "Лесной")},
			[]Candidate{candidate(models.SourceAvito, "a1", "Лесной Village")},
			DefaultThreshold, NewConsumedSet())
		assert.Empty(t, result.Pairs)
	})

	t.Run("empty name is unmatched", func(t *testing.T) {
		result := m.Match(ctx,
			[]Candidate{{Ref: models.RecordRef{Source: models.SourceDomRF, ID: "r1"}}},
			[]Candidate{candidate(models.SourceAvito, "a1", "Акварель")},
			DefaultThreshold, NewConsumedSet())
		assert.Empty(t, result.Pairs)
		assert.Len(t, result.Unmatched, 1)
	})

	t.Run("picks highest scoring target", func(t *testing.T) {
		targets := []Candidate{
			candidate(models.SourceAvito, "a1", "Новые Горизонты"),
			candidate(models.SourceAvito, "a2", "Горизонты"),
		}
		result := m.Match(ctx, []Candidate{candidate(models.SourceDomRF, "r1", "Горизонты")}, targets, DefaultThreshold, NewConsumedSet())
		require.Len(t, result.Pairs, 1)
		assert.Equal(t, "a2", result.Pairs[0].Target.Ref.ID)
	})
}

type fakeEmbedding struct {
	score float64
	err   error
	calls int
}

func (f *fakeEmbedding) Similarity(_ context.Context, _, _ string) (float64, error) {
	f.calls++
	return f.score, f.err
}

func TestMatcher_Embedding(t *testing.T) {
	ctx := context.Background()
	sources := []Candidate{candidate(models.SourceDomRF, "r1", "Солнечный Берег")}
	targets := []Candidate{candidate(models.SourceAvito, "a1", "Берег Солнца")}

	t.Run("upgrades score when concepts agree", func(t *testing.T) {
		emb := &fakeEmbedding{score: 0.92}
		result := NewMatcher(testLogger(), emb).Match(ctx, sources, targets, DefaultThreshold, NewConsumedSet())
		require.Len(t, result.Pairs, 1)
		assert.Equal(t, MethodEmbedding, result.Pairs[0].Method)
		assert.Equal(t, 1, emb.calls)
	})

	t.Run("failure degrades to word overlap", func(t *testing.T) {
		emb := &fakeEmbedding{err: errors.New("timeout")}
		result := NewMatcher(testLogger(), emb).Match(ctx, sources, targets, DefaultThreshold, NewConsumedSet())
		assert.Empty(t, result.Pairs)
		assert.Len(t, result.Unmatched, 1)
	})

	t.Run("never overrides a concept mismatch", func(t *testing.T) {
		emb := &fakeEmbedding{score: 0.99}
		result := NewMatcher(testLogger(), emb).Match(ctx,
			[]Candidate{candidate(models.SourceDomRF, "r1", "Лесной")},
			[]Candidate{candidate(models.SourceAvito, "a1", "Лесной Village")},
			DefaultThreshold, NewConsumedSet())
		assert.Empty(t, result.Pairs)
		assert.Zero(t, emb.calls)
	})
}
