package matching

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// SignificantMismatchScore is returned when two keys carry different
// significant concepts. It stays below any sensible match threshold.
const SignificantMismatchScore = 0.6

const conceptBonus = 0.3

type concept struct {
	primary   string
	secondary string
}

// significantPairs are the concepts whose presence must agree across two names.
var significantPairs = []concept{
	{"village", "виллидж"}, {"park", "парк"}, {"city", "сити"},
	{"town", "таун"}, {"garden", "гарден"}, {"house", "хаус"},
	{"collection", "коллекшн"}, {"premiere", "премьер"},
	{"smart", "умный"}, {"prime", "прайм"},
}

var unpairedConcepts = []string{"квартал", "дом", "the"}

var stopWords = map[string]bool{"новый": true, "старый": true, "большой": true, "маленький": true}

// Scorer computes word-overlap similarity between normalized building keys.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Similarity returns a score in [0,1] for two normalized keys. Identical keys
// score 1.0 and keys whose significant concepts differ score
// SignificantMismatchScore.
func (s *Scorer) Similarity(keyA, keyB string) float64 {
	if keyA == "" || keyB == "" {
		return 0.0
	}
	if keyA == keyB {
		return 1.0
	}

	words1 := wordSet(keyA)
	words2 := wordSet(keyB)
	if len(words1) == 0 || len(words2) == 0 {
		return 0.0
	}

	concepts1 := significantConcepts(words1)
	concepts2 := significantConcepts(words2)
	sameConcepts := sameConceptSet(concepts1, concepts2)
	if !sameConcepts && (len(concepts1) > 0 || len(concepts2) > 0) {
		return SignificantMismatchScore
	}

	bonus := 0.0
	if sameConcepts && len(concepts1) > 0 {
		bonus = conceptBonus
	}

	filtered1 := withoutStopWords(words1)
	filtered2 := withoutStopWords(words2)
	if len(filtered1) == 0 || len(filtered2) == 0 {
		return 0.0
	}
	if equalSets(filtered1, filtered2) {
		return 1.0
	}

	all1 := withTransliterations(filtered1)
	all2 := withTransliterations(filtered2)
	expandCompounds(all1, all2)
	expandCompounds(all2, all1)

	common := 0
	for w := range all1 {
		if all2[w] {
			common++
		}
	}

	if common > 0 {
		avg := (float64(common)/float64(len(filtered1))+float64(common)/float64(len(filtered2)))/2 + bonus
		switch {
		case avg >= 0.7:
			return min(0.95, avg+0.1)
		case avg >= 0.5:
			return avg * 0.95
		default:
			return avg * 0.8
		}
	}

	return pairwiseScore(sortedWords(filtered1), sortedWords(filtered2), bonus)
}

// ConceptsAgree reports whether two keys carry the same significant concepts.
func (s *Scorer) ConceptsAgree(keyA, keyB string) bool {
	return sameConceptSet(significantConcepts(wordSet(keyA)), significantConcepts(wordSet(keyB)))
}

func pairwiseScore(words1, words2 []string, bonus float64) float64 {
	for _, w1 := range words1 {
		for _, w2 := range words2 {
			if w1 == w2 {
				return min(0.95, 0.85+bonus)
			}

			l1, l2 := runeLen(w1), runeLen(w2)
			if l1 > 6 && l2 > 3 {
				if containsWithSmallRemainder(w1, w2) {
					return min(0.95, 0.9+bonus)
				}
			} else if l2 > 6 && l1 > 3 {
				if containsWithSmallRemainder(w2, w1) {
					return min(0.95, 0.9+bonus)
				}
			}

			if l1 > 3 && l2 > 3 {
				t1 := normalizers.Transliterate(w1)
				t2 := normalizers.Transliterate(w2)
				if t1 == w2 || w1 == t2 || t1 == t2 {
					return min(0.95, 0.9+bonus)
				}
				if runeLen(t1) > 6 {
					if containsWithSmallRemainder(t1, w2) {
						return min(0.95, 0.9+bonus)
					}
				} else if runeLen(t2) > 6 {
					if containsWithSmallRemainder(t2, w1) {
						return min(0.95, 0.9+bonus)
					}
				}
			}
		}
	}
	return 0.0
}

func containsWithSmallRemainder(long, short string) bool {
	if !strings.Contains(long, short) {
		return false
	}
	return runeLen(strings.ReplaceAll(long, short, "")) <= 4
}

func significantConcepts(words map[string]bool) map[string]bool {
	concepts := make(map[string]bool)
	for word := range words {
		if c, ok := exactConcept(word); ok {
			concepts[c] = true
			continue
		}
		for _, pair := range significantPairs {
			if strings.Contains(word, pair.primary) || strings.Contains(word, pair.secondary) {
				concepts[pair.primary] = true
			}
		}
	}
	return concepts
}

func exactConcept(word string) (string, bool) {
	for _, pair := range significantPairs {
		if word == pair.primary || word == pair.secondary {
			return pair.primary, true
		}
	}
	for _, w := range unpairedConcepts {
		if word == w {
			return w, true
		}
	}
	return "", false
}

func withTransliterations(words map[string]bool) map[string]bool {
	all := make(map[string]bool, len(words)*2)
	for w := range words {
		all[w] = true
		if normalizers.HasNonASCII(w) {
			if t := normalizers.Transliterate(w); t != w {
				all[t] = true
			}
		}
	}
	return all
}

// expandCompounds adds the parts of long words in target that can be split
// against the words of other.
func expandCompounds(target, other map[string]bool) {
	for _, w := range sortedWords(target) {
		if runeLen(w) <= 8 {
			continue
		}
		for part := range splitCompound(w, copySet(other)) {
			target[part] = true
		}
	}
}

func splitCompound(word string, others map[string]bool) map[string]bool {
	parts := map[string]bool{word: true}
	if runeLen(word) < 6 {
		return parts
	}

	for _, other := range sortedWords(others) {
		if other == "" || !strings.Contains(word, other) {
			continue
		}
		remaining := strings.ReplaceAll(word, other, "")
		if remaining == "" {
			continue
		}
		parts[other] = true
		parts[remaining] = true

		rest := copySet(others)
		delete(rest, other)
		for p := range splitCompound(remaining, rest) {
			parts[p] = true
		}
	}

	if runes := []rune(word); len(runes) > 8 {
		mid := len(runes) / 2
		if mid >= 3 && len(runes)-mid >= 3 {
			parts[string(runes[:mid])] = true
			parts[string(runes[mid:])] = true
		}
	}

	return parts
}

func wordSet(key string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(key) {
		set[w] = true
	}
	return set
}

func withoutStopWords(words map[string]bool) map[string]bool {
	out := make(map[string]bool, len(words))
	for w := range words {
		if !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func sameConceptSet(a, b map[string]bool) bool {
	return equalSets(a, b)
}

func equalSets(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func sortedWords(s map[string]bool) []string {
	words := make([]string, 0, len(s))
	for w := range s {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
