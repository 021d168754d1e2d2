package normalizers

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var parentheticalRe = regexp.MustCompile(`\([^)]*\)`)

// commonWords are generic building-domain words dropped from keys.
var commonWords = toSet(
	"жк", "жилой", "комплекс", "дома", "квартиры", "поселок",
	"литер", "литера", "секции", "этап", "очередь",
	"клубный", "микрорайон", "красочный",
	"апартаментов", "апартаменты", "высотных", "экогород",
	"клубная", "резиденция", "группа", "компаний", "комплекса",
)

// significantWords are never dropped, even when short or generic.
var significantWords = toSet(
	"village", "виллидж", "park", "парк", "city", "сити",
	"town", "таун", "garden", "гарден", "house", "хаус",
	"collection", "коллекшн", "квартал", "premiere", "премьер",
	"умный", "smart", "дом", "the", "prime",
)

// numberingWords mark phases and sections rather than the building itself.
var numberingWords = toSet("литер", "литера", "секции", "секция", "этап", "очередь", "паркинг")

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// IsSignificant reports whether a word is on the significant allow-list.
func IsSignificant(word string) bool {
	return significantWords[word]
}

// NormalizeBuildingName turns a building display name into its matching key.
//
// The key holds the filtered Cyrillic tokens followed by the Latin
// transliterations that are not already present, so "ЖК «Акварель»" and
// "Акварель" both produce "акварель akvarel". The function is idempotent.
func NormalizeBuildingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}

	s := strings.ToLower(norm.NFKC.String(name))
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = CollapseWhitespace(RemovePunctuation(s))

	tokens := make([]string, 0)
	seen := make(map[string]bool)
	for _, token := range strings.Fields(s) {
		if !keepToken(token) || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}

	filtered := len(tokens)
	for i := 0; i < filtered; i++ {
		token := tokens[i]
		latin := Transliterate(token)
		if latin == token || seen[latin] || !keepToken(latin) {
			continue
		}
		seen[latin] = true
		tokens = append(tokens, latin)
	}

	return strings.Join(tokens, " ")
}

func keepToken(token string) bool {
	if commonWords[token] && !significantWords[token] {
		return false
	}
	if numberingWords[token] {
		return false
	}
	if isDigits(token) {
		return false
	}
	if utf8.RuneCountInString(token) <= 3 && isAlpha(token) && !significantWords[token] {
		return false
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// NormalizeListName normalizes an entry of a configured name list (force-replace,
// copy-only) so it compares against entity keys.
func NormalizeListName(name string) string {
	return NormalizeBuildingName(name)
}
