package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBuildingName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"prefix and quotes", "ЖК «Акварель»", "акварель akvarel"},
		{"bare name", "Акварель", "акварель akvarel"},
		{"parenthetical and generic words", "Жилой комплекс Акварель (Akvarel)", "акварель akvarel"},
		{"latin significant words", "ЖК Village Park", "village park"},
		{"significant short word kept", "Дом на Набережной", "дом набережной naberezhnoy"},
		{"digits dropped", "ЖК 8 Марта", "марта marta"},
		{"only numbering", "Литер 5, этап 2", ""},
		{"yo transliteration", "ЖК Ёлки", "ёлки yolki"},
		{"mixed scripts", "ЖК Зубово Life Garden", "зубово life garden zubovo"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBuildingName(tt.input))
		})
	}
}

func TestNormalizeBuildingName_Idempotent(t *testing.T) {
	inputs := []string{
		"ЖК «Акварель»",
		"Дом на Набережной",
		"ЖК Зубово Life Garden",
		"Клубный дом «Премьер»",
		"ЖК Квартал Родина Парк",
		"ЖК Atlantis Atlantis",
		"Литер 5",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			once := NormalizeBuildingName(input)
			assert.Equal(t, once, NormalizeBuildingName(once))
		})
	}
}

func TestNormalizeBuildingName_EquivalentNames(t *testing.T) {
	assert.Equal(t, NormalizeBuildingName("ЖК «Акварель»"), NormalizeBuildingName("Акварель"))
	assert.Equal(t, NormalizeBuildingName("жилой комплекс Космос"), NormalizeBuildingName("ЖК \"Космос\""))
}

func TestTransliterate(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"акварель", "akvarel"},
		{"щука", "schuka"},
		{"объект", "obekt"},
		{"Юг", "Yug"},
		{"park", "park"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Transliterate(tt.input))
		})
	}
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "hello world", ApplyChain("  Hello,   World! ", "lowercase", "remove_punctuation", "collapse_whitespace"))
	assert.Equal(t, "unchanged", Apply("unchanged", "does_not_exist"))

	fn, ok := Get("nbuilding")
	assert.True(t, ok)
	assert.Equal(t, "акварель akvarel", fn("ЖК Акварель"))
}
