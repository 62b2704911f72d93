package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trim", "  삼성전자 ", "삼성전자"},
		{"collapse", "Acme   \t Corp", "acme corp"},
		{"case fold", "ACME", "acme"},
		{"full width", "ＡＣＭＥ　Ｃｏｒｐ", "acme corp"},
		{"nfc", "\u1109\u1161\u11b7", "삼"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestScoreExactAndEmpty(t *testing.T) {
	assert.Equal(t, 1.0, Score("삼성전자 ", "삼성전자"))
	assert.Equal(t, 1.0, Score("acme corp", "ACME  Corp"))
	assert.Equal(t, 0.0, Score("", "삼성전자"))
	assert.Equal(t, 0.0, Score("삼성전자", "  "))
	assert.True(t, Equal("Ａcme", "acme"))
}

func TestScoreRange(t *testing.T) {
	pairs := [][2]string{
		{"삼성전자", "(주)삼성전자"},
		{"삼성전자들", "삼성전자"},
		{"a", "completely different"},
		{"LG", "엘지"},
	}
	for _, p := range pairs {
		s := Score(p[0], p[1])
		assert.Greater(t, s, 0.0, "%q vs %q", p[0], p[1])
		assert.Less(t, s, 1.0, "%q vs %q", p[0], p[1])
	}
}

func TestScoreCorporatePrefix(t *testing.T) {
	// "(주)" adds three runes to a four-rune name: 4/(4+3).
	assert.InDelta(t, 4.0/7.0, Score("삼성전자", "(주)삼성전자"), 1e-9)
	assert.GreaterOrEqual(t, Score("삼성전자", "(주)삼성전자"), 0.55)
}

func TestScoreDecreasesWithDistance(t *testing.T) {
	query := "hyundai motor company"
	candidates := []string{
		"hyundai motor company",
		"hyundai motor compan",
		"hyundai motor",
		"hyundai",
		"kia",
	}
	prev := 2.0
	for _, c := range candidates {
		s := Score(query, c)
		assert.Less(t, s, prev, "score(%q) should drop", c)
		prev = s
	}
}

// A strict prefix of the query scores at least as high as any candidate
// that differs from the query in more characters.
func TestScorePrefixMonotonicity(t *testing.T) {
	query := "삼성전자서비스"
	runes := []rune(query)
	others := []string{"엘지전자", "삼성", "삼성물산", "현대자동차서비스", "x"}
	for i := 1; i < len(runes); i++ {
		a := string(runes[:i])
		distA := len(runes) - i
		for _, b := range others {
			if Score(query, b) == 0 {
				continue
			}
			if levenshteinRunes(query, b) <= distA {
				continue
			}
			assert.GreaterOrEqual(t, Score(query, a), Score(query, b), "prefix %q vs %q", a, b)
		}
	}
}

func levenshteinRunes(a, b string) int {
	ra, rb := []rune(Normalize(a)), []rune(Normalize(b))
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := make([]int, len(rb)+1)
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(rb)]
}
