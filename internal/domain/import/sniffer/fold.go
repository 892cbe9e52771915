package sniffer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s, trims it and strips diacritics, so "Descrição" and
// "DESCRICAO" compare equal.
func Fold(s string) string {
	// transform.Chain keeps state, so a fresh one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// KeywordSet finds any of a fixed list of keywords in a single pass over the
// folded input.
type KeywordSet struct {
	mu       sync.Mutex
	keywords []string
	matcher  *ahocorasick.Matcher
}

// NewKeywordSet builds a matcher over the folded keywords.
func NewKeywordSet(keywords ...string) *KeywordSet {
	folded := make([]string, len(keywords))
	for i, k := range keywords {
		folded[i] = Fold(k)
	}
	return &KeywordSet{
		keywords: folded,
		matcher:  ahocorasick.NewStringMatcher(folded),
	}
}

// Find returns the keywords present in text.
func (k *KeywordSet) Find(text string) []string {
	in := []byte(Fold(text))

	k.mu.Lock()
	hits := k.matcher.Match(in)
	k.mu.Unlock()

	found := make([]string, 0, len(hits))
	for _, idx := range hits {
		if idx >= 0 && idx < len(k.keywords) {
			found = append(found, k.keywords[idx])
		}
	}
	return found
}

// Contains reports whether any keyword occurs in text.
func (k *KeywordSet) Contains(text string) bool {
	return len(k.Find(text)) > 0
}
