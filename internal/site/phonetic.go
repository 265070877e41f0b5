package site

import (
	"maps"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched page to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the resolver falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.fuzzyThreshold = threshold
	}
}

// Resolver maps free-text page names from the speech model onto [Page]
// values. It is read-only after construction and safe for concurrent use.
//
// Resolution proceeds exact match, then alias, then phonetic match. The
// phonetic stage computes Double Metaphone codes for every token of the input
// and of each candidate; candidates sharing a code are ranked by Jaro-Winkler
// similarity. Without a phonetic candidate a stricter pure Jaro-Winkler pass
// runs, so that mis-transcriptions such as "galery" or "sign-up" still land.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	candidates        []candidate
}

// candidate is a resolvable name, either a page name or an alias.
type candidate struct {
	name   string
	tokens []string
	codes  map[string]struct{}
	page   Page
}

// NewResolver returns a Resolver over all pages and aliases.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	for _, p := range pages {
		r.candidates = append(r.candidates, newCandidate(string(p), p))
	}
	for _, name := range slices.Sorted(maps.Keys(aliases)) {
		r.candidates = append(r.candidates, newCandidate(name, aliases[name]))
	}
	return r
}

func newCandidate(name string, p Page) candidate {
	tokens := tokenize(name)
	return candidate{name: name, tokens: tokens, codes: codesForTokens(tokens), page: p}
}

// Resolve returns the page named by name. confidence is 1 for exact and alias
// matches and the Jaro-Winkler score for phonetic ones. ok is false when
// nothing scores above the thresholds.
func (r *Resolver) Resolve(name string) (page Page, confidence float64, ok bool) {
	if p, err := ParsePage(name); err == nil {
		return p, 1, true
	}

	key := normalize(name)
	if key == "" {
		return "", 0, false
	}
	inputTokens := tokenize(key)
	inputCodes := codesForTokens(inputTokens)

	var (
		best         candidate
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range r.candidates {
		phoneticMatch := codesOverlap(inputCodes, c.codes)
		jwScore := bestJWScore(inputTokens, c.tokens, key, c.name)

		if phoneticMatch {
			if jwScore >= r.phoneticThreshold && (!bestPhonetic || jwScore > bestScore) {
				best, bestScore, bestPhonetic = c, jwScore, true
			}
		} else if !bestPhonetic {
			if jwScore >= r.fuzzyThreshold && jwScore > bestScore {
				best, bestScore = c, jwScore
			}
		}
	}

	if best.page == "" {
		return "", 0, false
	}
	return best.page, bestScore, true
}

// tokenize splits on whitespace and hyphens: "sign-up" → ["sign", "up"].
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and a candidate using the full strings, the space-stripped strings, and the
// best pairwise token comparison.
func bestJWScore(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(candTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}

	return score
}
