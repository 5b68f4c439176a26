// Package transcript normalizes speech recognition output against a
// position-specific vocabulary.
//
// ASR backends routinely garble technical jargon: framework names, acronyms,
// and product names come back as phonetically similar everyday words
// ("cooper netties" for "Kubernetes"). The Normalizer aligns transcript
// tokens to the interview position's vocabulary in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token window and each vocabulary term. A term whose codes overlap
//     the window's codes becomes a candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the highest similarity
//     wins, provided it clears the phonetic threshold (default 0.70). When no
//     phonetic candidate exists, a pure similarity pass applies with a
//     stricter fuzzy threshold (default 0.85).
//
// Multi-word terms ("spring boot") are matched with n-gram windows, longest
// window first, so a full term beats a partial single-word match.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replacement the normalizer made.
type Correction struct {
	// Original is the token window as transcribed.
	Original string

	// Term is the vocabulary term it was replaced with.
	Term string

	// Confidence is the Jaro-Winkler similarity of the accepted match.
	Confidence float64
}

// Option is a functional option for configuring a Normalizer.
type Option func(*Normalizer)

// WithPhoneticThreshold sets the minimum similarity required for a
// phonetically matched term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		n.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity required when no phonetic
// candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		n.fuzzyThreshold = threshold
	}
}

// term is a vocabulary entry with its precomputed phonetic codes.
type term struct {
	display string
	lower   string
	tokens  []string
	codes   map[string]struct{}
}

// Normalizer aligns transcript text against a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Normalizer struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxTermWords      int
}

// New builds a Normalizer for the given vocabulary. Phonetic codes are
// computed once here; the vocabulary is fixed for the life of the session.
// An empty vocabulary yields a pass-through Normalizer.
func New(vocabulary []string, opts ...Option) *Normalizer {
	n := &Normalizer{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(n)
	}

	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		n.terms = append(n.terms, term{
			display: strings.TrimSpace(v),
			lower:   lower,
			tokens:  tokens,
			codes:   codesForTokens(tokens),
		})
		if len(tokens) > n.maxTermWords {
			n.maxTermWords = len(tokens)
		}
	}
	return n
}

// Normalize scans text for near-misses of vocabulary terms and replaces them.
// At each position it tries n-gram windows from the longest term size down to
// one token, accepting the first window that matches so multi-word terms take
// precedence. Unmatched tokens pass through untouched.
func (n *Normalizer) Normalize(text string) (string, []Correction) {
	if len(n.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := n.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for size := maxN; size >= 1; size-- {
			window := strings.Join(tokens[i:i+size], " ")
			t, conf, ok := n.match(window)
			if !ok {
				continue
			}
			// An exact hit needs no rewriting, and recording it as a
			// correction would be noise.
			if strings.EqualFold(window, t) {
				break
			}
			output = append(output, strings.Fields(t)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Term:       t,
				Confidence: conf,
			})
			i += size
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// match tests one token window against the vocabulary. Phonetic candidates
// are preferred over pure-similarity candidates regardless of score.
func (n *Normalizer) match(window string) (string, float64, bool) {
	windowLower := strings.ToLower(window)
	windowTokens := strings.Fields(windowLower)
	windowCodes := codesForTokens(windowTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, t := range n.terms {
		score := similarity(windowTokens, t.tokens, windowLower, t.lower)

		if codesOverlap(windowCodes, t.codes) {
			if score >= n.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.display, score, true
			}
		} else if !bestPhonetic {
			if score >= n.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = t.display, score
			}
		}
	}

	if bestTerm == "" {
		return window, 0, false
	}
	return bestTerm, bestScore, true
}

// codesForTokens returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or consonant-free words) are excluded.
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

// codesOverlap reports whether the two code sets share at least one code.
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

// similarity computes the best Jaro-Winkler score between the window and a
// term: full strings, space-stripped concatenations, and the best pairwise
// token score. The space-stripped pass handles terms the ASR splits apart
// ("java script" vs "javascript").
func similarity(windowTokens, termTokens []string, windowFull, termFull string) float64 {
	score := matchr.JaroWinkler(windowFull, termFull, false)

	if len(windowTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(windowTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(wt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
