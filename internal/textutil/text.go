// Package textutil holds the small text-analysis primitives shared by
// relevance scoring, lexical embeddings, keyword extraction and extractive
// summaries.
package textutil

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// stopwords are dropped by Tokenize.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all also am an and any are as at be because been before
		being below between both but by can could did do does doing down during each few for from
		further had has have having he her here hers herself him himself his how however i if in
		into is it its itself just me more most my myself no nor not now of off on once only or
		other our ours ourselves out over own same she should so some such than that the their
		theirs them themselves then there these they this those through to too under until up us
		very was we were what when where which while who whom why will with would you your yours
		yourself yourselves via using use used based paper study studies approach method methods
		propose proposed results show shows new novel work present presents`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether w is ignored by Tokenize.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit, and drops stopwords and tokens shorter than two runes.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || IsStopword(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TermFrequencies counts tokens.
func TermFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// Vector is a sparse term-weight vector.
type Vector map[string]float64

// Norm returns the Euclidean norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty.
func Cosine(a, b Vector) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for t, w := range a {
		dot += w * b[t]
	}
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

// Corpus computes smoothed inverse document frequencies over a document set.
type Corpus struct {
	docs int
	df   map[string]int
}

// NewCorpus builds a corpus from tokenized documents.
func NewCorpus(docs [][]string) *Corpus {
	c := &Corpus{docs: len(docs), df: make(map[string]int)}
	for _, tokens := range docs {
		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			c.df[t]++
		}
	}
	return c
}

// IDF returns ln((1+N)/(1+df)) + 1.
func (c *Corpus) IDF(term string) float64 {
	return math.Log(float64(1+c.docs)/float64(1+c.df[term])) + 1
}

// Vector returns the TF-IDF vector of tokens under the corpus statistics.
func (c *Corpus) Vector(tokens []string) Vector {
	v := make(Vector, len(tokens))
	for t, f := range TermFrequencies(tokens) {
		v[t] = f * c.IDF(t)
	}
	return v
}

// TopTerms aggregates TF-IDF weight per term over all documents and returns
// the n highest scoring terms, ties broken alphabetically.
func (c *Corpus) TopTerms(docs [][]string, n int) []TermScore {
	totals := make(map[string]float64)
	for _, tokens := range docs {
		if len(tokens) == 0 {
			continue
		}
		for t, f := range TermFrequencies(tokens) {
			totals[t] += f / float64(len(tokens)) * c.IDF(t)
		}
	}

	scores := make([]TermScore, 0, len(totals))
	for t, s := range totals {
		scores = append(scores, TermScore{Term: t, Score: s})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Term < scores[j].Term
	})
	if n > 0 && len(scores) > n {
		scores = scores[:n]
	}
	return scores
}

// TermScore is a weighted term.
type TermScore struct {
	Term  string
	Score float64
}

// Sentences splits text into trimmed sentences on terminal punctuation.
func Sentences(text string) []string {
	var (
		out []string
		b   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
