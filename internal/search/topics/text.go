package topics

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
	digits  = regexp.MustCompile(`\p{Nd}+`)
)

var stopWords = toSet(strings.Fields(`
a about above after again against all also am an and any are as at be because been before being below
between both but by can could did do does doing down during each few for from further had has have having
he her here hers herself him himself his how i if in into is it its itself just me more most my myself no
nor not now of off on once only or other our ours ourselves out over own same she should so some such than
that the their theirs them themselves then there these they this those through to too under until up very
was we were what when where which while who whom why will with would you your yours yourself yourselves
`))

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// clean strips punctuation and digits, lowercases and collapses whitespace.
func clean(text string) string {
	text = nonWord.ReplaceAllString(text, " ")
	text = digits.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// terms returns the content words of already cleaned text.
func terms(cleaned string) []string {
	fields := strings.Fields(cleaned)
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

type vocabConfig struct {
	maxTerms int
	minDF    int
	maxDF    float64
}

var defaultVocab = vocabConfig{maxTerms: 1000, minDF: 2, maxDF: 0.8}

// buildVocabulary keeps terms inside the document frequency window, most
// frequent first. When the window removes everything the unfiltered terms are
// used instead so small corpora still get a model.
func buildVocabulary(docs [][]string, cfg vocabConfig) []string {
	df := map[string]int{}
	tf := map[string]int{}
	for _, doc := range docs {
		seen := map[string]struct{}{}
		for _, t := range doc {
			tf[t]++
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}

	n := float64(len(docs))
	var kept []string
	for t, f := range df {
		if f >= cfg.minDF && float64(f)/n <= cfg.maxDF {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		for t := range df {
			kept = append(kept, t)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if tf[kept[i]] != tf[kept[j]] {
			return tf[kept[i]] > tf[kept[j]]
		}
		return kept[i] < kept[j]
	})
	if len(kept) > cfg.maxTerms {
		kept = kept[:cfg.maxTerms]
	}
	sort.Strings(kept)
	return kept
}

func indexOf(vocab []string) map[string]int {
	idx := make(map[string]int, len(vocab))
	for i, t := range vocab {
		idx[t] = i
	}
	return idx
}

// counts maps a document onto vocabulary ids with their term counts.
func counts(doc []string, index map[string]int) map[int]int {
	out := map[int]int{}
	for _, t := range doc {
		if id, ok := index[t]; ok {
			out[id]++
		}
	}
	return out
}

// smoothIDF is ln((1+n)/(1+df)) + 1.
func smoothIDF(docs []map[int]int, vocabSize int) []float64 {
	df := make([]int, vocabSize)
	for _, doc := range docs {
		for id := range doc {
			df[id]++
		}
	}
	n := float64(len(docs))
	idf := make([]float64, vocabSize)
	for i, f := range df {
		idf[i] = math.Log((1+n)/(1+float64(f))) + 1
	}
	return idf
}

// tfidf returns an L2-normalized dense vector.
func tfidf(doc map[int]int, idf []float64) []float64 {
	vec := make([]float64, len(idf))
	var norm float64
	for id, c := range doc {
		vec[id] = float64(c) * idf[id]
		norm += vec[id] * vec[id]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
