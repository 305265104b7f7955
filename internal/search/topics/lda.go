package topics

import (
	"context"
	"math/rand/v2"
	"sort"
)

// lda is a collapsed Gibbs sampler with symmetric priors. The sampler is
// seeded so the same corpus always yields the same topics.
type lda struct {
	k          int
	vocabSize  int
	alpha      float64
	beta       float64
	iterations int
	seed       uint64
}

// ldaFit holds p(w|z) per topic and p(z|d) per training document.
type ldaFit struct {
	phi   [][]float64
	theta [][]float64
}

func (m lda) fit(ctx context.Context, docs [][]int) (*ldaFit, error) {
	rng := rand.New(rand.NewPCG(m.seed, m.seed^0x9e3779b97f4a7c15))

	nDK := make([][]int, len(docs))
	nKW := make([][]int, m.k)
	nK := make([]int, m.k)
	for k := range nKW {
		nKW[k] = make([]int, m.vocabSize)
	}

	z := make([][]int, len(docs))
	for d, doc := range docs {
		nDK[d] = make([]int, m.k)
		z[d] = make([]int, len(doc))
		for i, w := range doc {
			k := rng.IntN(m.k)
			z[d][i] = k
			nDK[d][k]++
			nKW[k][w]++
			nK[k]++
		}
	}

	vBeta := float64(m.vocabSize) * m.beta
	p := make([]float64, m.k)
	for iter := 0; iter < m.iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for d, doc := range docs {
			for i, w := range doc {
				k := z[d][i]
				nDK[d][k]--
				nKW[k][w]--
				nK[k]--

				var total float64
				for t := 0; t < m.k; t++ {
					total += (float64(nDK[d][t]) + m.alpha) * (float64(nKW[t][w]) + m.beta) / (float64(nK[t]) + vBeta)
					p[t] = total
				}
				u := rng.Float64() * total
				k = sort.SearchFloat64s(p, u)
				if k >= m.k {
					k = m.k - 1
				}

				z[d][i] = k
				nDK[d][k]++
				nKW[k][w]++
				nK[k]++
			}
		}
	}

	out := &ldaFit{
		phi:   make([][]float64, m.k),
		theta: make([][]float64, len(docs)),
	}
	for k := 0; k < m.k; k++ {
		out.phi[k] = make([]float64, m.vocabSize)
		for w := 0; w < m.vocabSize; w++ {
			out.phi[k][w] = (float64(nKW[k][w]) + m.beta) / (float64(nK[k]) + vBeta)
		}
	}
	kAlpha := float64(m.k) * m.alpha
	for d, doc := range docs {
		out.theta[d] = make([]float64, m.k)
		for k := 0; k < m.k; k++ {
			out.theta[d][k] = (float64(nDK[d][k]) + m.alpha) / (float64(len(doc)) + kAlpha)
		}
	}
	return out, nil
}

// foldIn estimates the topic distribution of unseen text without sampling:
// theta_k is proportional to alpha + sum over words of c_w * p(z=k|w).
// Text with no known words gets the uniform distribution.
func foldIn(phi [][]float64, alpha float64, doc map[int]int) []float64 {
	k := len(phi)
	theta := make([]float64, k)
	for t := range theta {
		theta[t] = alpha
	}
	words := make([]int, 0, len(doc))
	for w := range doc {
		words = append(words, w)
	}
	sort.Ints(words)
	for _, w := range words {
		c := doc[w]
		var norm float64
		for t := 0; t < k; t++ {
			norm += phi[t][w]
		}
		if norm == 0 {
			continue
		}
		for t := 0; t < k; t++ {
			theta[t] += float64(c) * phi[t][w] / norm
		}
	}
	normalize(theta)
	return theta
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// topWords returns the n most probable vocabulary terms of a topic.
func topWords(phi []float64, vocab []string, n int) []string {
	ids := make([]int, len(phi))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(a, b int) bool { return phi[ids[a]] > phi[ids[b]] })
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = vocab[id]
	}
	return out
}
