package cluster

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// sparseVec holds non-zero weights ordered by term index.
type sparseVec struct {
	idx []int
	val []float64
}

func (v sparseVec) norm2() float64 {
	var s float64
	for _, x := range v.val {
		s += x * x
	}
	return s
}

// key identifies vectors with identical weights.
func (v sparseVec) key() string {
	var b strings.Builder
	for i, ix := range v.idx {
		b.WriteString(strconv.Itoa(ix))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(v.val[i], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

type tfidfMatrix struct {
	terms []string // index -> term, sorted
	docs  []sparseVec
}

// vectorize builds a vocabulary from texts alone and returns L2-normalized
// TF-IDF vectors with smoothed idf: ln((1+n)/(1+df)) + 1.
func vectorize(texts []string) tfidfMatrix {
	tokenized := make([][]string, len(texts))
	df := make(map[string]int)
	for i, text := range texts {
		toks := tokenize(text)
		tokenized[i] = toks
		seen := make(map[string]bool, len(toks))
		for _, tok := range toks {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(texts))
	for i, term := range terms {
		vocab[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}

	docs := make([]sparseVec, len(texts))
	for i, toks := range tokenized {
		tf := make(map[int]int, len(toks))
		for _, tok := range toks {
			tf[vocab[tok]]++
		}
		idx := make([]int, 0, len(tf))
		for ix := range tf {
			idx = append(idx, ix)
		}
		sort.Ints(idx)
		val := make([]float64, len(idx))
		var norm float64
		for j, ix := range idx {
			w := float64(tf[ix]) * idf[ix]
			val[j] = w
			norm += w * w
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range val {
				val[j] /= norm
			}
		}
		docs[i] = sparseVec{idx: idx, val: val}
	}
	return tfidfMatrix{terms: terms, docs: docs}
}
