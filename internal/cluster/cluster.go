package cluster

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"ticketlens/internal/domain"
)

const (
	DefaultK        = 3
	DefaultTopTerms = 5
)

// Doc is one ticket's clustering input.
type Doc struct {
	TicketNo string
	Text     string
}

type TermWeight struct {
	Term   string
	Weight float64
}

type Summary struct {
	ID        int
	Size      int
	TopTerms  []TermWeight
	TicketNos []string
}

// Result is derived from a snapshot and never persisted. K is the number of
// clusters actually produced, which may be below the requested k.
type Result struct {
	Assignment map[string]int
	Clusters   []Summary
	K          int
}

// Labels returns the top terms of cluster id joined for display.
func (r Result) Labels(id int) string {
	if id < 0 || id >= len(r.Clusters) {
		return ""
	}
	terms := make([]string, len(r.Clusters[id].TopTerms))
	for i, tw := range r.Clusters[id].TopTerms {
		terms[i] = tw.Term
	}
	return strings.Join(terms, ", ")
}

type Options struct {
	K        int
	TopTerms int
}

// Cluster groups docs into k clusters with DefaultTopTerms labels per cluster.
func Cluster(docs []Doc, k int) (Result, error) {
	return Run(docs, Options{K: k, TopTerms: DefaultTopTerms})
}

// Run vectorizes docs with TF-IDF and partitions them with k-means. Docs with
// blank text are ignored and a repeated ticket_no keeps its last text. When
// fewer distinct vectors than k exist, k is lowered to that count. The same
// input always yields the same ids and labels; ids are numbered by first
// appearance in ticket_no order.
func Run(docs []Doc, opts Options) (Result, error) {
	if opts.K < 1 {
		return Result{}, &domain.ValidationError{Field: "k", Msg: fmt.Sprintf("must be >= 1, got %d", opts.K)}
	}
	if opts.TopTerms < 1 {
		opts.TopTerms = DefaultTopTerms
	}

	docs = prepare(docs)
	if len(docs) == 0 {
		return Result{Assignment: map[string]int{}}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	m := vectorize(texts)

	distinct := make(map[string]bool)
	for _, v := range m.docs {
		distinct[v.key()] = true
	}
	k := opts.K
	if k > len(distinct) {
		log.Printf("cluster k=%d clamped to %d distinct documents", k, len(distinct))
		k = len(distinct)
	}

	raw := kmeans(m.docs, len(m.terms), k)

	// renumber by first appearance
	remap := make(map[int]int, k)
	labels := make([]int, len(raw))
	for i, l := range raw {
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		labels[i] = id
	}
	k = len(remap)

	res := Result{
		Assignment: make(map[string]int, len(docs)),
		Clusters:   make([]Summary, k),
		K:          k,
	}
	weights := make([]map[int]float64, k)
	for c := range res.Clusters {
		res.Clusters[c].ID = c
		weights[c] = make(map[int]float64)
	}
	for i, d := range docs {
		c := labels[i]
		res.Assignment[d.TicketNo] = c
		res.Clusters[c].Size++
		res.Clusters[c].TicketNos = append(res.Clusters[c].TicketNos, d.TicketNo)
		v := m.docs[i]
		for j, ix := range v.idx {
			weights[c][ix] += v.val[j]
		}
	}
	for c := range res.Clusters {
		res.Clusters[c].TopTerms = topTerms(weights[c], m.terms, opts.TopTerms)
	}
	log.Printf("cluster docs=%d terms=%d k=%d", len(docs), len(m.terms), k)
	return res, nil
}

// prepare drops blank docs, collapses duplicate ticket numbers to the last
// occurrence and orders by ticket_no.
func prepare(docs []Doc) []Doc {
	byNo := make(map[string]Doc, len(docs))
	for _, d := range docs {
		d.TicketNo = strings.TrimSpace(d.TicketNo)
		d.Text = strings.TrimSpace(d.Text)
		if d.TicketNo == "" {
			continue
		}
		if d.Text == "" {
			delete(byNo, d.TicketNo)
			continue
		}
		byNo[d.TicketNo] = d
	}
	out := make([]Doc, 0, len(byNo))
	for _, d := range byNo {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketNo < out[j].TicketNo })
	return out
}

func topTerms(weights map[int]float64, terms []string, n int) []TermWeight {
	out := make([]TermWeight, 0, len(weights))
	for ix, w := range weights {
		if w > 0 {
			out = append(out, TermWeight{Term: terms[ix], Weight: w})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Term < out[j].Term
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
