package cluster

import (
	"strings"
	"unicode"
)

// tokenize lower-cases s and splits it into letter/digit runs. Latin runs
// shorter than two characters and English stop words are dropped. Han runs
// have no word boundaries, so they contribute every character plus every
// adjacent pair.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var word strings.Builder
	var han []rune

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if len([]rune(w)) < 2 || stopWords[w] {
			return
		}
		tokens = append(tokens, w)
	}
	flushHan := func() {
		for i, r := range han {
			tokens = append(tokens, string(r))
			if i+1 < len(han) {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

var stopWords = func() map[string]bool {
	words := strings.Fields(`
a about above after again against all almost also am among an and another any are around as at
be became because been before being below between both but by
can cannot could did do does doing done down during each either else enough etc even ever every
few for from further get gets got had has have having he her here hers herself him himself his how however
i ie if in into is it its itself just least less many may me might more most much must my myself
neither no nor not now of off often on once one only or other others otherwise our ours ourselves out over own
per perhaps please rather same several she should since so some still such than that the their theirs them
themselves then there therefore these they this those though through thus to too toward under until up upon
us very via was we well were what whatever when whenever where whether which while who whom whose why will
with within without would yet you your yours yourself yourselves
`)
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
