package bio

import (
	"strings"

	"github.com/pkg/errors"
)

// Patterns is a compressed alignment. Every distinct alignment column
// is stored once together with its multiplicity.
type Patterns struct {
	Alphabet
	// Taxa are the sequence names.
	Taxa []string
	// States are state codes, States[taxon][pattern].
	States [][]int
	// Weights are pattern multiplicities.
	Weights []int
	// SiteToPattern maps alignment columns to patterns.
	SiteToPattern []int

	letters [][]byte
	taxon   map[string]int
}

// Compress creates site patterns from an alignment.
func Compress(seqs Sequences, alphabet Alphabet) (*Patterns, error) {
	length, err := seqs.Length()
	if err != nil {
		return nil, err
	}
	p := &Patterns{
		Alphabet:      alphabet,
		Taxa:          make([]string, len(seqs)),
		States:        make([][]int, len(seqs)),
		letters:       make([][]byte, len(seqs)),
		SiteToPattern: make([]int, length),
		taxon:         make(map[string]int, len(seqs)),
	}
	for i, seq := range seqs {
		if _, ok := p.taxon[seq.Name]; ok {
			return nil, errors.Errorf("duplicate sequence name %s", seq.Name)
		}
		p.taxon[seq.Name] = i
		p.Taxa[i] = seq.Name
	}

	seen := make(map[string]int)
	column := make([]byte, len(seqs))
	for site := 0; site < length; site++ {
		for i, seq := range seqs {
			column[i] = seq.Sequence[site]
		}
		key := string(column)
		pattern, ok := seen[key]
		if !ok {
			pattern = len(p.Weights)
			seen[key] = pattern
			p.Weights = append(p.Weights, 0)
			for i := range seqs {
				c := column[i]
				if alphabet.Ambiguity(c) == nil {
					return nil, errors.Errorf("unknown character %q in sequence %s, position %d",
						c, seqs[i].Name, site+1)
				}
				p.States[i] = append(p.States[i], alphabet.Code(c))
				p.letters[i] = append(p.letters[i], c)
			}
		}
		p.Weights[pattern]++
		p.SiteToPattern[site] = pattern
	}
	return p, nil
}

// NPatterns returns the number of patterns.
func (p *Patterns) NPatterns() int {
	return len(p.Weights)
}

// NSites returns the alignment length.
func (p *Patterns) NSites() int {
	return len(p.SiteToPattern)
}

// TaxonIndex returns the index of a taxon or -1.
func (p *Patterns) TaxonIndex(name string) int {
	i, ok := p.taxon[name]
	if !ok {
		return -1
	}
	return i
}

// TipPartials returns partials of a taxon resolving ambiguity codes,
// the layout is pattern*NStates()+state.
func (p *Patterns) TipPartials(taxon int) []float64 {
	n := p.NStates()
	res := make([]float64, p.NPatterns()*n)
	for pattern, c := range p.letters[taxon] {
		for state, ok := range p.Ambiguity(c) {
			if ok {
				res[pattern*n+state] = 1
			}
		}
	}
	return res
}

// ConstantPatterns returns the list of pattern*NStates()+state for
// patterns where all the taxa can have the same state. A pattern
// consisting of ambiguous characters only is constant for every state.
func (p *Patterns) ConstantPatterns() (res []int) {
	n := p.NStates()
	for pattern := range p.Weights {
		for state := 0; state < n; state++ {
			constant := true
			for taxon := range p.letters {
				if !p.Ambiguity(p.letters[taxon][pattern])[state] {
					constant = false
					break
				}
			}
			if constant {
				res = append(res, pattern*n+state)
			}
		}
	}
	return
}

// Frequencies returns empirical state frequencies. Ambiguous
// characters contribute equally to all the states they can stand
// for.
func (p *Patterns) Frequencies() []float64 {
	n := p.NStates()
	freqs := make([]float64, n)
	total := 0.0
	for taxon := range p.letters {
		for pattern, c := range p.letters[taxon] {
			set := p.Ambiguity(c)
			k := 0
			for _, ok := range set {
				if ok {
					k++
				}
			}
			if k == n {
				// no information
				continue
			}
			w := float64(p.Weights[pattern]) / float64(k)
			for state, ok := range set {
				if ok {
					freqs[state] += w
					total += w
				}
			}
		}
	}
	if total == 0 {
		for i := range freqs {
			freqs[i] = 1 / float64(n)
		}
		return freqs
	}
	for i := range freqs {
		freqs[i] /= total
	}
	return freqs
}

// String returns patterns one per line with their weights.
func (p *Patterns) String() string {
	var b strings.Builder
	for pattern, w := range p.Weights {
		for taxon := range p.letters {
			b.WriteByte(p.letters[taxon][pattern])
		}
		b.WriteString("\t")
		b.WriteString(strings.Repeat("*", w))
		b.WriteString("\n")
	}
	return b.String()
}
