package likelihood

// Neighbor is a node taking part in a merge: either its state codes
// or its partials together with its matrices for all categories.
type Neighbor struct {
	// States are state codes per pattern, nil if Partials are set.
	States   []int
	Partials []float64
	Matrices []float64
}

// Pruner merges two or three neighbors into the partials of their
// common node for the patterns in [from, to).
type Pruner interface {
	Prune(out []float64, from, to int, neighbors ...Neighbor)
}

// genericPruner works for any number of states.
type genericPruner struct {
	nStates, nPatterns, nMatrices int
}

func newGenericPruner(nStates, nPatterns, nMatrices int) *genericPruner {
	return &genericPruner{nStates: nStates, nPatterns: nPatterns, nMatrices: nMatrices}
}

func (p *genericPruner) Prune(out []float64, from, to int, neighbors ...Neighbor) {
	if len(neighbors) != 2 && len(neighbors) != 3 {
		panic("generic pruner supports two or three neighbors")
	}
	n := p.nStates
	for cat := 0; cat < p.nMatrices; cat++ {
		for pattern := from; pattern < to; pattern++ {
			dst := out[(cat*p.nPatterns+pattern)*n:][:n]
			for i := range dst {
				dst[i] = 1
			}
			for _, nb := range neighbors {
				p.multiply(nb, cat, pattern, dst)
			}
		}
	}
}

// multiply multiplies dst by the contribution of a neighbor: P[i][s]
// for an observed state s, one for an ambiguous state and
// sum_j P[i][j]*partials[j] otherwise.
func (p *genericPruner) multiply(nb Neighbor, cat, pattern int, dst []float64) {
	n := p.nStates
	m := nb.Matrices[cat*n*n:][:n*n]
	if nb.States != nil {
		s := nb.States[pattern]
		if s >= n {
			return
		}
		for i := range dst {
			dst[i] *= m[i*n+s]
		}
		return
	}
	v := nb.Partials[(cat*p.nPatterns+pattern)*n:][:n]
	for i := range dst {
		sum := 0.0
		row := m[i*n:][:n]
		for j, x := range v {
			sum += row[j] * x
		}
		dst[i] *= sum
	}
}

// fourStatePruner is unrolled for nucleotides.
type fourStatePruner struct {
	nPatterns, nMatrices int
}

func newFourStatePruner(nPatterns, nMatrices int) *fourStatePruner {
	return &fourStatePruner{nPatterns: nPatterns, nMatrices: nMatrices}
}

func (p *fourStatePruner) Prune(out []float64, from, to int, neighbors ...Neighbor) {
	switch len(neighbors) {
	case 2:
		a, b := neighbors[0], neighbors[1]
		switch {
		case a.States != nil && b.States != nil:
			p.statesStates(a, b, out, from, to)
		case a.States != nil:
			p.statesPartials(a, b, out, from, to)
		case b.States != nil:
			p.statesPartials(b, a, out, from, to)
		default:
			p.partialsPartials(a, b, out, from, to)
		}
	case 3:
		p.three(neighbors[0], neighbors[1], neighbors[2], out, from, to)
	default:
		panic("four state pruner supports two or three neighbors")
	}
}

func (p *fourStatePruner) statesStates(a, b Neighbor, out []float64, from, to int) {
	for cat := 0; cat < p.nMatrices; cat++ {
		m1 := a.Matrices[cat*16:][:16]
		m2 := b.Matrices[cat*16:][:16]
		for pattern := from; pattern < to; pattern++ {
			s1, s2 := a.States[pattern], b.States[pattern]
			o := out[(cat*p.nPatterns+pattern)*4:][:4]
			switch {
			case s1 < 4 && s2 < 4:
				o[0] = m1[s1] * m2[s2]
				o[1] = m1[4+s1] * m2[4+s2]
				o[2] = m1[8+s1] * m2[8+s2]
				o[3] = m1[12+s1] * m2[12+s2]
			case s1 < 4:
				o[0] = m1[s1]
				o[1] = m1[4+s1]
				o[2] = m1[8+s1]
				o[3] = m1[12+s1]
			case s2 < 4:
				o[0] = m2[s2]
				o[1] = m2[4+s2]
				o[2] = m2[8+s2]
				o[3] = m2[12+s2]
			default:
				o[0], o[1], o[2], o[3] = 1, 1, 1, 1
			}
		}
	}
}

func (p *fourStatePruner) statesPartials(a, b Neighbor, out []float64, from, to int) {
	for cat := 0; cat < p.nMatrices; cat++ {
		m1 := a.Matrices[cat*16:][:16]
		m2 := b.Matrices[cat*16:][:16]
		for pattern := from; pattern < to; pattern++ {
			off := (cat*p.nPatterns + pattern) * 4
			v := b.Partials[off:][:4]
			o := out[off:][:4]
			w0 := m2[0]*v[0] + m2[1]*v[1] + m2[2]*v[2] + m2[3]*v[3]
			w1 := m2[4]*v[0] + m2[5]*v[1] + m2[6]*v[2] + m2[7]*v[3]
			w2 := m2[8]*v[0] + m2[9]*v[1] + m2[10]*v[2] + m2[11]*v[3]
			w3 := m2[12]*v[0] + m2[13]*v[1] + m2[14]*v[2] + m2[15]*v[3]
			if s := a.States[pattern]; s < 4 {
				o[0] = m1[s] * w0
				o[1] = m1[4+s] * w1
				o[2] = m1[8+s] * w2
				o[3] = m1[12+s] * w3
			} else {
				o[0], o[1], o[2], o[3] = w0, w1, w2, w3
			}
		}
	}
}

func (p *fourStatePruner) partialsPartials(a, b Neighbor, out []float64, from, to int) {
	for cat := 0; cat < p.nMatrices; cat++ {
		m1 := a.Matrices[cat*16:][:16]
		m2 := b.Matrices[cat*16:][:16]
		for pattern := from; pattern < to; pattern++ {
			off := (cat*p.nPatterns + pattern) * 4
			v1 := a.Partials[off:][:4]
			v2 := b.Partials[off:][:4]
			o := out[off:][:4]
			o[0] = (m1[0]*v1[0] + m1[1]*v1[1] + m1[2]*v1[2] + m1[3]*v1[3]) *
				(m2[0]*v2[0] + m2[1]*v2[1] + m2[2]*v2[2] + m2[3]*v2[3])
			o[1] = (m1[4]*v1[0] + m1[5]*v1[1] + m1[6]*v1[2] + m1[7]*v1[3]) *
				(m2[4]*v2[0] + m2[5]*v2[1] + m2[6]*v2[2] + m2[7]*v2[3])
			o[2] = (m1[8]*v1[0] + m1[9]*v1[1] + m1[10]*v1[2] + m1[11]*v1[3]) *
				(m2[8]*v2[0] + m2[9]*v2[1] + m2[10]*v2[2] + m2[11]*v2[3])
			o[3] = (m1[12]*v1[0] + m1[13]*v1[1] + m1[14]*v1[2] + m1[15]*v1[3]) *
				(m2[12]*v2[0] + m2[13]*v2[1] + m2[14]*v2[2] + m2[15]*v2[3])
		}
	}
}

// factor returns the contribution of a neighbor for the four ancestral
// states.
func (p *fourStatePruner) factor(nb Neighbor, m []float64, cat, pattern int) (w0, w1, w2, w3 float64) {
	if nb.States != nil {
		s := nb.States[pattern]
		if s >= 4 {
			return 1, 1, 1, 1
		}
		return m[s], m[4+s], m[8+s], m[12+s]
	}
	v := nb.Partials[(cat*p.nPatterns+pattern)*4:][:4]
	w0 = m[0]*v[0] + m[1]*v[1] + m[2]*v[2] + m[3]*v[3]
	w1 = m[4]*v[0] + m[5]*v[1] + m[6]*v[2] + m[7]*v[3]
	w2 = m[8]*v[0] + m[9]*v[1] + m[10]*v[2] + m[11]*v[3]
	w3 = m[12]*v[0] + m[13]*v[1] + m[14]*v[2] + m[15]*v[3]
	return
}

func (p *fourStatePruner) three(a, b, c Neighbor, out []float64, from, to int) {
	for cat := 0; cat < p.nMatrices; cat++ {
		m1 := a.Matrices[cat*16:][:16]
		m2 := b.Matrices[cat*16:][:16]
		m3 := c.Matrices[cat*16:][:16]
		for pattern := from; pattern < to; pattern++ {
			a0, a1, a2, a3 := p.factor(a, m1, cat, pattern)
			b0, b1, b2, b3 := p.factor(b, m2, cat, pattern)
			c0, c1, c2, c3 := p.factor(c, m3, cat, pattern)
			o := out[(cat*p.nPatterns+pattern)*4:][:4]
			o[0] = a0 * b0 * c0
			o[1] = a1 * b1 * c1
			o[2] = a2 * b2 * c2
			o[3] = a3 * b3 * c3
		}
	}
}
