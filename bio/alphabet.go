package bio

// Alphabet maps sequence letters to state codes. Unambiguous letters
// map to [0, NStates()), everything else maps to NStates().
type Alphabet interface {
	// NStates returns the number of states.
	NStates() int
	// Code returns the state code of a letter.
	Code(c byte) int
	// Ambiguity returns the set of states a letter can stand for,
	// or nil for unknown letters.
	Ambiguity(c byte) []bool
}

// table is an Alphabet defined by a letter table.
type table struct {
	nStates int
	sets    map[byte][]int
}

func (t *table) NStates() int {
	return t.nStates
}

func (t *table) Code(c byte) int {
	set, ok := t.sets[c]
	if !ok || len(set) != 1 {
		return t.nStates
	}
	return set[0]
}

func (t *table) Ambiguity(c byte) []bool {
	set, ok := t.sets[c]
	if !ok {
		return nil
	}
	res := make([]bool, t.nStates)
	for _, s := range set {
		res[s] = true
	}
	return res
}

func newTable(nStates int, sets map[byte][]int) *table {
	return &table{nStates: nStates, sets: sets}
}

var (
	// Nucleotide is the DNA alphabet with IUPAC ambiguity codes.
	// States are A=0, C=1, G=2, T=3.
	Nucleotide Alphabet = newTable(4, map[byte][]int{
		'A': {0}, 'C': {1}, 'G': {2}, 'T': {3}, 'U': {3},
		'R': {0, 2}, 'Y': {1, 3}, 'M': {0, 1}, 'K': {2, 3},
		'S': {1, 2}, 'W': {0, 3},
		'B': {1, 2, 3}, 'D': {0, 2, 3}, 'H': {0, 1, 3}, 'V': {0, 1, 2},
		'N': {0, 1, 2, 3}, '-': {0, 1, 2, 3}, '?': {0, 1, 2, 3},
	})
	// Binary is a two-state alphabet (0 and 1).
	Binary Alphabet = newTable(2, map[byte][]int{
		'0': {0}, '1': {1},
		'-': {0, 1}, '?': {0, 1},
	})
)
