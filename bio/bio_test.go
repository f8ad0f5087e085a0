package bio

import (
	"bytes"
	"math"
	"testing"
)

const (
	fasta1 = `>a
ACGTACGTNN
>b
ACGTACGA-N
>c
acgtRCGTAN
`
	smallDiff = 1e-12
)

func TestParseFasta(tst *testing.T) {
	seqs, err := ParseFasta(bytes.NewBufferString(fasta1))
	if err != nil {
		tst.Fatal("Error parsing FASTA:", err)
	}
	if len(seqs) != 3 {
		tst.Fatal("Expected 3 sequences, got", len(seqs))
	}
	if seqs[1].Name != "b" || seqs[2].Sequence != "ACGTRCGTAN" {
		tst.Error("Wrong parsing result:", seqs)
	}
	l, err := seqs.Length()
	if err != nil || l != 10 {
		tst.Error("Wrong length:", l, err)
	}

	_, err = ParseFasta(bytes.NewBufferString("ACGT\n"))
	if err == nil {
		tst.Error("Sequence without a name should fail")
	}
}

func TestCompress(tst *testing.T) {
	seqs, _ := ParseFasta(bytes.NewBufferString(fasta1))
	p, err := Compress(seqs, Nucleotide)
	if err != nil {
		tst.Fatal("Error compressing:", err)
	}
	tst.Log("\n" + p.String())
	// columns: AAA CCC GGG TTT AAR CCC GGG TAT NNA NNN
	if p.NPatterns() != 8 {
		tst.Error("Expected 8 patterns, got", p.NPatterns())
	}
	if p.NSites() != 10 {
		tst.Error("Wrong number of sites", p.NSites())
	}
	total := 0
	for _, w := range p.Weights {
		total += w
	}
	if total != 10 {
		tst.Error("Weights should sum to the number of sites, got", total)
	}
	if p.Weights[p.SiteToPattern[1]] != 2 {
		tst.Error("Column CCC should have weight 2")
	}
	// R is ambiguous
	if p.States[2][p.SiteToPattern[4]] != 4 {
		tst.Error("Ambiguous state should be coded as 4")
	}
	if p.TaxonIndex("c") != 2 || p.TaxonIndex("x") != -1 {
		tst.Error("Wrong taxon index")
	}

	tp := p.TipPartials(2)
	r := p.SiteToPattern[4]
	if tp[r*4+0] != 1 || tp[r*4+2] != 1 || tp[r*4+1] != 0 || tp[r*4+3] != 0 {
		tst.Error("Wrong tip partials for R:", tp[r*4:r*4+4])
	}
}

func TestConstantPatterns(tst *testing.T) {
	seqs, _ := ParseFasta(bytes.NewBufferString(fasta1))
	p, _ := Compress(seqs, Nucleotide)
	constant := make(map[int]bool)
	for _, v := range p.ConstantPatterns() {
		constant[v] = true
	}
	if !constant[p.SiteToPattern[0]*4+0] {
		tst.Error("AAA should be constant A")
	}
	if !constant[p.SiteToPattern[4]*4+0] || constant[p.SiteToPattern[4]*4+2] {
		tst.Error("AAR should be constant A only")
	}
	if constant[p.SiteToPattern[7]*4+3] {
		tst.Error("TAT is not constant")
	}
	for s := 0; s < 4; s++ {
		if !constant[p.SiteToPattern[9]*4+s] {
			tst.Error("NNN should be constant for all states")
		}
	}
}

func TestFrequencies(tst *testing.T) {
	seqs, _ := ParseFasta(bytes.NewBufferString(">a\nAACG\n>b\nTTNN\n"))
	p, _ := Compress(seqs, Nucleotide)
	f := p.Frequencies()
	exp := []float64{2. / 6, 1. / 6, 1. / 6, 2. / 6}
	for i := range f {
		if math.Abs(f[i]-exp[i]) > smallDiff {
			tst.Error("Wrong frequencies:", f, "expected", exp)
			break
		}
	}
}

func TestUnknownCharacter(tst *testing.T) {
	seqs, _ := ParseFasta(bytes.NewBufferString(">a\nAXC\n>b\nAAC\n"))
	if _, err := Compress(seqs, Nucleotide); err == nil {
		tst.Error("Unknown character should fail")
	}
	seqs, _ = ParseFasta(bytes.NewBufferString(">a\nAC\n>b\nAAC\n"))
	if _, err := Compress(seqs, Nucleotide); err == nil {
		tst.Error("Different lengths should fail")
	}
}
