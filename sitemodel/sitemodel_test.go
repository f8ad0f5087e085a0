package sitemodel

import (
	"bytes"
	"math"
	"testing"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/anchorlh/tree"
)

const smallDiff = 1e-10

func init() {
	logging.SetLevel(logging.WARNING, "sitemodel")
}

func meanRate(sm *SiteModel) (mean, weight float64) {
	for i := 0; i < sm.CategoryCount(); i++ {
		mean += sm.RateForCategory(i) * sm.CategoryProportions()[i]
		weight += sm.CategoryProportions()[i]
	}
	return
}

func TestSiteModel(tst *testing.T) {
	for _, pInv := range []float64{0, 0.2, 0.7} {
		for _, nCat := range []int{1, 4} {
			sm, err := New(nCat, 0.5, pInv)
			if err != nil {
				tst.Fatal(err)
			}
			mean, weight := meanRate(sm)
			if math.Abs(mean-1) > 1e-6 {
				tst.Error("Mean rate over all sites should be one, got", mean)
			}
			if math.Abs(weight+pInv-1) > smallDiff {
				tst.Error("Proportions should sum to 1-pInv, got", weight)
			}
		}
	}
}

func TestSiteModelErrors(tst *testing.T) {
	if _, err := New(0, 1, 0); err == nil {
		tst.Error("Zero categories should fail")
	}
	if _, err := New(4, -1, 0); err == nil {
		tst.Error("Negative alpha should fail")
	}
	if _, err := New(4, 1, 1); err == nil {
		tst.Error("pInv=1 should fail")
	}
	sm, _ := New(4, 1, 0)
	if !sm.IntegrateAcrossCategories() {
		tst.Error("Categories should be integrated by default")
	}
}

func TestSetAlpha(tst *testing.T) {
	sm, _ := New(4, 0.1, 0)
	r1 := append([]float64(nil), sm.CategoryRates()...)
	if err := sm.SetAlpha(10); err != nil {
		tst.Fatal(err)
	}
	r2 := sm.CategoryRates()
	// larger alpha means less rate variation
	if r2[3]-r2[0] >= r1[3]-r1[0] {
		tst.Error("Rate spread should decrease with alpha:", r1, r2)
	}
}

func TestClocks(tst *testing.T) {
	t, err := tree.ParseNewick(bytes.NewBufferString("((a:1,b:1)#1:1,c:2);"))
	if err != nil {
		tst.Fatal(err)
	}
	strict := &StrictClock{Rate: 2}
	local := NewLocalClock(1)
	local.Classes[1] = 3
	for _, node := range t.Nodes() {
		if strict.RateForBranch(node) != 2 {
			tst.Error("Wrong strict clock rate")
		}
		exp := 1.0
		if node.Class == 1 {
			exp = 3
		}
		if local.RateForBranch(node) != exp {
			tst.Error("Wrong local clock rate for", node.LongString())
		}
	}
}
