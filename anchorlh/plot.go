package main

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/Davydov/anchorlh/mcmc"
)

// plotTrace saves the log-likelihood trace as an image. The format is
// determined by the file extension.
func plotTrace(trace []mcmc.TracePoint, fn string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "MCMC trace"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "log-likelihood"

	pts := make(plotter.XYs, len(trace))
	for i, tp := range trace {
		pts[i].X = float64(tp.Iter)
		pts[i].Y = tp.Likelihood
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line, plotter.NewGrid())

	return p.Save(6*vg.Inch, 4*vg.Inch, fn)
}
