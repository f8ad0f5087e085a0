package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is a limited-memory BFGS optimizer with bounds.
type LBFGSB struct {
	BaseOptimizer
	dH    float64
	grad  []float64
	x     []float64
	maxIt int
}

// NewLBFGSB creates a new LBFGSB optimizer.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
		dH: 1e-6,
	}
}

// Logger reports the optimization progress.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.l = -info.F
	if l.repPeriod > 0 && l.i%l.repPeriod == 0 {
		l.parameters.SetValues(info.X)
		l.PrintLine(l.l)
	}
}

// EvaluateFunction returns the negative log likelihood.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}

	l.parameters.SetValues(x)

	L := l.Likelihood()
	l.calls++
	l.updateMax(L)
	return -L
}

// EvaluateGradient computes the gradient using central differences.
func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	l.parameters.SetValues(x)
	for i, par := range l.parameters {
		par.Set(x[i] - l.dH)
		l1 := -l.Likelihood()
		par.Set(x[i] + l.dH)
		l2 := -l.Likelihood()
		l.calls += 2
		par.Set(x[i])

		grad[i] = (l2 - l1) / 2 / l.dH
	}
	if l.stopped() || (l.maxIt > 0 && l.i >= l.maxIt) {
		// zero gradient stops the optimizer
		for i := range grad {
			grad[i] = 0
		}
	}
	return
}

// Run starts the optimization.
func (l *LBFGSB) Run(iterations int) {
	l.maxL = math.Inf(-1)
	l.maxIt = iterations
	l.PrintHeader()
	bounds := make([][2]float64, len(l.parameters))

	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + 1e-5
		bounds[i][1] = par.GetMax() - 1e-5
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	l.x = l.parameters.Values(l.x)
	_, exitStatus := opt.Minimize(l, l.x)

	log.Info("Exit status:", exitStatus)

	if l.maxLPar != nil {
		l.parameters.SetValues(l.maxLPar)
		l.l = l.Likelihood()
		l.calls++
	}
	l.PrintLine(l.l)

	if !l.Quiet {
		log.Notice("Finished LBFGSB")
		log.Noticef("Maximum likelihood: %v", l.maxL)
		log.Noticef("Likelihood function calls: %v", l.calls)
	}
	l.PrintFinal()
}
