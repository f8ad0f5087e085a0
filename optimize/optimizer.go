package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizable is a model with parameters and a likelihood.
type Optimizable interface {
	FloatParameters() FloatParameters
	Likelihood() float64
}

// Optimizer maximizes the likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetOutput(io.Writer)
	Run(iterations int)
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() []float64
	Calls() int
}

// BaseOptimizer holds the state shared by the optimizers.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	l          float64
	maxL       float64
	maxLPar    []float64
	calls      int
	repPeriod  int
	sig        chan os.Signal
	out        io.Writer
	Quiet      bool
}

func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.FloatParameters()
	o.maxL = math.Inf(-1)
}

// WatchSignals makes the optimizer stop on the signals.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SetOutput sets the writer for the iteration trace (stdout by
// default).
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.out = w
}

func (o *BaseOptimizer) output() io.Writer {
	if o.out == nil {
		return os.Stdout
	}
	return o.out
}

// PrintHeader prints the header of the iteration trace.
func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet {
		fmt.Fprintf(o.output(), "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

// PrintLine prints a trace line.
func (o *BaseOptimizer) PrintLine(l float64) {
	if !o.Quiet {
		fmt.Fprintf(o.output(), "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
	}
}

// PrintFinal logs the maximum likelihood estimates.
func (o *BaseOptimizer) PrintFinal() {
	if o.Quiet {
		return
	}
	for i, par := range o.parameters {
		if o.maxLPar != nil {
			log.Noticef("%s=%v", par.Name(), o.maxLPar[i])
		} else {
			log.Noticef("%s=%v", par.Name(), par.Get())
		}
	}
}

// updateMax remembers the parameters if l is the best likelihood so
// far.
func (o *BaseOptimizer) updateMax(l float64) {
	if l > o.maxL || o.maxLPar == nil {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// stopped returns true if a watched signal was received.
func (o *BaseOptimizer) stopped() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
		return false
	}
}

func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// Calls returns the number of likelihood evaluations.
func (o *BaseOptimizer) Calls() int {
	return o.calls
}
