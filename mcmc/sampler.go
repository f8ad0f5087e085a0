// Package mcmc implements a Metropolis-Hastings sampler of node heights
// and model parameters which keeps the likelihood anchored near the
// changed nodes.
package mcmc

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/anchorlh/checkpoint"
	"bitbucket.org/Davydov/anchorlh/optimize"
	"bitbucket.org/Davydov/anchorlh/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("mcmc")

// Likelihood is a tree likelihood with reversible updates.
type Likelihood interface {
	Targetable
	Target() int
	Calculate() float64
	Accept()
	Reject()
}

// TracePoint is a sampled log-likelihood.
type TracePoint struct {
	Iter       int
	Likelihood float64
}

// Sampler is a Metropolis-Hastings sampler.
type Sampler struct {
	tree       *tree.Tree
	lh         Likelihood
	schedule   *Schedule
	parameters optimize.FloatParameters

	// RepPeriod is the period of the trace output.
	RepPeriod int
	// AccPeriod is the period of acceptance rate reports.
	AccPeriod int
	Quiet     bool

	i           int
	start       int
	l           float64
	maxL        float64
	maxLHeights []float64
	trace       []TracePoint

	proposed map[string]int
	accepted map[string]int

	sig        chan os.Signal
	out        io.Writer
	checkpoint *checkpoint.CheckpointIO
	// checkpointErr is the last checkpoint saving error.
	checkpointErr error
}

// NewSampler creates a sampler. Parameters are only reported, their
// operators need to be added to the schedule.
func NewSampler(t *tree.Tree, lh Likelihood, schedule *Schedule, parameters optimize.FloatParameters) *Sampler {
	return &Sampler{
		tree:       t,
		lh:         lh,
		schedule:   schedule,
		parameters: parameters,
		RepPeriod:  100,
		AccPeriod:  1000,
		maxL:       math.Inf(-1),
		proposed:   make(map[string]int),
		accepted:   make(map[string]int),
		out:        os.Stdout,
	}
}

// WatchSignals makes the sampler stop on the signals.
func (m *Sampler) WatchSignals(sigs ...os.Signal) {
	m.sig = make(chan os.Signal, 1)
	signal.Notify(m.sig, sigs...)
}

// SetOutput sets the writer for the trace.
func (m *Sampler) SetOutput(w io.Writer) {
	m.out = w
}

// SetCheckpointIO enables checkpointing.
func (m *Sampler) SetCheckpointIO(cio *checkpoint.CheckpointIO) {
	m.checkpoint = cio
}

// heights returns node heights indexed by id.
func (m *Sampler) heights(h []float64) []float64 {
	if h == nil {
		h = make([]float64, m.tree.NNodes())
	}
	for i, node := range m.tree.Nodes() {
		h[i] = node.Height
	}
	return h
}

// Resume restores the state from the last checkpoint. It returns false
// if there is nothing to resume.
func (m *Sampler) Resume() (bool, error) {
	if m.checkpoint == nil {
		return false, nil
	}
	data, err := m.checkpoint.Load()
	if err != nil || data == nil {
		return false, err
	}
	if len(data.Heights) != m.tree.NNodes() {
		return false, errors.Errorf("checkpoint has %d nodes, tree has %d",
			len(data.Heights), m.tree.NNodes())
	}
	for i, node := range m.tree.Nodes() {
		if !node.IsTerminal() {
			node.SetHeight(data.Heights[i])
		}
	}
	if err := m.parameters.SetMap(data.Parameters); err != nil {
		return false, err
	}
	if err := m.lh.SetTarget(data.Target); err != nil {
		return false, err
	}
	m.start = data.Iter
	return true, nil
}

// saveCheckpoint saves the current state.
func (m *Sampler) saveCheckpoint(final bool) {
	if m.checkpoint == nil {
		return
	}
	err := m.checkpoint.Save(&checkpoint.CheckpointData{
		Heights:    m.heights(nil),
		Target:     m.lh.Target(),
		Parameters: m.parameters.Map(),
		Likelihood: m.l,
		Iter:       m.i,
		Final:      final,
	})
	if err != nil {
		log.Errorf("Checkpoint at iteration %d was not saved: %v", m.i, err)
		m.checkpointErr = err
	}
}

// PrintHeader prints the header of the trace.
func (m *Sampler) PrintHeader() {
	if !m.Quiet {
		fmt.Fprintf(m.out, "iteration\tlikelihood\ttarget\troot\t%s\n", m.parameters.NamesString())
	}
}

// PrintLine prints a line of the trace.
func (m *Sampler) PrintLine() {
	if !m.Quiet {
		fmt.Fprintf(m.out, "%d\t%f\t%d\t%s\t%s\n", m.i, m.l, m.lh.Target(),
			strconv.FormatFloat(m.tree.Root().Height, 'f', 6, 64),
			m.parameters.ValuesString())
	}
}

// report stores a trace point.
func (m *Sampler) report() {
	m.trace = append(m.trace, TracePoint{m.i, m.l})
	m.PrintLine()
}

// logAcceptance reports acceptance rates per operator.
func (m *Sampler) logAcceptance() {
	for _, op := range m.schedule.Operators() {
		name := op.Name()
		if m.proposed[name] == 0 {
			continue
		}
		log.Infof("%s acceptance rate %.2f%% (%d proposals)", name,
			100*float64(m.accepted[name])/float64(m.proposed[name]), m.proposed[name])
		m.proposed[name] = 0
		m.accepted[name] = 0
	}
}

// step makes a single proposal and accepts or rejects it.
func (m *Sampler) step() {
	op := m.schedule.Select()
	m.proposed[op.Name()]++
	logHR := op.Propose()
	if math.IsInf(logHR, -1) {
		op.Reject()
		m.tree.Restore()
		m.lh.Reject()
		return
	}
	newL := m.lh.Calculate()
	a := newL - m.l + logHR
	if a > 0 || math.Log(rand.Float64()) < a {
		op.Accept()
		m.tree.Store()
		m.lh.Accept()
		m.l = newL
		m.accepted[op.Name()]++
		if m.l > m.maxL {
			m.maxL = m.l
			m.maxLHeights = m.heights(m.maxLHeights)
		}
	} else {
		op.Reject()
		m.tree.Restore()
		m.lh.Reject()
	}
}

// Run starts sampling.
func (m *Sampler) Run(iterations int) {
	m.tree.Store()
	m.l = m.lh.Calculate()
	m.lh.Accept()
	m.maxL = m.l
	m.maxLHeights = m.heights(m.maxLHeights)
	log.Infof("Starting MCMC at iteration %d, L=%f", m.start, m.l)

	m.PrintHeader()
	lastReported := -1
Iter:
	for m.i = m.start; m.i < iterations; m.i++ {
		if m.i > m.start && m.AccPeriod > 0 && m.i%m.AccPeriod == 0 {
			m.logAcceptance()
		}
		if m.RepPeriod > 0 && m.i%m.RepPeriod == 0 {
			log.Debugf("%d: L=%f", m.i, m.l)
			m.report()
			lastReported = m.i
			if m.checkpoint != nil && m.checkpoint.Old() {
				m.saveCheckpoint(false)
			}
		}

		m.step()

		select {
		case s := <-m.sig:
			log.Warningf("Received signal %v, exiting.", s)
			break Iter
		default:
		}
	}

	if m.i != lastReported {
		m.report()
	}
	m.saveCheckpoint(m.i >= iterations)
	log.Noticef("Finished MCMC, maximum likelihood %f", m.maxL)
}

// L returns the current log-likelihood.
func (m *Sampler) L() float64 {
	return m.l
}

// MaxL returns the maximum sampled log-likelihood.
func (m *Sampler) MaxL() float64 {
	return m.maxL
}

// MaxLHeights returns node heights of the maximum likelihood sample.
func (m *Sampler) MaxLHeights() []float64 {
	return m.maxLHeights
}

// CheckpointErr returns the last error of saving a checkpoint. The
// sampler keeps running when saving fails.
func (m *Sampler) CheckpointErr() error {
	return m.checkpointErr
}

// Trace returns the sampled log-likelihoods.
func (m *Sampler) Trace() []TracePoint {
	return m.trace
}
