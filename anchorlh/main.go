/*

Anchorlh computes the likelihood of a nucleotide alignment on a time
tree. The likelihood can be anchored at any internal node, so that
changes around that node are evaluated without traversing the whole
tree. Node heights and model parameters can be sampled with a
Metropolis-Hastings sampler walking the tree, or the model parameters
can be estimated with L-BFGS-B.

The basic usage looks like this:

	anchorlh alignment.fst tree.nwk

, this will compute the JC likelihood at the root.

Sampling node heights and HKY parameters:

	anchorlh -model hky -ncat 4 -method mh -iter 100000 alignment.fst tree.nwk

To see all the options run:

	anchorlh -h

*/
package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"runtime/pprof"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/Davydov/anchorlh/bio"
	"bitbucket.org/Davydov/anchorlh/checkpoint"
	"bitbucket.org/Davydov/anchorlh/mcmc"
	"bitbucket.org/Davydov/anchorlh/optimize"
	"bitbucket.org/Davydov/anchorlh/tree"
	"bitbucket.org/Davydov/anchorlh/treelh"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("anchorlh")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("anchorlh", "anchored tree likelihood and node height sampler").Version(version)

	// input tree and alignment
	alignmentFileName = app.Arg("alignment", "sequence alignment").Required().ExistingFile()
	treeFileName      = app.Arg("tree", "time tree").Required().ExistingFile()

	// model parameters
	alphabet  = app.Flag("alphabet", "sequence alphabet (nt or binary)").Default("nt").Enum("nt", "binary")
	modelName = app.Flag("model", "substitution model (jc, f81, hky or gtr)").Default("jc").Enum("jc", "f81", "hky", "gtr")
	freqs     = app.Flag("freqs", "state frequencies (empirical, equal or a comma separated list)").Default("empirical").String()
	kappa     = app.Flag("kappa", "transition/transversion ratio (hky)").Default("2").Float64()
	rates     = app.Flag("rates", "six exchangeabilities AC,AG,AT,CG,CT,GT (gtr)").Default("1,1,1,1,1,1").String()
	ncat      = app.Flag("ncat", "number of gamma rate categories (no variation by default)").Default("1").Int()
	alpha     = app.Flag("alpha", "gamma shape parameter").Default("1").Float64()
	pinv      = app.Flag("pinv", "proportion of invariant sites").Default("0").Float64()
	median    = app.Flag("median", "use median instead of mean for gamma categories").Bool()
	clockRate = app.Flag("rate", "clock rate").Default("1").Float64()
	classRate = app.Flag("classrate", "clock rate for a branch class, e.g. 1=0.5").StringMap()
	estRate   = app.Flag("estrate", "estimate clock rate").Bool()

	// evaluation
	scaling     = app.Flag("scaling", "partials scaling (none, always or dynamic)").Default("dynamic").Enum("none", "always", "dynamic")
	nThreads    = app.Flag("nt", "number of pattern blocks evaluated in parallel").Default("1").Int()
	target      = app.Flag("target", "anchor the likelihood at an internal node").Default("-1").Int()
	ambiguities = app.Flag("ambiguities", "resolve ambiguity codes in tip partials").Bool()
	generic     = app.Flag("generic", "disable the four state pruner").Bool()

	// optimizer parameters
	method = app.Flag("method", "optimization method to use "+
		"(lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"mh: Metropolis-Hastings sampler of node heights and parameters, "+
		"none: just compute likelihood, no optimization"+
		")").Default("none").Enum("none", "lbfgsb", "mh")
	iterations = app.Flag("iter", "number of iterations").Default("10000").Int()
	report     = app.Flag("report", "report every N iterations").Default("100").Int()
	accept     = app.Flag("accept", "report acceptance rate every N iterations").Default("1000").Int()

	// mcmc parameters
	proposalsPerNode = app.Flag("ppn", "number of proposals for a node before moving on").Default("3").Int()
	noFullTraverse   = app.Flag("nofull", "visit every internal node once per walk").Bool()
	includeLeaves    = app.Flag("leaves", "visit leaves during the walk").Bool()
	mrca             = app.Flag("mrca", "taxa for the MRCA height operator").Strings()
	scaleFactor      = app.Flag("factor", "scale factor of the node height operators").Default("0.5").Float64()

	// technical
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF     = app.Flag("log", "write log to a file").String()
	outF        = app.Flag("out", "write optimization trajectory to a file").String()
	outTreeF    = app.Flag("outtree", "write final tree to a file").String()
	checkpointF = app.Flag("checkpoint", "checkpoint database").String()
	checkpointS = app.Flag("checkpoint-seconds", "save checkpoint every N seconds").Default("60").Float64()
	plotF       = app.Flag("plot", "plot the MCMC trace to a file (png, svg or pdf)").String()
	logLevel    = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

// readData reads the alignment and the tree.
func readData() (*bio.Patterns, *tree.Tree, error) {
	fastaFile, err := os.Open(*alignmentFileName)
	if err != nil {
		return nil, nil, err
	}
	defer fastaFile.Close()

	seqs, err := bio.ParseFasta(fastaFile)
	if err != nil {
		return nil, nil, err
	}

	var a bio.Alphabet
	switch *alphabet {
	case "nt":
		a = bio.Nucleotide
	case "binary":
		a = bio.Binary
	}
	p, err := bio.Compress(seqs, a)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Read alignment of %d sequences, %d sites, %d patterns", len(seqs), p.NSites(), p.NPatterns())

	treeFile, err := os.Open(*treeFileName)
	if err != nil {
		return nil, nil, err
	}
	defer treeFile.Close()

	t, err := tree.ParseNewick(treeFile)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("intree=%s", t)
	log.Debug(t.FullString())
	return p, t, nil
}

// runMCMC samples node heights and model parameters.
func runMCMC(t *tree.Tree, m *model, out *os.File, summary *RunSummary) error {
	s := mcmc.NewSchedule(t, m.lh)
	s.ProposalsPerNode = *proposalsPerNode
	s.FullTraverse = !*noFullTraverse
	s.IncludeLeaves = *includeLeaves
	if err := s.Add(mcmc.NewNodeHeight(*scaleFactor), 3); err != nil {
		return err
	}
	if err := s.Add(mcmc.NewRootHeight(*scaleFactor/5), 1); err != nil {
		return err
	}
	if len(*mrca) > 0 {
		taxa := make([]*tree.Node, len(*mrca))
		for i, name := range *mrca {
			if taxa[i] = t.Leaf(name); taxa[i] == nil {
				return fmt.Errorf("unknown taxon %s", name)
			}
		}
		if err := s.Add(mcmc.NewMRCANode(*scaleFactor, taxa, m.lh), 1); err != nil {
			return err
		}
	}
	for _, par := range m.parameters {
		if err := s.Add(mcmc.NewParameter(par), 1); err != nil {
			return err
		}
	}

	sampler := mcmc.NewSampler(t, m.lh, s, m.parameters)
	sampler.RepPeriod = *report
	sampler.AccPeriod = *accept
	sampler.SetOutput(out)
	sampler.WatchSignals(os.Interrupt, syscall.SIGTERM)

	if *checkpointF != "" {
		db, err := bolt.Open(*checkpointF, 0666, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return err
		}
		defer db.Close()
		sampler.SetCheckpointIO(checkpoint.NewCheckpointIO(db, []byte("mcmc"), *checkpointS))
		resumed, err := sampler.Resume()
		if err != nil {
			return err
		}
		if resumed {
			log.Notice("Resuming from checkpoint")
		}
	}

	sampler.Run(*iterations)
	if err := sampler.CheckpointErr(); err != nil {
		log.Warningf("Last checkpoint may be incomplete: %v", err)
	}

	summary.MaxLnL = sampler.MaxL()
	summary.FinalLnL = sampler.L()
	summary.MaxLParameters = m.parameters.Map()

	if *plotF != "" {
		if err := plotTrace(sampler.Trace(), *plotF); err != nil {
			log.Error("Error plotting trace:", err)
		}
	}
	return nil
}

// runOptimizer runs an optimizer for the model parameters.
func runOptimizer(m *model, out *os.File, summary *RunSummary) {
	var opt optimize.Optimizer
	switch *method {
	case "lbfgsb":
		opt = optimize.NewLBFGSB()
	default:
		opt = optimize.NewNone()
	}
	opt.SetOutput(out)
	opt.SetOptimizable(m)
	opt.SetReportPeriod(*report)
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM)
	opt.Run(*iterations)
	m.lh.Accept()

	summary.Calls = opt.Calls()
	summary.MaxLnL = opt.GetMaxL()
	summary.FinalLnL = opt.GetL()
	summary.MaxLParameters = m.parameters.Map()
}

func run() (summary *RunSummary, err error) {
	startTime := time.Now()
	summary = &RunSummary{Method: *method}

	p, t, err := readData()
	if err != nil {
		return nil, err
	}
	summary.Sites = p.NSites()
	summary.Patterns = p.NPatterns()
	summary.StartingTree = t.String()

	sc, err := treelh.ParseScaling(*scaling)
	if err != nil {
		return nil, err
	}
	m, err := newModel(t, p, modelSettings{
		name:      *modelName,
		freqs:     *freqs,
		kappa:     *kappa,
		rates:     *rates,
		nCat:      *ncat,
		alpha:     *alpha,
		pInv:      *pinv,
		rate:      *clockRate,
		classRate: *classRate,
		estRate:   *estRate,
		median:    *median,
	}, treelh.Options{
		Scaling:        sc,
		Threads:        *nThreads,
		UseAmbiguities: *ambiguities,
		Generic:        *generic,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Model has %d parameters.", len(m.parameters))

	summary.RootLnL = m.lh.Calculate()
	m.lh.Accept()
	log.Noticef("lnL=%f", summary.RootLnL)

	if *target >= 0 {
		if err := m.lh.SetTarget(*target); err != nil {
			return nil, err
		}
		summary.Target = *target
		summary.TargetLnL = m.lh.Calculate()
		m.lh.Accept()
		log.Noticef("lnL(target=%d)=%f, %d nodes recomputed", *target, summary.TargetLnL, len(m.lh.Updated()))
	}

	out := os.Stdout
	if *outF != "" {
		out, err = os.Create(*outF)
		if err != nil {
			return nil, err
		}
		defer out.Close()
	}

	log.Infof("Using %s optimization.", *method)
	switch *method {
	case "mh":
		if err := runMCMC(t, m, out, summary); err != nil {
			return nil, err
		}
	default:
		runOptimizer(m, out, summary)
	}

	for _, par := range m.parameters {
		log.Noticef("%s=%v", par.Name(), par.Get())
	}
	summary.FinalTree = t.String()
	log.Infof("outtree=%s", t)

	if *outTreeF != "" {
		if err := ioutil.WriteFile(*outTreeF, []byte(t.String()+"\n"), 0666); err != nil {
			log.Error("Error writing tree:", err)
		}
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()
	return summary, nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range []string{"anchorlh", "optimize", "mcmc", "treelh",
		"likelihood", "submodel", "sitemodel", "checkpoint"} {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)
	rand.Seed(*seed)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	summary, err := run()
	if err != nil {
		log.Fatal(err)
	}
	summary.NThreads = *nThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = *seed

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			if err := ioutil.WriteFile(*jsonF, j, 0666); err != nil {
				log.Error("Error creating json output file:", err)
			}
		}
	}
}
