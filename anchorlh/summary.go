package main

// RunSummary is storing anchorlh run summary information.
type RunSummary struct {
	// Version stores anchorlh version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of pattern blocks evaluated in parallel.
	NThreads int `json:"nThreads"`
	// Sites is the alignment length.
	Sites int `json:"sites"`
	// Patterns is the number of site patterns.
	Patterns int `json:"patterns"`
	// StartingTree is the input tree.
	StartingTree string `json:"startingTree"`
	// RootLnL is the log-likelihood computed at the root.
	RootLnL float64 `json:"rootLnL"`
	// Target and TargetLnL are set if an anchor was requested.
	Target    int     `json:"target,omitempty"`
	TargetLnL float64 `json:"targetLnL,omitempty"`
	// Method is the optimization method.
	Method string `json:"method"`
	// Calls is the number of likelihood evaluations.
	Calls int `json:"calls,omitempty"`
	// MaxLnL is the maximum log-likelihood found.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the model parameters at the maximum.
	MaxLParameters map[string]float64 `json:"maxLParameters,omitempty"`
	// FinalLnL is the log-likelihood of the final state.
	FinalLnL float64 `json:"finalLnL"`
	// FinalTree is the tree in the end of sampling.
	FinalTree string `json:"finalTree,omitempty"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}
