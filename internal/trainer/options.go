// Package trainer launches best-response training runs against an opponent
// mixture and returns the resulting learned policy.
package trainer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"

	"github.com/lox/egta/internal/fileutil"
)

// Options are the hyper-parameters the trainer recognizes.
type Options struct {
	LR                  float64 `toml:"lr" hcl:"lr,optional"`
	BufferSize          int     `toml:"buffer_size" hcl:"buffer_size,optional"`
	ExplorationFraction float64 `toml:"exploration_fraction" hcl:"exploration_fraction,optional"`
	FinalEps            float64 `toml:"final_eps" hcl:"final_eps,optional"`
	Gamma               float64 `toml:"gamma" hcl:"gamma,optional"`
	EpMeanLength        int     `toml:"ep_mean_length" hcl:"ep_mean_length,optional"`
}

// DefaultOptions returns the settings used when a run configures none.
func DefaultOptions() Options {
	return Options{
		LR:                  5e-5,
		BufferSize:          30000,
		ExplorationFraction: 0.5,
		FinalEps:            0.03,
		Gamma:               0.99,
		EpMeanLength:        250,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.LR == 0 {
		o.LR = d.LR
	}
	if o.BufferSize == 0 {
		o.BufferSize = d.BufferSize
	}
	if o.ExplorationFraction == 0 {
		o.ExplorationFraction = d.ExplorationFraction
	}
	if o.FinalEps == 0 {
		o.FinalEps = d.FinalEps
	}
	if o.Gamma == 0 {
		o.Gamma = d.Gamma
	}
	if o.EpMeanLength == 0 {
		o.EpMeanLength = d.EpMeanLength
	}
	return o
}

// Validate checks the ranges the trainer accepts.
func (o Options) Validate() error {
	switch {
	case o.LR <= 0:
		return fmt.Errorf("lr must be positive, got %v", o.LR)
	case o.BufferSize <= 0:
		return fmt.Errorf("buffer_size must be positive, got %d", o.BufferSize)
	case o.ExplorationFraction <= 0 || o.ExplorationFraction > 1:
		return fmt.Errorf("exploration_fraction must be in (0,1], got %v", o.ExplorationFraction)
	case o.FinalEps < 0 || o.FinalEps > 1:
		return fmt.Errorf("final_eps must be in [0,1], got %v", o.FinalEps)
	case o.Gamma <= 0 || o.Gamma > 1:
		return fmt.Errorf("gamma must be in (0,1], got %v", o.Gamma)
	case o.EpMeanLength <= 0:
		return fmt.Errorf("ep_mean_length must be positive, got %d", o.EpMeanLength)
	}
	return nil
}

// Opponent is one strategy of the mixture a job trains against.
type Opponent struct {
	Name string  `toml:"name"`
	Prob float64 `toml:"prob"`
	// Scope and Path are set for learned policies only.
	Scope string `toml:"scope,omitempty"`
	Path  string `toml:"path,omitempty"`
}

// Job is the options file handed to one trainer process.
type Job struct {
	Options

	Scope        string `toml:"scope"`
	Role         string `toml:"role"`
	Steps        int    `toml:"steps"`
	MaxTimesteps int    `toml:"max_timesteps"`
	Env          string `toml:"env"`
	Port         int    `toml:"port"`
	Seed         int64  `toml:"seed"`
	// Opponents is the TSV file of the mixture to train against.
	Opponents string `toml:"opponents"`
	PolicyDir string `toml:"policy_dir"`
	Output    string `toml:"output"`
	Init      string `toml:"init,omitempty"`
	// Opponent lists the mixture with each policy's parameter scope, so a
	// trainer loading several policies never derives scopes from file names.
	Opponent []Opponent `toml:"opponent"`
}

// Encode writes job as TOML.
func (j *Job) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.Indent = "\t"
	return enc.Encode(j)
}

// DecodeJob reads a job file.
func DecodeJob(r io.Reader) (*Job, error) {
	var j Job
	if _, err := toml.NewDecoder(r).Decode(&j); err != nil {
		return nil, fmt.Errorf("failed to decode trainer job: %w", err)
	}
	return &j, nil
}

// WriteJobFile writes job to path atomically.
func WriteJobFile(path string, job *Job) error {
	var buf bytes.Buffer
	if err := job.Encode(&buf); err != nil {
		return fmt.Errorf("failed to encode trainer job: %w", err)
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
