// Package engine implements the outer training loop of an on-policy
// agent: rollout collection, advantage estimation, minibatch
// optimization, periodic evaluation, checkpointing, and logging.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds every hyperparameter of the training loop. The agent's
// own hyperparameters live with the agent.
type Config struct {
	// Rollout collection. SampleActions samples actions from the
	// policy during both training and evaluation rollouts instead of
	// acting greedily.
	NumEnvs       int    `json:"num_envs"`
	RolloutLength int    `json:"rollout_length"`
	MaxSteps      int    `json:"max_steps"`
	SampleActions bool   `json:"sample_action"`
	Seed          uint64 `json:"seed"`

	// Advantage estimation
	Gamma  float64 `json:"gamma"`
	Lambda float64 `json:"lambda"`

	// Optimization
	OptEpochs           int  `json:"opt_epochs"`
	BatchSize           int  `json:"batch_size"`
	Shuffle             bool `json:"shuffle"`
	NormalizeAdvantages bool `json:"normalize_advantages"`
	LinearDecayLR       bool `json:"linear_decay_lr"`
	LinearDecayClip     bool `json:"linear_decay_clip"`

	// Evaluation and logging cadence, both in loop iterations
	EvalInterval int `json:"eval_interval"`
	LogInterval  int `json:"log_interval"`

	// EvalNum is the number of rollouts per evaluation pass
	EvalNum int `json:"eval_num"`

	// SmoothTau weights the previous smoothed evaluation return when
	// mixing in a new one
	SmoothTau float64 `json:"smooth_eval_tau"`

	// SaveEvalTraj saves every evaluation trajectory to disk
	SaveEvalTraj bool `json:"save_eval_traj"`

	// SaveDir is the root directory of the run. Models, logs, and
	// saved evaluation trajectories live in subdirectories of it.
	SaveDir string `json:"save_dir"`

	// Resume restarts training from the latest checkpoint in the
	// model directory. PretrainPath instead loads only network
	// weights from the given file and starts the step count fresh.
	Resume       bool   `json:"resume"`
	PretrainPath string `json:"pretrain_path"`
}

// DefaultConfig returns a Config with sensible defaults, saving under
// saveDir
func DefaultConfig(saveDir string) Config {
	return Config{
		NumEnvs:             8,
		RolloutLength:       128,
		MaxSteps:            500_000,
		SampleActions:       true,
		Gamma:               0.99,
		Lambda:              0.95,
		OptEpochs:           10,
		BatchSize:           256,
		Shuffle:             true,
		NormalizeAdvantages: true,
		EvalInterval:        50,
		LogInterval:         10,
		EvalNum:             5,
		SmoothTau:           0.7,
		SaveDir:             saveDir,
	}
}

// Validate checks that every field of the Config is legal
func (c Config) Validate() error {
	if c.NumEnvs < 1 {
		return fmt.Errorf("validate: num envs must be positive, got %v",
			c.NumEnvs)
	}
	if c.RolloutLength < 1 {
		return fmt.Errorf("validate: rollout length must be positive, "+
			"got %v", c.RolloutLength)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("validate: max steps must be positive, got %v",
			c.MaxSteps)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: gamma must be in [0, 1], got %v",
			c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda must be in [0, 1], got %v",
			c.Lambda)
	}
	if c.OptEpochs < 1 {
		return fmt.Errorf("validate: opt epochs must be positive, got %v",
			c.OptEpochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive, got %v",
			c.BatchSize)
	}
	if c.EvalInterval < 1 {
		return fmt.Errorf("validate: eval interval must be positive, "+
			"got %v", c.EvalInterval)
	}
	if c.LogInterval < 1 {
		return fmt.Errorf("validate: log interval must be positive, "+
			"got %v", c.LogInterval)
	}
	if c.EvalNum < 1 {
		return fmt.Errorf("validate: eval num must be positive, got %v",
			c.EvalNum)
	}
	if c.SmoothTau < 0 || c.SmoothTau >= 1 {
		return fmt.Errorf("validate: smoothing weight must be in "+
			"[0, 1), got %v", c.SmoothTau)
	}
	if c.SaveDir == "" {
		return fmt.Errorf("validate: save dir may not be empty")
	}
	return nil
}

// ModelDir returns the directory holding model checkpoints
func (c Config) ModelDir() string {
	return filepath.Join(c.SaveDir, "model")
}

// LogDir returns the directory holding scalar logs
func (c Config) LogDir() string {
	return filepath.Join(c.SaveDir, "log")
}

// EvalDir returns the directory holding saved evaluation trajectories
func (c Config) EvalDir() string {
	return filepath.Join(c.SaveDir, "eval")
}

// CreateDirs creates the run directory tree
func (c Config) CreateDirs() error {
	for _, dir := range []string{c.ModelDir(), c.LogDir(), c.EvalDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("createdirs: could not create %v: %v", dir,
				err)
		}
	}
	return nil
}

// WriteHyperParams records the engine configuration together with any
// extra named hyperparameter groups as JSON at the root of the run
// directory
func (c Config) WriteHyperParams(extra map[string]interface{}) error {
	record := map[string]interface{}{"engine": c}
	for name, params := range extra {
		record[name] = params
	}

	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return fmt.Errorf("writehyperparams: could not encode: %v", err)
	}

	filename := filepath.Join(c.SaveDir, "hp.json")
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writehyperparams: could not write %v: %v",
			filename, err)
	}
	return nil
}
