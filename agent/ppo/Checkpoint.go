package ppo

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samuelfneumann/goppo/network"
)

// bestModelFile is the name of the checkpoint holding the weights
// with the highest smoothed evaluation return so far. It is never
// pruned.
const bestModelFile string = "best.gob"

// checkpoint is the persisted form of a PPO agent
type checkpoint struct {
	Step      int
	PolicyLR  float64
	ValueLR   float64
	ClipRange float64
	Policy    *network.MLP
	Value     *network.MLP
}

// SaveModel persists the agent's current weights for the given global
// step as <ModelDir>/model_<step>.gob. When isBest is true the weights
// also replace the best-model checkpoint. Step checkpoints beyond
// MaxSavedModels are pruned, oldest first; the best-model checkpoint
// is exempt.
func (p *PPO) SaveModel(isBest bool, step int) error {
	if err := os.MkdirAll(p.config.ModelDir, 0755); err != nil {
		return fmt.Errorf("savemodel: could not create model "+
			"directory: %v", err)
	}

	cp := checkpoint{
		Step:      step,
		PolicyLR:  p.policyLR,
		ValueLR:   p.valueLR,
		ClipRange: p.clipRange,
		Policy:    p.policy.(*network.MLP),
		Value:     p.value.(*network.MLP),
	}

	path := filepath.Join(p.config.ModelDir,
		fmt.Sprintf("model_%d.gob", step))
	if err := writeCheckpoint(path, cp); err != nil {
		return fmt.Errorf("savemodel: %v", err)
	}

	if isBest {
		best := filepath.Join(p.config.ModelDir, bestModelFile)
		if err := writeCheckpoint(best, cp); err != nil {
			return fmt.Errorf("savemodel: %v", err)
		}
	}

	if err := p.prune(); err != nil {
		return fmt.Errorf("savemodel: %v", err)
	}
	return nil
}

// LoadModel restores agent weights from a checkpoint and returns the
// global step to resume counting from. A non-empty pretrainPath loads
// weights from that file and resumes from step 0. Otherwise, a step
// of 0 loads the most recent checkpoint in ModelDir and a non-zero
// step loads that step's checkpoint.
func (p *PPO) LoadModel(step int, pretrainPath string) (int, error) {
	path := pretrainPath
	if path == "" {
		if step > 0 {
			path = filepath.Join(p.config.ModelDir,
				fmt.Sprintf("model_%d.gob", step))
		} else {
			var err error
			path, err = p.latestCheckpoint()
			if err != nil {
				return 0, fmt.Errorf("loadmodel: %v", err)
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("loadmodel: could not open checkpoint: %v",
			err)
	}
	defer file.Close()

	var cp checkpoint
	if err := gob.NewDecoder(file).Decode(&cp); err != nil {
		return 0, fmt.Errorf("loadmodel: could not decode checkpoint "+
			"%v: %v", path, err)
	}

	if err := p.policy.Set(cp.Policy); err != nil {
		return 0, fmt.Errorf("loadmodel: could not restore policy "+
			"weights: %v", err)
	}
	if err := p.value.Set(cp.Value); err != nil {
		return 0, fmt.Errorf("loadmodel: could not restore value "+
			"weights: %v", err)
	}
	p.version++

	if pretrainPath != "" {
		// Pretrained weights seed a fresh run
		return 0, nil
	}

	p.policyLR = cp.PolicyLR
	p.valueLR = cp.ValueLR
	p.clipRange = cp.ClipRange
	p.lrVersion++
	return cp.Step, nil
}

// writeCheckpoint gob-encodes a checkpoint to path
func writeCheckpoint(path string, cp checkpoint) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create checkpoint file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(cp); err != nil {
		return fmt.Errorf("could not encode checkpoint: %v", err)
	}
	return nil
}

// checkpointSteps lists the steps of all step checkpoints in ModelDir
// in increasing order
func (p *PPO) checkpointSteps() ([]int, error) {
	entries, err := os.ReadDir(p.config.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("could not read model directory: %v", err)
	}

	var steps []int
	for _, entry := range entries {
		var step int
		if n, _ := fmt.Sscanf(entry.Name(), "model_%d.gob",
			&step); n == 1 {
			steps = append(steps, step)
		}
	}
	sort.Ints(steps)
	return steps, nil
}

// latestCheckpoint returns the path of the most recent step checkpoint
func (p *PPO) latestCheckpoint() (string, error) {
	steps, err := p.checkpointSteps()
	if err != nil {
		return "", err
	}
	if len(steps) == 0 {
		return "", fmt.Errorf("no checkpoints in %v", p.config.ModelDir)
	}
	return filepath.Join(p.config.ModelDir,
		fmt.Sprintf("model_%d.gob", steps[len(steps)-1])), nil
}

// prune removes the oldest step checkpoints beyond MaxSavedModels
func (p *PPO) prune() error {
	steps, err := p.checkpointSteps()
	if err != nil {
		return err
	}

	for len(steps) > p.config.MaxSavedModels {
		path := filepath.Join(p.config.ModelDir,
			fmt.Sprintf("model_%d.gob", steps[0]))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("could not prune checkpoint %v: %v", path,
				err)
		}
		steps = steps[1:]
	}
	return nil
}
