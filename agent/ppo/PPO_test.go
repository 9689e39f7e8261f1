package ppo_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/goppo/agent/ppo"
)

func testAgent(t *testing.T, modelDir string) *ppo.PPO {
	t.Helper()

	config := ppo.DefaultConfig(modelDir)
	config.HiddenSizes = []int{8}
	config.Biases = []bool{true}
	config.Activations = config.Activations[:1]
	config.LRDecaySteps = 10
	config.ClipDecaySteps = 10

	agent, err := ppo.New(4, 2, config, 123)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return agent
}

// TestDecaySchedules checks the linear learning rate and clip range
// schedules, including that neither decays below zero
func TestDecaySchedules(t *testing.T) {
	agent := testAgent(t, t.TempDir())

	lrs := agent.LearningRates()
	policyLR := lrs["policy_lr"]
	valueLR := lrs["value_lr"]
	clip := agent.ClipRange()

	agent.DecayLR()
	agent.DecayClipRange()

	lrs = agent.LearningRates()
	if math.Abs(lrs["policy_lr"]-policyLR*0.9) > 1e-12 {
		t.Errorf("policy lr after one decay: \n\twant(%v)\n\thave(%v)",
			policyLR*0.9, lrs["policy_lr"])
	}
	if math.Abs(lrs["value_lr"]-valueLR*0.9) > 1e-12 {
		t.Errorf("value lr after one decay: \n\twant(%v)\n\thave(%v)",
			valueLR*0.9, lrs["value_lr"])
	}
	if math.Abs(agent.ClipRange()-clip*0.9) > 1e-12 {
		t.Errorf("clip range after one decay: \n\twant(%v)\n\thave(%v)",
			clip*0.9, agent.ClipRange())
	}

	// The schedules saturate at zero
	for i := 0; i < 20; i++ {
		agent.DecayLR()
		agent.DecayClipRange()
	}
	lrs = agent.LearningRates()
	if lrs["policy_lr"] != 0 || lrs["value_lr"] != 0 {
		t.Errorf("learning rates should saturate at 0, got %v and %v",
			lrs["policy_lr"], lrs["value_lr"])
	}
	if agent.ClipRange() != 0 {
		t.Errorf("clip range should saturate at 0, got %v",
			agent.ClipRange())
	}
}

// TestSaveModelPrunes ensures old step checkpoints are pruned while
// the best-model checkpoint survives
func TestSaveModelPrunes(t *testing.T) {
	modelDir := t.TempDir()
	agent := testAgent(t, modelDir)

	if err := agent.SaveModel(true, 10); err != nil {
		t.Fatalf("savemodel: %v", err)
	}
	if err := agent.SaveModel(false, 20); err != nil {
		t.Fatalf("savemodel: %v", err)
	}
	if err := agent.SaveModel(false, 30); err != nil {
		t.Fatalf("savemodel: %v", err)
	}

	// MaxSavedModels is 2, so the step 10 checkpoint is pruned
	if _, err := os.Stat(filepath.Join(modelDir,
		"model_10.gob")); !os.IsNotExist(err) {
		t.Error("oldest step checkpoint should have been pruned")
	}
	for _, name := range []string{"model_20.gob", "model_30.gob",
		"best.gob"} {
		if _, err := os.Stat(filepath.Join(modelDir, name)); err != nil {
			t.Errorf("checkpoint %v should exist: %v", name, err)
		}
	}
}

// TestLoadModel ensures resuming restores the latest step and
// pretraining restores weights without a step
func TestLoadModel(t *testing.T) {
	modelDir := t.TempDir()
	agent := testAgent(t, modelDir)

	agent.DecayLR()
	if err := agent.SaveModel(false, 20); err != nil {
		t.Fatalf("savemodel: %v", err)
	}
	if err := agent.SaveModel(false, 40); err != nil {
		t.Fatalf("savemodel: %v", err)
	}

	// Resuming loads the latest checkpoint, restoring the decayed
	// learning rate along with the step
	resumed := testAgent(t, modelDir)
	step, err := resumed.LoadModel(0, "")
	if err != nil {
		t.Fatalf("loadmodel: %v", err)
	}
	if step != 40 {
		t.Errorf("resume step: \n\twant(40)\n\thave(%v)", step)
	}
	if resumed.LearningRates()["policy_lr"] !=
		agent.LearningRates()["policy_lr"] {
		t.Error("resuming should restore the decayed learning rate")
	}

	// A specific step can be requested
	step, err = resumed.LoadModel(20, "")
	if err != nil {
		t.Fatalf("loadmodel: %v", err)
	}
	if step != 20 {
		t.Errorf("resume step: \n\twant(20)\n\thave(%v)", step)
	}

	// Pretraining loads weights only and starts counting fresh
	pretrained := testAgent(t, t.TempDir())
	step, err = pretrained.LoadModel(0,
		filepath.Join(modelDir, "model_40.gob"))
	if err != nil {
		t.Fatalf("loadmodel: %v", err)
	}
	if step != 0 {
		t.Errorf("pretrain step: \n\twant(0)\n\thave(%v)", step)
	}
}

// TestLoadModelMissing ensures loading from an empty model directory
// fails
func TestLoadModelMissing(t *testing.T) {
	agent := testAgent(t, t.TempDir())
	if _, err := agent.LoadModel(0, ""); err == nil {
		t.Error("loadmodel: expected error with no checkpoints on disk")
	}
}
