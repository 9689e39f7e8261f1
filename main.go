package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/goppo/agent/ppo"
	"github.com/samuelfneumann/goppo/engine"
	"github.com/samuelfneumann/goppo/environment/classiccontrol/cartpole"
	"github.com/samuelfneumann/goppo/runner"
	"github.com/samuelfneumann/goppo/tracker"
)

func main() {
	var seed uint64 = 192382
	saveDir := "./runs/cartpole"

	config := engine.DefaultConfig(saveDir)
	config.Seed = seed
	if err := config.Validate(); err != nil {
		fail(err)
	}
	if err := config.CreateDirs(); err != nil {
		fail(err)
	}

	// Create the environment
	env := cartpole.NewDefault(500, seed)

	// Create the learning algorithm
	agentConfig := ppo.DefaultConfig(config.ModelDir())
	agent, err := ppo.New(env.ObservationSpec().Shape.Len(), 2,
		agentConfig, seed)
	if err != nil {
		fail(err)
	}

	// Trajectory collection for training and evaluation
	trainRunner, err := runner.New(env, agent, config.NumEnvs, seed)
	if err != nil {
		fail(err)
	}
	evalRunner, err := runner.New(env, agent, 1, seed+1)
	if err != nil {
		fail(err)
	}

	var saver *tracker.TrajectorySaver
	if config.SaveEvalTraj {
		saver, err = tracker.NewTrajectorySaver(config.EvalDir())
		if err != nil {
			fail(err)
		}
	}

	evaluator, err := engine.NewEvaluator(evalRunner, config.EvalNum,
		500, config.SampleActions, config.SmoothTau, saver)
	if err != nil {
		fail(err)
	}

	jsonSink, err := tracker.NewJSONLines(
		filepath.Join(config.LogDir(), "scalars.jsonl"))
	if err != nil {
		fail(err)
	}
	sink := tracker.NewMulti(tracker.NewConsole(), jsonSink)
	defer sink.Close()

	err = config.WriteHyperParams(map[string]interface{}{
		"agent": agentConfig,
	})
	if err != nil {
		fail(err)
	}

	e, err := engine.New(config, agent, trainRunner, evaluator, sink)
	if err != nil {
		fail(err)
	}
	if err := e.Train(); err != nil {
		fail(err)
	}

	fmt.Printf("trained for %v environment steps\n", e.CurrentStep())
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
