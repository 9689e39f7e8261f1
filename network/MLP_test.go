package network_test

import (
	"bytes"
	"encoding/gob"
	"testing"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/goppo/network"
)

func testMLP(t *testing.T, batch int) network.NeuralNet {
	t.Helper()

	net, err := network.NewMLP(4, batch, 2, G.NewGraph(),
		[]int{8, 8}, []bool{true, true}, G.GlorotN(1.0),
		[]*network.Activation{network.TanH(), network.TanH()})
	if err != nil {
		t.Fatalf("newmlp: %v", err)
	}
	return net
}

// TestNewMLP checks the architecture bookkeeping of a new MLP
func TestNewMLP(t *testing.T) {
	net := testMLP(t, 3)

	if net.BatchSize() != 3 {
		t.Errorf("batch size: \n\twant(3)\n\thave(%v)", net.BatchSize())
	}
	if net.Features() != 4 {
		t.Errorf("features: \n\twant(4)\n\thave(%v)", net.Features())
	}
	if net.Outputs() != 2 {
		t.Errorf("outputs: \n\twant(2)\n\thave(%v)", net.Outputs())
	}

	// Two hidden layers and the output layer, each with weights and a
	// bias unit
	if len(net.Learnables()) != 6 {
		t.Errorf("learnables: \n\twant(6)\n\thave(%v)",
			len(net.Learnables()))
	}

	if err := net.SetInput(make([]float64, 12)); err != nil {
		t.Errorf("setinput: %v", err)
	}
	if err := net.SetInput(make([]float64, 5)); err == nil {
		t.Error("setinput: expected error for illegal input length")
	}
}

// TestNewMLPIllegalArchitecture ensures mismatched layer
// configurations are rejected
func TestNewMLPIllegalArchitecture(t *testing.T) {
	_, err := network.NewMLP(4, 1, 2, G.NewGraph(), []int{8, 8},
		[]bool{true}, G.GlorotN(1.0),
		[]*network.Activation{network.ReLU()})
	if err == nil {
		t.Error("newmlp: expected error for mismatched layer counts")
	}
}

// TestCloneWithBatch ensures cloning copies weights onto a fresh graph
// with a new batch size
func TestCloneWithBatch(t *testing.T) {
	net := testMLP(t, 1)

	clone, err := net.CloneWithBatch(16)
	if err != nil {
		t.Fatalf("clonewithbatch: %v", err)
	}

	if clone.BatchSize() != 16 {
		t.Errorf("batch size: \n\twant(16)\n\thave(%v)",
			clone.BatchSize())
	}
	if clone.Graph() == net.Graph() {
		t.Error("clone should live on its own graph")
	}

	sourceLearnables := net.Learnables()
	for i, learnable := range clone.Learnables() {
		want := sourceLearnables[i].Value().Data().([]float64)
		have := learnable.Value().Data().([]float64)

		for j := range want {
			if want[j] != have[j] {
				t.Fatalf("learnable %v differs from source at %v", i, j)
			}
		}
	}
}

// TestMLPGobRoundTrip ensures weights and architecture survive
// encoding and decoding
func TestMLPGobRoundTrip(t *testing.T) {
	net := testMLP(t, 1).(*network.MLP)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded := &network.MLP{}
	if err := gob.NewDecoder(&buf).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.BatchSize() != net.BatchSize() ||
		decoded.Features() != net.Features() ||
		decoded.Outputs() != net.Outputs() {
		t.Error("decoded architecture differs from source")
	}

	sourceLearnables := net.Learnables()
	decodedLearnables := decoded.Learnables()
	if len(sourceLearnables) != len(decodedLearnables) {
		t.Fatalf("learnables: \n\twant(%v)\n\thave(%v)",
			len(sourceLearnables), len(decodedLearnables))
	}

	for i, learnable := range decodedLearnables {
		want := sourceLearnables[i].Value().Data().([]float64)
		have := learnable.Value().Data().([]float64)

		if len(want) != len(have) {
			t.Fatalf("learnable %v: \n\twant(%v values)\n\thave(%v)", i,
				len(want), len(have))
		}
		for j := range want {
			if want[j] != have[j] {
				t.Fatalf("learnable %v differs after round trip at %v",
					i, j)
			}
		}
	}
}
