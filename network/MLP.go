package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MLP implements a multi-layered perceptron with a single output head
type MLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	// Data needed for gobbing
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron, adding
// its forward pass to the graph g. The network takes input batches of
// shape (batch, features) and predicts outputs values per sample.
//
// The MLP has len(hiddenSizes) + 1 layers: a final linear layer of
// size outputs, with a bias unit and no activation, is always added.
// For index i, hiddenSizes[i] is the number of nodes in hidden layer
// i, biases[i] is whether that layer has a bias unit, and
// activations[i] is its activation function. The parameter init
// determines the weight initialization scheme.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	// Ensure one activation and one bias flag per layer
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newmlp: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newmlp: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(fmt.Sprintf("input_%d", batch)), G.WithInit(G.Zeroes()))

	// Add a final linear layer so that the network always predicts
	// outputs values per sample
	hiddenSizes = append(append([]int{}, hiddenSizes...), outputs)
	biases = append(append([]bool{}, biases...), true)
	activations = append(append([]*Activation{}, activations...),
		Identity())

	layers := addfcLayers(g, hiddenSizes, biases, activations, init,
		features, batch)

	network := &MLP{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if _, err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute forward "+
			"pass: %v", err)
	}

	return network, nil
}

// addfcLayers creates the fully connected layers of an MLP on graph g
func addfcLayers(g *G.ExprGraph, hiddenSizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, features,
	batch int) []Layer {
	layers := make([]Layer, len(hiddenSizes))

	in := features
	for i, out := range hiddenSizes {
		weights := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(in, out),
			G.WithName(fmt.Sprintf("layer_%d_%d_weights", i, batch)),
			G.WithInit(init),
		)

		var bias *G.Node
		if biases[i] {
			bias = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, out),
				G.WithName(fmt.Sprintf("layer_%d_%d_bias", i, batch)),
				G.WithInit(G.Zeroes()),
			)
		}

		layers[i] = &fcLayer{
			weights: weights,
			bias:    bias,
			act:     activations[i],
		}
		in = out
	}

	return layers
}

// Graph returns the computational graph of the MLP
func (e *MLP) Graph() *G.ExprGraph {
	return e.g
}

// CloneWithBatch clones an MLP onto a new graph with a new input
// batch size. Weight values are copied.
func (e *MLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName(fmt.Sprintf("input_%d", batchSize)),
		G.WithInit(G.Zeroes()),
	)

	layers := make([]Layer, len(e.layers))
	for i := range e.layers {
		layers[i] = e.layers[i].CloneTo(graph)
	}

	network := &MLP{
		g:           graph,
		layers:      layers,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}
	if _, err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *MLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input sample
func (e *MLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs predicted per sample
func (e *MLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the
// forward pass
func (e *MLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.numInputs*e.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of the MLP to be equal to the weights of
// another NeuralNet with the same architecture
func (dest *MLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: architecture mismatch"+
			"\n\twant(%v learnables)\n\thave(%v)", len(nodes),
			len(sourceNodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in the MLP
func (e *MLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(e.layers))
		for i := range e.layers {
			learnables = append(learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *MLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		model := make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// fwd performs the forward pass of the MLP on the input node
func (e *MLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			return nil, fmt.Errorf("fwd: could not compute forward pass "+
				"of layer %v: %v", i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the value of the MLP's predictions after the last
// run of its graph
func (e *MLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the MLP
func (e *MLP) Prediction() *G.Node {
	return e.prediction
}

// gobLayer is the persisted form of a single layer's weights
type gobLayer struct {
	WeightShape []int
	Weights     []float64
	BiasShape   []int
	Bias        []float64
}

// GobEncode implements the gob.GobEncoder interface. Only weight
// values and the architecture are persisted, not graph state.
func (e *MLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// The final layer is reconstructed by NewMLP, so persist only
	// the hidden portion of the architecture
	numHidden := len(e.hiddenSizes) - 1
	if err := enc.Encode(e.numOutputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of "+
			"outputs: %v", err)
	}
	if err := enc.Encode(e.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of "+
			"inputs: %v", err)
	}
	if err := enc.Encode(e.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size: "+
			"%v", err)
	}
	if err := enc.Encode(e.hiddenSizes[:numHidden]); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden "+
			"sizes: %v", err)
	}
	if err := enc.Encode(e.biases[:numHidden]); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases: %v",
			err)
	}
	if err := enc.Encode(e.activations[:numHidden]); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode "+
			"activations: %v", err)
	}

	for i, layer := range e.layers {
		gl := gobLayer{
			WeightShape: layer.Weights().Shape(),
			Weights:     layer.Weights().Value().Data().([]float64),
		}
		if bias := layer.Bias(); bias != nil {
			gl.BiasShape = bias.Shape()
			gl.Bias = bias.Value().Data().([]float64)
		}
		if err := enc.Encode(gl); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer "+
				"%v: %v", i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *MLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var numOutputs, numInputs, batchSize int
	var hiddenSizes []int
	var biases []bool
	var activations []*Activation

	if err := dec.Decode(&numOutputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of "+
			"outputs: %v", err)
	}
	if err := dec.Decode(&numInputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of "+
			"inputs: %v", err)
	}
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size: %v",
			err)
	}
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes: %v",
			err)
	}
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases: %v", err)
	}
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations: %v",
			err)
	}

	newNet, err := NewMLP(numInputs, batchSize, numOutputs, G.NewGraph(),
		hiddenSizes, biases, G.Zeroes(), activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v",
			err)
	}
	newMLP := newNet.(*MLP)

	for i, layer := range newMLP.layers {
		var gl gobLayer
		if err := dec.Decode(&gl); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v",
				i, err)
		}

		weights := tensor.NewDense(tensor.Float64, gl.WeightShape,
			tensor.WithBacking(gl.Weights))
		if err := G.Let(layer.Weights(), weights); err != nil {
			return fmt.Errorf("gobdecode: could not restore layer %v "+
				"weights: %v", i, err)
		}
		if layer.Bias() != nil {
			bias := tensor.NewDense(tensor.Float64, gl.BiasShape,
				tensor.WithBacking(gl.Bias))
			if err := G.Let(layer.Bias(), bias); err != nil {
				return fmt.Errorf("gobdecode: could not restore layer "+
					"%v bias: %v", i, err)
			}
		}
	}

	*e = *newMLP
	return nil
}
