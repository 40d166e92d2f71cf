// Package nnet contains the network layers together with routines for building a network
// graph from a configuration and running the forward and backward passes.
package nnet

import (
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
	"os"
	"strings"
)

// Network type represents a directed acyclic graph of layers connected by named blobs.
type Network struct {
	Config
	Layers        []Layer
	Names         []string
	bottoms       [][]*num.Blob
	tops          [][]*num.Blob
	propagateDown [][]bool
	needBackward  []bool
	blobs         map[string]*num.Blob
	blobNames     []string
}

// New function creates a new network from the config, layers are setup in order and
// each bottom blob must be either an input or the top of an earlier layer.
func New(q num.Queue, conf Config) (*Network, error) {
	n := &Network{Config: conf, blobs: make(map[string]*num.Blob)}
	blobNeedsBackward := make(map[string]bool)
	consumed := make(map[string]bool)
	for _, in := range conf.Inputs {
		if _, ok := n.blobs[in.Name]; ok {
			return nil, errors.Errorf("duplicate input blob %q", in.Name)
		}
		n.addBlob(num.NewBlob(in.Name, in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]))
	}
	for i, lc := range conf.Layers {
		name := lc.Name
		if name == "" {
			name = fmt.Sprintf("%s%d", lc.Type, i)
		}
		layer, err := lc.Unmarshal()
		if err != nil {
			return nil, err
		}
		var bottom, top []*num.Blob
		for _, bname := range lc.Bottom {
			b, ok := n.blobs[bname]
			if !ok {
				return nil, errors.Errorf("layer %s: unknown bottom blob %q", name, bname)
			}
			if blobNeedsBackward[bname] && consumed[bname] {
				return nil, errors.Errorf("layer %s: blob %q needs gradients and is already consumed by another layer", name, bname)
			}
			consumed[bname] = true
			bottom = append(bottom, b)
		}
		for _, tname := range lc.Top {
			if _, ok := n.blobs[tname]; ok {
				return nil, errors.Errorf("layer %s: top blob %q is already defined", name, tname)
			}
			t := num.NewBlob(tname, 0, 0, 0, 0)
			n.addBlob(t)
			top = append(top, t)
		}
		if err = layer.Setup(q, bottom, top); err != nil {
			return nil, errors.Wrapf(err, "setup layer %s", name)
		}
		if err = layer.Reshape(q, bottom, top); err != nil {
			return nil, errors.Wrapf(err, "reshape layer %s", name)
		}
		needBackward := false
		if _, ok := layer.(ParamLayer); ok {
			needBackward = true
		}
		for _, bname := range lc.Bottom {
			needBackward = needBackward || blobNeedsBackward[bname]
		}
		for _, tname := range lc.Top {
			blobNeedsBackward[tname] = needBackward
		}
		n.Layers = append(n.Layers, layer)
		n.Names = append(n.Names, name)
		n.bottoms = append(n.bottoms, bottom)
		n.tops = append(n.tops, top)
		n.needBackward = append(n.needBackward, needBackward)
		if conf.DebugLevel >= 1 {
			fmt.Printf("== layer %d %s ==\n%s\n", i, name, n.shapes(i))
		}
	}
	// only layers which contribute to a loss need backward
	underLoss := make(map[string]bool)
	n.propagateDown = make([][]bool, len(n.Layers))
	for i := len(n.Layers) - 1; i >= 0; i-- {
		_, contributes := n.Layers[i].(LossLayer)
		for _, t := range n.tops[i] {
			contributes = contributes || underLoss[t.Name]
		}
		if !contributes {
			n.needBackward[i] = false
		}
		n.propagateDown[i] = make([]bool, len(n.bottoms[i]))
		for j, b := range n.bottoms[i] {
			if contributes {
				underLoss[b.Name] = true
			}
			n.propagateDown[i][j] = n.needBackward[i] && blobNeedsBackward[b.Name]
		}
	}
	n.SetPhase(conf.Phase)
	return n, nil
}

func (n *Network) addBlob(b *num.Blob) {
	n.blobs[b.Name] = b
	n.blobNames = append(n.blobNames, b.Name)
}

// Blob returns the named blob or nil if not found
func (n *Network) Blob(name string) *num.Blob {
	return n.blobs[name]
}

// Layer returns the named layer and its index or -1 if not found
func (n *Network) Layer(name string) (Layer, int) {
	for i, lname := range n.Names {
		if lname == name {
			return n.Layers[i], i
		}
	}
	return nil, -1
}

// Bottom and top blobs for layer i
func (n *Network) Blobs(i int) (bottom, top []*num.Blob) {
	return n.bottoms[i], n.tops[i]
}

// NeedBackward reports if backward is called for layer i and which bottom blobs get gradients.
func (n *Network) NeedBackward(i int) (bool, []bool) {
	return n.needBackward[i], n.propagateDown[i]
}

// SetPhase sets the train or test phase for each layer
func (n *Network) SetPhase(p Phase) {
	n.Phase = p
	for _, layer := range n.Layers {
		if l, ok := layer.(PhaseLayer); ok {
			l.SetPhase(p)
		}
	}
}

// Forward reshapes and runs each layer in turn and returns the total weighted loss.
func (n *Network) Forward(q num.Queue) (float32, error) {
	var loss float32
	for i, layer := range n.Layers {
		if err := layer.Reshape(q, n.bottoms[i], n.tops[i]); err != nil {
			return 0, errors.Wrapf(err, "reshape layer %s", n.Names[i])
		}
		l := layer.Forward(q, n.bottoms[i], n.tops[i])
		if ll, ok := layer.(LossLayer); ok {
			loss += ll.LossWeight() * l
		}
		if n.DebugLevel >= 2 {
			for _, t := range n.tops[i] {
				fmt.Printf("layer %d %s output\n%s", i, n.Names[i], t.String(q))
			}
		}
	}
	q.Finish()
	return loss, nil
}

// Backward runs the layers in reverse order. The gradient of each loss output is set to its loss weight.
func (n *Network) Backward(q num.Queue) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		if !n.needBackward[i] {
			continue
		}
		layer := n.Layers[i]
		if ll, ok := layer.(LossLayer); ok {
			q.Call(num.Fill(n.tops[i][0].Diff(), ll.LossWeight()))
		}
		layer.Backward(q, n.tops[i], n.propagateDown[i], n.bottoms[i])
	}
	q.Finish()
}

// InitInputs fills each input blob using its configured filler, or a unit gaussian if not set.
func (n *Network) InitInputs(q num.Queue) error {
	for _, in := range n.Inputs {
		f := FillerConfig{Type: "gaussian", Std: 1}
		if in.Filler != nil {
			f = *in.Filler
		}
		fill, err := f.Fill(n.blobs[in.Name].Data())
		if err != nil {
			return errors.Wrapf(err, "input %s", in.Name)
		}
		q.Call(fill)
	}
	q.Finish()
	return nil
}

// Params returns the learned parameter blobs for each layer
func (n *Network) Params() []*num.Blob {
	var params []*num.Blob
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			params = append(params, l.Params()...)
		}
	}
	return params
}

func (n *Network) shapes(i int) string {
	s := make([]string, 0, len(n.bottoms[i])+len(n.tops[i]))
	for _, b := range n.bottoms[i] {
		s = append(s, b.Name+b.ShapeString())
	}
	ins := strings.Join(s, " ")
	s = s[:0]
	for _, t := range n.tops[i] {
		s = append(s, t.Name+t.ShapeString())
	}
	return fmt.Sprintf("%s -> %s", ins, strings.Join(s, " "))
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	for i, layer := range n.Layers {
		back := ""
		if n.needBackward[i] {
			back = fmt.Sprintf(" backward %v", n.propagateDown[i])
		}
		s[i] = fmt.Sprintf("%2d: %-12s %-40s %s%s", i, n.Names[i], n.shapes(i), layer.ToString(), back)
	}
	return fmt.Sprintf("%s\n== Network ==\n%s", n.Config.configString(), strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights(q num.Queue) {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			for _, p := range l.Params() {
				fmt.Printf("== Layer %d %s ==\n%s", i, n.Names[i], p.String(q))
			}
		}
	}
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
