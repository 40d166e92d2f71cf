package nnet

import (
	"encoding/json"
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
)

// Layer interface type represents one node of the network graph. It reads from a list of
// bottom blobs and writes to a list of top blobs which are shared with the other layers.
type Layer interface {
	Type() string
	// One time allocation of parameters and fixed state
	Setup(q num.Queue, bottom, top []*num.Blob) error
	// Derive output shapes and auxiliary structures, may be called many times
	Reshape(q num.Queue, bottom, top []*num.Blob) error
	// Compute top from bottom, returns the loss for loss layers
	Forward(q num.Queue, bottom, top []*num.Blob) float32
	// Compute bottom gradients from top gradients where propagateDown is set
	Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob)
	ToString() string
}

// ParamLayer is a layer with learned parameters
type ParamLayer interface {
	Layer
	Params() []*num.Blob
}

// PhaseLayer is a layer whose behaviour differs between training and testing
type PhaseLayer interface {
	Layer
	SetPhase(p Phase)
}

// LossLayer is a layer whose first top blob holds a scalar loss
type LossLayer interface {
	Layer
	LossWeight() float32
}

// Phase indicates if we are training or testing the network
type Phase int

const (
	Train Phase = iota
	Test
)

func (p Phase) String() string {
	if p == Test {
		return "test"
	}
	return "train"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "train", "TRAIN":
		*p = Train
	case "test", "TEST":
		*p = Test
	default:
		return errors.Errorf("invalid phase %q", text)
	}
	return nil
}

// Layer configuration details
type LayerConfig struct {
	Name   string
	Type   string
	Bottom []string
	Top    []string
	Data   json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Connect sets the name and the bottom and top blob names for the layer.
func (l LayerConfig) Connect(name string, bottom []string, top ...string) LayerConfig {
	l.Name = name
	l.Bottom = bottom
	l.Top = top
	return l
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() (Layer, error) {
	var cfg interface {
		unmarshal(data json.RawMessage) (Layer, error)
	}
	switch l.Type {
	case "unpool":
		cfg = new(UnPool)
	case "batchNorm":
		cfg = new(BatchNorm)
	case "grouping":
		cfg = new(Grouping)
	case "hingeRankLoss":
		cfg = new(HingeRankLoss)
	case "evaluate":
		cfg = new(Evaluate)
	case "parseEvaluate":
		cfg = new(ParseEvaluate)
	case "parseOutput":
		cfg = new(ParseOutput)
	default:
		return nil, errors.Errorf("invalid layer type: %q", l.Type)
	}
	layer, err := cfg.unmarshal(l.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "layer %s", l.Name)
	}
	return layer, nil
}

func (l LayerConfig) String() string {
	layer, err := l.Unmarshal()
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%-12s %v -> %v %s", l.Name, l.Bottom, l.Top, layer.ToString())
}

// Unpooling layer, upsamples each plane by inverting a conceptual pooling window.
type UnPool struct {
	Method     UnPoolMethod
	KernelSize int `json:",omitempty"`
	KernelH    int `json:",omitempty"`
	KernelW    int `json:",omitempty"`
	Stride     int `json:",omitempty"`
	StrideH    int `json:",omitempty"`
	StrideW    int `json:",omitempty"`
	Pad        int `json:",omitempty"`
	PadH       int `json:",omitempty"`
	PadW       int `json:",omitempty"`
}

func (c UnPool) Marshal() LayerConfig {
	return LayerConfig{Type: "unpool", Data: marshal(c)}
}

func (c UnPool) ToString() string {
	return fmt.Sprintf("unpool %+v", c)
}

func (c *UnPool) unmarshal(data json.RawMessage) (Layer, error) {
	if err := unmarshal(data, c); err != nil {
		return nil, err
	}
	return &unpoolLayer{UnPool: *c}, nil
}

// UnPoolMethod selects how each input value is distributed over its window.
type UnPoolMethod int

const (
	Fixed UnPoolMethod = iota
	Div
	Rep
)

var unpoolMethods = []string{"FIXED", "DIV", "REP"}

func (m UnPoolMethod) String() string {
	if m < 0 || int(m) >= len(unpoolMethods) {
		return fmt.Sprintf("UnPoolMethod(%d)", int(m))
	}
	return unpoolMethods[m]
}

func (m UnPoolMethod) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(unpoolMethods) {
		return nil, errors.Errorf("invalid unpool method %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *UnPoolMethod) UnmarshalText(text []byte) error {
	for i, name := range unpoolMethods {
		if string(text) == name {
			*m = UnPoolMethod(i)
			return nil
		}
	}
	return errors.Errorf("invalid unpool method %q", text)
}

// Batch normalisation layer with learned scale and shift.
type BatchNorm struct {
	VarEps        float64
	Decay         float64
	MovingAverage bool
	AcrossSpatial bool
	ScaleFiller   FillerConfig
	ShiftFiller   FillerConfig
}

// NewBatchNorm returns the default batch norm settings.
func NewBatchNorm() BatchNorm {
	return BatchNorm{
		VarEps:        1e-9,
		Decay:         0.05,
		AcrossSpatial: true,
		ScaleFiller:   FillerConfig{Type: "constant", Value: 1},
		ShiftFiller:   FillerConfig{Type: "constant", Value: 0},
	}
}

func (c BatchNorm) Marshal() LayerConfig {
	return LayerConfig{Type: "batchNorm", Data: marshal(c)}
}

func (c BatchNorm) ToString() string {
	return fmt.Sprintf("batchNorm %+v", c)
}

func (c *BatchNorm) unmarshal(data json.RawMessage) (Layer, error) {
	*c = NewBatchNorm()
	if err := unmarshal(data, c); err != nil {
		return nil, err
	}
	return &batchNormLayer{BatchNorm: *c}, nil
}

// Grouping layer, averages the input over each group of a superpixel map.
type Grouping struct{}

func (c Grouping) Marshal() LayerConfig {
	return LayerConfig{Type: "grouping"}
}

func (c Grouping) ToString() string {
	return "grouping"
}

func (c *Grouping) unmarshal(data json.RawMessage) (Layer, error) {
	return &groupingLayer{}, nil
}

// Hinge rank loss layer for embedding predictions against a word vector table.
type HingeRankLoss struct {
	Margin   float64
	Word2Vec string
	Weight   float64 `json:",omitempty"`
}

func (c HingeRankLoss) Marshal() LayerConfig {
	return LayerConfig{Type: "hingeRankLoss", Data: marshal(c)}
}

func (c HingeRankLoss) ToString() string {
	return fmt.Sprintf("hingeRankLoss %+v", c)
}

func (c *HingeRankLoss) unmarshal(data json.RawMessage) (Layer, error) {
	if err := unmarshal(data, c); err != nil {
		return nil, err
	}
	if c.Weight == 0 {
		c.Weight = 1
	}
	return &hingeRankLossLayer{HingeRankLoss: *c}, nil
}

// Evaluate layer, gives the nearest word vector classification accuracy.
type Evaluate struct {
	Word2Vec    string
	NumLabels   int
	IgnoreLabel []int `json:",omitempty"`
}

func (c Evaluate) Marshal() LayerConfig {
	return LayerConfig{Type: "evaluate", Data: marshal(c)}
}

func (c Evaluate) ToString() string {
	return fmt.Sprintf("evaluate %+v", c)
}

func (c *Evaluate) unmarshal(data json.RawMessage) (Layer, error) {
	if err := unmarshal(data, c); err != nil {
		return nil, err
	}
	return &evaluateLayer{Evaluate: *c}, nil
}

// ParseEvaluate layer, counts true positive, ground truth and predicted pixels per label.
type ParseEvaluate struct {
	NumLabels   int
	IgnoreLabel []int `json:",omitempty"`
}

func (c ParseEvaluate) Marshal() LayerConfig {
	return LayerConfig{Type: "parseEvaluate", Data: marshal(c)}
}

func (c ParseEvaluate) ToString() string {
	return fmt.Sprintf("parseEvaluate %+v", c)
}

func (c *ParseEvaluate) unmarshal(data json.RawMessage) (Layer, error) {
	if err := unmarshal(data, c); err != nil {
		return nil, err
	}
	return &parseEvaluateLayer{ParseEvaluate: *c}, nil
}

// ParseOutput layer, takes the argmax over channels at each pixel.
type ParseOutput struct{}

func (c ParseOutput) Marshal() LayerConfig {
	return LayerConfig{Type: "parseOutput"}
}

func (c ParseOutput) ToString() string {
	return "parseOutput"
}

func (c *ParseOutput) unmarshal(data json.RawMessage) (Layer, error) {
	return &parseOutputLayer{}, nil
}

// check number of bottom and top blobs
func checkBlobs(name string, bottom, top []*num.Blob, minBottom, maxBottom, minTop, maxTop int) error {
	if len(bottom) < minBottom || len(bottom) > maxBottom {
		return errors.Errorf("%s: expecting %d to %d bottom blobs, got %d", name, minBottom, maxBottom, len(bottom))
	}
	if len(top) < minTop || len(top) > maxTop {
		return errors.Errorf("%s: expecting %d to %d top blobs, got %d", name, minTop, maxTop, len(top))
	}
	return nil
}

// panic if gradient is requested for a non differentiable input
func noBackward(name string, propagateDown []bool) {
	for i, down := range propagateDown {
		if down {
			panic(fmt.Sprintf("%s: cannot backpropagate to input %d", name, i))
		}
	}
}

// zero the gradient of any requested input from index start on, for inputs such as
// group ids or reference shapes which have no gradient
func zeroBackward(q num.Queue, propagateDown []bool, bottom []*num.Blob, start int) {
	for i := start; i < len(propagateDown) && i < len(bottom); i++ {
		if propagateDown[i] {
			q.Call(num.Fill(bottom[i].Diff(), 0))
		}
	}
}

func isIgnored(label int, ignore []int) bool {
	for _, l := range ignore {
		if l == label {
			return true
		}
	}
	return false
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, v), "unmarshal layer config")
}
