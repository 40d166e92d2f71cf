package nnet

import (
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// evaluate layer implementation: nearest word vector by dot product compared with the label
type evaluateLayer struct {
	Evaluate
	table  *mat.Dense
	pred   *mat.Dense
	scores *mat.Dense
}

func (l *evaluateLayer) Type() string { return "evaluate" }

func (l *evaluateLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("Evaluate", bottom, top, 2, 2, 1, 1); err != nil {
		return err
	}
	if l.NumLabels <= 0 {
		return errors.New("Evaluate: NumLabels must be set")
	}
	if l.table == nil {
		table, err := LoadWord2Vec(l.Word2Vec)
		if err != nil {
			return errors.Wrap(err, "Evaluate")
		}
		l.table = table
	}
	if classes, _ := l.table.Dims(); classes != l.NumLabels {
		return errors.Errorf("Evaluate: NumLabels %d does not match %d word vectors", l.NumLabels, classes)
	}
	return nil
}

func (l *evaluateLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	n, dim, err := embedShape("Evaluate", bottom, l.table)
	if err != nil {
		return err
	}
	if l.pred == nil || l.pred.RawMatrix().Rows != n {
		l.pred = mat.NewDense(n, dim, nil)
		l.scores = mat.NewDense(n, l.NumLabels, nil)
	}
	top[0].Reshape(1, 1, 1, 1)
	return nil
}

func (l *evaluateLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	q.Finish()
	score(l.pred, l.scores, l.table, bottom[0].Values())
	labels := bottom[1].Values()
	n, classes := l.scores.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < classes; j++ {
			if l.scores.At(i, j) > l.scores.At(i, best) {
				best = j
			}
		}
		if int(labels[i]) == best {
			correct++
		}
	}
	top[0].Values()[0] = float32(correct) / float32(n)
	return 0
}

func (l *evaluateLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	noBackward("Evaluate", propagateDown)
}

// parse evaluate layer implementation: bottom[0] is the predicted label map and bottom[1] the ground truth.
// Output has [true positives, ground truth count, predicted count] for each label.
type parseEvaluateLayer struct {
	ParseEvaluate
}

func (l *parseEvaluateLayer) Type() string { return "parseEvaluate" }

func (l *parseEvaluateLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("ParseEvaluate", bottom, top, 2, 2, 1, 1); err != nil {
		return err
	}
	if l.NumLabels <= 0 {
		return errors.New("ParseEvaluate: NumLabels must be set")
	}
	return nil
}

func (l *parseEvaluateLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	pred, gt := bottom[0], bottom[1]
	if pred.Channels() != 1 || !pred.SameShape(gt) {
		return errors.Errorf("ParseEvaluate: expecting single channel prediction and label of same shape, got %s and %s",
			pred.ShapeString(), gt.ShapeString())
	}
	top[0].Reshape(1, l.NumLabels, 1, 3)
	return nil
}

func (l *parseEvaluateLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	pred, gt, out := bottom[0], bottom[1], top[0]
	numLabels, ignore := l.NumLabels, l.IgnoreLabel
	q.Call(num.Kernel("parse_evaluate", func() {
		res := out.Values()
		for i := range res {
			res[i] = 0
		}
		labels := gt.Values()
		for i, p := range pred.Values() {
			label, predLabel := int(labels[i]), int(p)
			if predLabel < 0 || predLabel >= numLabels {
				panic(fmt.Sprintf("ParseEvaluate: predicted label %d out of range", predLabel))
			}
			if isIgnored(label, ignore) {
				continue
			}
			if label < 0 || label >= numLabels {
				panic(fmt.Sprintf("ParseEvaluate: label %d out of range", label))
			}
			if label == predLabel {
				res[label*3]++
			}
			res[label*3+1]++
			res[predLabel*3+2]++
		}
	}))
	return 0
}

func (l *parseEvaluateLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	noBackward("ParseEvaluate", propagateDown)
}
