package nnet

import (
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// hinge rank loss layer implementation: bottom[0] has the predicted embedding for each
// sample and bottom[1] the class label. Loss is written to top[0].
type hingeRankLossLayer struct {
	HingeRankLoss
	table   *mat.Dense
	margins *mat.Dense
	pred    *mat.Dense
	scores  *mat.Dense
}

func (l *hingeRankLossLayer) Type() string { return "hingeRankLoss" }

func (l *hingeRankLossLayer) LossWeight() float32 { return float32(l.Weight) }

func (l *hingeRankLossLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("HingeRankLoss", bottom, top, 2, 2, 1, 1); err != nil {
		return err
	}
	if l.table == nil {
		table, err := LoadWord2Vec(l.Word2Vec)
		if err != nil {
			return errors.Wrap(err, "HingeRankLoss")
		}
		l.table = table
	}
	return nil
}

func (l *hingeRankLossLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	n, dim, err := embedShape("HingeRankLoss", bottom, l.table)
	if err != nil {
		return err
	}
	classes, _ := l.table.Dims()
	if l.margins == nil || l.pred.RawMatrix().Rows != n {
		l.margins = mat.NewDense(n, classes, nil)
		l.scores = mat.NewDense(n, classes, nil)
		l.pred = mat.NewDense(n, dim, nil)
	}
	top[0].Reshape(1, 1, 1, 1)
	return nil
}

// check predictions have one embedding per sample and labels have one value per sample
func embedShape(name string, bottom []*num.Blob, table *mat.Dense) (n, dim int, err error) {
	n = bottom[0].Num()
	if n == 0 {
		return 0, 0, errors.Errorf("%s: empty input", name)
	}
	dim = bottom[0].Count() / n
	_, labelDim := table.Dims()
	if dim != labelDim {
		return 0, 0, errors.Errorf("%s: prediction dimension %d does not match word vectors %d", name, dim, labelDim)
	}
	if bottom[1].Count() != n {
		return 0, 0, errors.Errorf("%s: expecting %d labels, got %s", name, n, bottom[1].ShapeString())
	}
	return n, dim, nil
}

// score each prediction against every word vector
func score(pred, scores, table *mat.Dense, values []float32) {
	raw := pred.RawMatrix()
	for i, v := range values {
		raw.Data[i] = float64(v)
	}
	scores.Mul(pred, table.T())
}

func labelIndex(name string, label float32, classes int) int {
	ix := int(label)
	if ix < 0 || ix >= classes {
		panic(fmt.Sprintf("%s: label %d out of range", name, ix))
	}
	return ix
}

// Forward needs the inputs so the queue is flushed before computing the loss.
func (l *hingeRankLossLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	q.Finish()
	score(l.pred, l.scores, l.table, bottom[0].Values())
	labels := bottom[1].Values()
	n, classes := l.scores.Dims()
	margin := l.Margin
	var loss float64
	for i := 0; i < n; i++ {
		g := labelIndex("HingeRankLoss", labels[i], classes)
		similar := l.scores.At(i, g)
		for j := 0; j < classes; j++ {
			if j == g {
				l.margins.Set(i, j, 0)
				continue
			}
			m := margin - similar + l.scores.At(i, j)
			l.margins.Set(i, j, m)
			if m > 0 {
				loss += m
			}
		}
	}
	loss /= float64(n)
	top[0].Values()[0] = float32(loss)
	return float32(loss)
}

func (l *hingeRankLossLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	if propagateDown[1] {
		panic("HingeRankLoss: cannot backpropagate to label inputs")
	}
	if !propagateDown[0] {
		return
	}
	pred, label, loss := bottom[0], bottom[1], top[0]
	margins, table := l.margins, l.table
	q.Call(num.Kernel("hinge_bprop", func() {
		n, classes := margins.Dims()
		dim := pred.Count() / n
		diff, labels := pred.Grads(), label.Values()
		for i := range diff {
			diff[i] = 0
		}
		for i := 0; i < n; i++ {
			g := labelIndex("HingeRankLoss", labels[i], classes)
			row := diff[i*dim : (i+1)*dim]
			for j := 0; j < classes; j++ {
				if margins.At(i, j) <= 0 {
					continue
				}
				for k := range row {
					row[k] += float32(table.At(j, k) - table.At(g, k))
				}
			}
		}
		scale := loss.Grads()[0] / float32(n)
		for i := range diff {
			diff[i] *= scale
		}
	}))
}
