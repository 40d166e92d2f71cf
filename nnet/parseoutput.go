package nnet

import (
	"github.com/jnb666/segnet/num"
)

// parse output layer implementation: top[0] gets the channel with the largest value at each
// pixel and the optional top[1] the value itself. Ties go to the lowest channel.
type parseOutputLayer struct{}

func (l *parseOutputLayer) Type() string { return "parseOutput" }

func (l *parseOutputLayer) ToString() string { return "parseOutput" }

func (l *parseOutputLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	return checkBlobs("ParseOutput", bottom, top, 1, 1, 1, 2)
}

func (l *parseOutputLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	b := bottom[0]
	for _, t := range top {
		t.Reshape(b.Num(), 1, b.Height(), b.Width())
	}
	return nil
}

func (l *parseOutputLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	src, labels := bottom[0], top[0]
	var maxval *num.Blob
	if len(top) > 1 {
		maxval = top[1]
	}
	q.Call(num.Parallel("parse_output", src.Num(), func(n int) {
		label := labels.Plane(n, 0)
		best := make([]float32, len(label))
		copy(best, src.Plane(n, 0))
		for i := range label {
			label[i] = 0
		}
		for c := 1; c < src.Channels(); c++ {
			for i, v := range src.Plane(n, c) {
				if v > best[i] {
					best[i] = v
					label[i] = float32(c)
				}
			}
		}
		if maxval != nil {
			copy(maxval.Plane(n, 0), best)
		}
	}))
	return 0
}

func (l *parseOutputLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	noBackward("ParseOutput", propagateDown)
}
