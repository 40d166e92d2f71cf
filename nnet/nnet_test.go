package nnet

import (
	"github.com/jnb666/segnet/num"
	"gonum.org/v1/gonum/diff/fd"
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-5

var dev = num.NewCPUDevice()

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

func newBlob(name string, n, c, h, w int, data []float32) *num.Blob {
	b := num.NewBlob(name, n, c, h, w)
	if data != nil {
		if len(data) != b.Count() {
			panic("newBlob: data length mismatch")
		}
		copy(b.Values(), data)
	}
	return b
}

func randBlob(name string, n, c, h, w int, min, max float32) *num.Blob {
	b := num.NewBlob(name, n, c, h, w)
	for i := range b.Values() {
		b.Values()[i] = min + rand.Float32()*(max-min)
	}
	return b
}

func gaussBlob(name string, n, c, h, w int, mean, std float64) *num.Blob {
	b := num.NewBlob(name, n, c, h, w)
	for i := range b.Values() {
		b.Values()[i] = float32(mean + rand.NormFloat64()*std)
	}
	return b
}

// repeat the values for each of n planes
func repeat(n int, data ...float32) []float32 {
	res := make([]float32, 0, n*len(data))
	for i := 0; i < n; i++ {
		res = append(res, data...)
	}
	return res
}

func scaled(scale float32, data ...float32) []float32 {
	res := make([]float32, len(data))
	for i, v := range data {
		res[i] = v * scale
	}
	return res
}

// create layer from config, then setup and reshape
func setupLayer(t *testing.T, q num.Queue, conf ConfigLayer, bottom, top []*num.Blob) Layer {
	layer, err := conf.Marshal().Unmarshal()
	if err != nil {
		t.Fatal(err)
	}
	if err = layer.Setup(q, bottom, top); err != nil {
		t.Fatal(err)
	}
	if err = layer.Reshape(q, bottom, top); err != nil {
		t.Fatal(err)
	}
	q.Finish()
	return layer
}

func compareArray(t *testing.T, title string, arr, expect []float32, epsilon float32) {
	if len(arr) != len(expect) {
		t.Fatalf("%s: length mismatch: got %d expect %d", title, len(arr), len(expect))
	}
	for i := range arr {
		if abs(arr[i]-expect[i]) > epsilon {
			t.Errorf("%s mismatch at %d: got %g expect %g", title, i, arr[i], expect[i])
			return
		}
	}
}

func compareBlob(t *testing.T, q num.Queue, title string, b *num.Blob, expect []float32) {
	q.Finish()
	t.Logf("== %s ==\n%s", title, b.String(q))
	compareArray(t, title, b.Values(), expect, eps)
}

// gradient checker compares the gradient from the backward pass with a central difference estimate.
// The objective is the weighted sum of the values in top[0] with random weights.
type gradChecker struct {
	step      float64
	threshold float64
}

func newGradChecker() gradChecker {
	return gradChecker{step: 1e-2, threshold: 1e-2}
}

// check gradient wrt. x, which is either one of the bottom blobs or a parameter blob
func (g gradChecker) check(t *testing.T, q num.Queue, layer Layer, bottom, top []*num.Blob, x *num.Blob, propagateDown []bool) {
	q.Finish()
	weights := make([]float32, top[0].Count())
	for i := range weights {
		weights[i] = 2*rand.Float32() - 1
	}
	x0 := make([]float64, x.Count())
	for i, v := range x.Values() {
		x0[i] = float64(v)
	}
	objective := func(xv []float64) float64 {
		for i, v := range xv {
			x.Values()[i] = float32(v)
		}
		layer.Forward(q, bottom, top)
		q.Finish()
		var sum float64
		for i, v := range top[0].Values() {
			sum += float64(weights[i]) * float64(v)
		}
		return sum
	}
	objective(x0)
	copy(top[0].Grads(), weights)
	layer.Backward(q, top, propagateDown, bottom)
	q.Finish()
	analytic := make([]float32, x.Count())
	copy(analytic, x.Grads())

	numeric := fd.Gradient(nil, objective, x0, &fd.Settings{Formula: fd.Central, Step: g.step})
	objective(x0)

	bad := 0
	for i, a := range analytic {
		n := numeric[i]
		scale := math.Max(math.Max(math.Abs(float64(a)), math.Abs(n)), 1)
		if math.Abs(float64(a)-n) > g.threshold*scale {
			if bad < 10 {
				t.Errorf("%s gradient %s[%d]: analytic %.5g numeric %.5g", layer.Type(), x.Name, i, a, n)
			}
			bad++
		}
	}
	if bad == 0 {
		t.Logf("%s gradient %s: %d values ok", layer.Type(), x.Name, len(analytic))
	}
}
