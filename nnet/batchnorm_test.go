package nnet

import (
	"github.com/jnb666/segnet/num"
	"gonum.org/v1/gonum/stat"
	"math"
	"math/rand"
	"testing"
)

// mean and mean square of the values for each channel, or each (channel, y, x) location
func moments(b *num.Blob, acrossSpatial bool) (mean, meanSq []float64) {
	size := b.Height() * b.Width()
	groups := b.Channels()
	if !acrossSpatial {
		groups *= size
	}
	for g := 0; g < groups; g++ {
		var vals []float64
		for n := 0; n < b.Num(); n++ {
			if acrossSpatial {
				for _, v := range b.Plane(n, g) {
					vals = append(vals, float64(v))
				}
			} else {
				vals = append(vals, float64(b.Plane(n, g/size)[g%size]))
			}
		}
		sq := make([]float64, len(vals))
		for i, v := range vals {
			sq[i] = v * v
		}
		mean = append(mean, stat.Mean(vals, nil))
		meanSq = append(meanSq, stat.Mean(sq, nil))
	}
	return
}

func batchNormConfig(scale, shift float64, acrossSpatial bool) BatchNorm {
	c := NewBatchNorm()
	c.ScaleFiller = FillerConfig{Type: "constant", Value: scale}
	c.ShiftFiller = FillerConfig{Type: "constant", Value: shift}
	c.AcrossSpatial = acrossSpatial
	return c
}

func TestBatchNormDefaults(t *testing.T) {
	layer, err := LayerConfig{Type: "batchNorm"}.Unmarshal()
	if err != nil {
		t.Fatal(err)
	}
	t.Log(layer.ToString())
	l := layer.(*batchNormLayer)
	if l.VarEps != 1e-9 || l.Decay != 0.05 || !l.AcrossSpatial || l.MovingAverage {
		t.Errorf("invalid defaults: %+v", l.BatchNorm)
	}
	if l.ScaleFiller.Value != 1 || l.ShiftFiller.Value != 0 {
		t.Errorf("invalid default fillers: %s %s", l.ScaleFiller, l.ShiftFiller)
	}
	layer, err = LayerConfig{Type: "batchNorm", Data: []byte(`{"MovingAverage":true,"Decay":0.1}`)}.Unmarshal()
	if err != nil {
		t.Fatal(err)
	}
	l = layer.(*batchNormLayer)
	if !l.MovingAverage || l.Decay != 0.1 || l.VarEps != 1e-9 || !l.AcrossSpatial {
		t.Errorf("invalid settings: %+v", l.BatchNorm)
	}
}

func TestBatchNormForward(t *testing.T) {
	tests := []struct {
		scale, shift float64
		mean, meanSq float64
	}{
		{1, 0, 0, 1},
		{1, 1, 1, 2},
		{2, 1, 1, 5},
	}
	rand.Seed(42)
	for _, across := range []bool{true, false} {
		for _, phase := range []Phase{Train, Test} {
			for _, test := range tests {
				q := dev.NewQueue(2)
				bottom := []*num.Blob{gaussBlob("input", 8, 2, 3, 4, 3, 2)}
				top := []*num.Blob{newBlob("output", 0, 0, 0, 0, nil)}
				layer := setupLayer(t, q, batchNormConfig(test.scale, test.shift, across), bottom, top)
				layer.(PhaseLayer).SetPhase(phase)
				layer.Forward(q, bottom, top)
				q.Finish()
				mean, meanSq := moments(top[0], across)
				t.Logf("across=%v phase=%s scale=%g shift=%g: mean=%.4f meanSq=%.4f", across, phase, test.scale, test.shift, mean[0], meanSq[0])
				for i := range mean {
					if math.Abs(mean[i]-test.mean) > 1e-3 || math.Abs(meanSq[i]-test.meanSq) > 1e-3 {
						t.Errorf("group %d: expecting mean %g meanSq %g, got %g %g", i, test.mean, test.meanSq, mean[i], meanSq[i])
						break
					}
				}
			}
		}
	}
}

func TestBatchNormMovingAverage(t *testing.T) {
	rand.Seed(42)
	q := dev.NewQueue(1)
	conf := batchNormConfig(1, 0, true)
	conf.MovingAverage = true
	conf.Decay = 0.5
	bottom := []*num.Blob{gaussBlob("input", 4, 2, 2, 3, 1, 2)}
	top := []*num.Blob{newBlob("output", 0, 0, 0, 0, nil)}
	layer := setupLayer(t, q, conf, bottom, top)
	layer.Forward(q, bottom, top)
	q.Finish()
	mean, meanSq := moments(bottom[0], true)

	// in test phase the running averages are used: after one update these are half the batch statistics
	layer.(PhaseLayer).SetPhase(Test)
	layer.Forward(q, bottom, top)
	q.Finish()
	for c := 0; c < 2; c++ {
		m := 0.5 * mean[c]
		std := math.Sqrt(0.5*(meanSq[c]-mean[c]*mean[c]) + conf.VarEps)
		for n := 0; n < 4; n++ {
			x, y := bottom[0].Plane(n, c), top[0].Plane(n, c)
			for i := range x {
				expect := (float64(x[i]) - m) / std
				if math.Abs(float64(y[i])-expect) > 1e-3*math.Max(1, math.Abs(expect)) {
					t.Fatalf("channel %d: expecting %g got %g", c, expect, y[i])
				}
			}
		}
	}
	t.Logf("== test output ==\n%s", top[0].String(q))
}

func TestBatchNormReshape(t *testing.T) {
	q := dev.NewQueue(1)
	bottom := []*num.Blob{newBlob("input", 2, 3, 2, 2, nil)}
	top := []*num.Blob{newBlob("output", 0, 0, 0, 0, nil)}
	layer := setupLayer(t, q, batchNormConfig(1, 0, true), bottom, top)
	bottom[0].Reshape(4, 3, 3, 3)
	if err := layer.Reshape(q, bottom, top); err != nil {
		t.Fatal(err)
	}
	if !top[0].SameShape(bottom[0]) {
		t.Errorf("expecting output shape %s got %s", bottom[0].ShapeString(), top[0].ShapeString())
	}
	bottom[0].Reshape(4, 2, 3, 3)
	if err := layer.Reshape(q, bottom, top); err == nil {
		t.Error("expecting error for channel change")
	}

	bottom = []*num.Blob{newBlob("input", 2, 3, 2, 2, nil)}
	layer = setupLayer(t, q, batchNormConfig(1, 0, false), bottom, top)
	bottom[0].Reshape(4, 3, 2, 2)
	if err := layer.Reshape(q, bottom, top); err != nil {
		t.Fatal(err)
	}
	bottom[0].Reshape(4, 3, 3, 2)
	if err := layer.Reshape(q, bottom, top); err == nil {
		t.Error("expecting error for spatial size change")
	} else {
		t.Log(err)
	}
}

func TestBatchNormSetupErrors(t *testing.T) {
	confs := []BatchNorm{NewBatchNorm(), NewBatchNorm(), NewBatchNorm()}
	confs[0].VarEps = -1
	confs[1].MovingAverage = true
	confs[1].Decay = 1
	confs[2].ScaleFiller = FillerConfig{Type: "xavier"}
	for _, conf := range confs {
		q := dev.NewQueue(1)
		layer := &batchNormLayer{BatchNorm: conf}
		err := layer.Setup(q, []*num.Blob{newBlob("input", 2, 3, 2, 2, nil)}, []*num.Blob{newBlob("output", 0, 0, 0, 0, nil)})
		if err == nil {
			t.Errorf("expecting error for %+v", conf)
		} else {
			t.Log(err)
		}
	}
}

func TestBatchNormGradient(t *testing.T) {
	rand.Seed(42)
	for _, across := range []bool{true, false} {
		q := dev.NewQueue(2)
		conf := NewBatchNorm()
		conf.AcrossSpatial = across
		conf.ScaleFiller = FillerConfig{Type: "uniform", Min: 0.5, Max: 1.5}
		conf.ShiftFiller = FillerConfig{Type: "gaussian", Std: 0.5}
		bottom := []*num.Blob{gaussBlob("input", 6, 2, 2, 3, 0, 1)}
		top := []*num.Blob{newBlob("output", 0, 0, 0, 0, nil)}
		layer := setupLayer(t, q, conf, bottom, top)
		params := layer.(ParamLayer).Params()
		t.Logf("across=%v\n%s%s", across, params[0].String(q), params[1].String(q))
		check := newGradChecker()
		check.check(t, q, layer, bottom, top, bottom[0], []bool{true})
		for _, p := range params {
			check.check(t, q, layer, bottom, top, p, []bool{false})
		}
	}
}
