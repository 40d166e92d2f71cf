package nnet

import (
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
)

// batch normalisation layer implementation
type batchNormLayer struct {
	BatchNorm
	phase        Phase
	n, c, h, w   int
	bh, bw       int
	scale, shift *num.Blob
	mean, std    num.Array
	meanSq       num.Array
	accumMean    num.Array
	accumVar     num.Array
	xnorm        num.Array
	buffer       num.Array
	cube         num.Array
	vec          num.Array
	batchOnes    num.Array
	spatialOnes  num.Array
}

func (l *batchNormLayer) Type() string { return "batchNorm" }

func (l *batchNormLayer) SetPhase(p Phase) { l.phase = p }

func (l *batchNormLayer) Params() []*num.Blob { return []*num.Blob{l.scale, l.shift} }

func (l *batchNormLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("BatchNorm", bottom, top, 1, 1, 1, 1); err != nil {
		return err
	}
	if l.VarEps < 0 {
		return errors.Errorf("BatchNorm: VarEps must not be negative: %g", l.VarEps)
	}
	if l.MovingAverage && (l.Decay <= 0 || l.Decay >= 1) {
		return errors.Errorf("BatchNorm: Decay must be in range (0,1): %g", l.Decay)
	}
	b := bottom[0]
	l.n, l.c, l.h, l.w = b.Num(), b.Channels(), b.Height(), b.Width()
	if l.AcrossSpatial {
		l.bh, l.bw = 1, 1
	} else {
		l.bh, l.bw = l.h, l.w
	}
	size := l.c * l.bh * l.bw
	l.mean = q.NewArray(num.Float32, size)
	l.std = q.NewArray(num.Float32, size)
	l.meanSq = q.NewArray(num.Float32, size)
	l.accumMean = q.NewArray(num.Float32, size)
	l.accumVar = q.NewArray(num.Float32, size)
	if l.scale == nil {
		l.scale = num.NewBlob("scale", 1, l.c, l.bh, l.bw)
		l.shift = num.NewBlob("shift", 1, l.c, l.bh, l.bw)
		fillScale, err := l.ScaleFiller.Fill(l.scale.Data())
		if err != nil {
			return errors.Wrap(err, "BatchNorm scale")
		}
		fillShift, err := l.ShiftFiller.Fill(l.shift.Data())
		if err != nil {
			return errors.Wrap(err, "BatchNorm shift")
		}
		q.Call(fillScale, fillShift)
	}
	l.alloc(q)
	top[0].ReshapeLike(b)
	return nil
}

func (l *batchNormLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	b := bottom[0]
	if b.Channels() != l.c {
		return errors.Errorf("BatchNorm: batch should have %d channels, got %s", l.c, b.ShapeString())
	}
	changed := false
	if l.AcrossSpatial {
		if b.Height() != l.h || b.Width() != l.w {
			l.h, l.w = b.Height(), b.Width()
			changed = true
		}
	} else if b.Height() != l.h || b.Width() != l.w {
		return errors.Errorf("BatchNorm: batch should have height %d and width %d, got %s", l.h, l.w, b.ShapeString())
	}
	if b.Num() != l.n {
		l.n = b.Num()
		changed = true
	}
	if changed {
		l.alloc(q)
	}
	top[0].ReshapeLike(b)
	return nil
}

// allocate work arrays for the current input shape
func (l *batchNormLayer) alloc(q num.Queue) {
	count := l.n * l.c * l.h * l.w
	l.xnorm = q.NewArray(num.Float32, count)
	l.buffer = q.NewArray(num.Float32, count)
	l.cube = q.NewArray(num.Float32, l.c*l.h*l.w)
	l.vec = q.NewArray(num.Float32, l.c)
	l.batchOnes = q.NewArray(num.Float32, l.n)
	q.Call(num.Fill(l.batchOnes, 1))
	if l.AcrossSpatial {
		l.spatialOnes = q.NewArray(num.Float32, l.h*l.w)
		q.Call(num.Fill(l.spatialOnes, 1))
	}
}

func (l *batchNormLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	x, y := bottom[0].Data(), top[0].Data()
	if l.phase == Test && l.MovingAverage {
		q.Call(
			num.Copy(l.mean, l.accumMean),
			num.Copy(l.std, l.accumVar),
		)
	} else {
		invN := float32(1 / float64(l.n))
		invHW := float32(1 / float64(l.h*l.w))
		// E(X)
		q.Call(l.reduce(x, l.mean, invN, invHW)...)
		// E(X^2)
		q.Call(num.Powx(x, 2, l.buffer))
		q.Call(l.reduce(l.buffer, l.std, invN, invHW)...)
		// var(X) = E(X^2) - E(X)^2
		q.Call(
			num.Powx(l.mean, 2, l.meanSq),
			num.Sub(l.std, l.meanSq, l.std),
		)
		if l.phase == Train && l.MovingAverage {
			decay := float32(l.Decay)
			q.Call(
				num.Axpby(decay, l.mean, 1-decay, l.accumMean),
				num.Axpby(decay, l.std, 1-decay, l.accumVar),
			)
		}
	}
	// normalise
	q.Call(l.broadcast(l.mean, l.buffer, 0)...)
	q.Call(
		num.Sub(x, l.buffer, y),
		num.AddScalar(float32(l.VarEps), l.std),
		num.Powx(l.std, 0.5, l.std),
	)
	q.Call(l.broadcast(l.std, l.buffer, 0)...)
	q.Call(
		num.Div(y, l.buffer, y),
		num.Copy(l.xnorm, y),
	)
	// scale and shift
	q.Call(l.broadcast(l.scale.Data(), l.buffer, 0)...)
	q.Call(num.Mul(y, l.buffer, y))
	q.Call(l.broadcast(l.shift.Data(), l.buffer, 0)...)
	q.Call(num.Add(y, l.buffer, y))
	return 0
}

func (l *batchNormLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	dy := top[0].Diff()
	// parameter gradients
	q.Call(num.Mul(l.xnorm, dy, l.buffer))
	q.Call(l.reduce(l.buffer, l.scale.Diff(), 1, 1)...)
	q.Call(l.reduce(dy, l.shift.Diff(), 1, 1)...)
	if !propagateDown[0] {
		return
	}
	dx := bottom[0].Diff()
	// gradient wrt. normalised input
	q.Call(l.broadcast(l.scale.Data(), l.buffer, 0)...)
	q.Call(num.Mul(dy, l.buffer, l.buffer))
	// dx = xnorm * sum(dxnorm * xnorm)
	q.Call(num.Mul(l.xnorm, l.buffer, dx))
	q.Call(l.sumBroadcast(dx, dx, 0)...)
	q.Call(num.Mul(l.xnorm, dx, dx))
	// dx += sum(dxnorm)
	q.Call(l.sumBroadcast(l.buffer, dx, 1)...)
	// dx = dxnorm - dx / m
	q.Call(num.Axpby(1, l.buffer, -float32(l.bh*l.bw)/float32(l.n*l.h*l.w), dx))
	// dx /= std
	q.Call(l.broadcast(l.std, l.buffer, 0)...)
	q.Call(num.Div(dx, l.buffer, dx))
}

// y <- reduce(x) where the batch sum is scaled by alphaN and the spatial sum by alphaS
func (l *batchNormLayer) reduce(x, y num.Array, alphaN, alphaS float32) []num.Function {
	chw := l.c * l.h * l.w
	if l.AcrossSpatial {
		return []num.Function{
			num.Gemv(alphaN, 0, x.Reshape(l.n, chw), l.batchOnes, l.cube, num.Trans),
			num.Gemv(alphaS, 0, l.cube.Reshape(l.c, l.h*l.w), l.spatialOnes, y.Reshape(l.c), num.NoTrans),
		}
	}
	return []num.Function{
		num.Gemv(alphaN, 0, x.Reshape(l.n, chw), l.batchOnes, y.Reshape(chw), num.Trans),
	}
}

// y <- replicate(x) + beta*y where x has one value per statistic
func (l *batchNormLayer) broadcast(x, y num.Array, beta float32) []num.Function {
	chw := l.c * l.h * l.w
	batchOnes := l.batchOnes.Reshape(l.n, 1)
	if l.AcrossSpatial {
		return []num.Function{
			num.Gemm(1, 0, x.Reshape(l.c, 1), l.spatialOnes.Reshape(1, l.h*l.w), l.cube.Reshape(l.c, l.h*l.w), num.NoTrans, num.NoTrans),
			num.Gemm(1, beta, batchOnes, l.cube.Reshape(1, chw), y.Reshape(l.n, chw), num.NoTrans, num.NoTrans),
		}
	}
	return []num.Function{
		num.Gemm(1, beta, batchOnes, x.Reshape(1, chw), y.Reshape(l.n, chw), num.NoTrans, num.NoTrans),
	}
}

// y <- replicate(sum(x)) + beta*y
func (l *batchNormLayer) sumBroadcast(x, y num.Array, beta float32) []num.Function {
	chw := l.c * l.h * l.w
	fns := []num.Function{
		num.Gemv(1, 0, x.Reshape(l.n, chw), l.batchOnes, l.cube, num.Trans),
	}
	if l.AcrossSpatial {
		fns = append(fns,
			num.Gemv(1, 0, l.cube.Reshape(l.c, l.h*l.w), l.spatialOnes, l.vec, num.NoTrans),
			num.Gemm(1, 0, l.vec.Reshape(l.c, 1), l.spatialOnes.Reshape(1, l.h*l.w), l.cube.Reshape(l.c, l.h*l.w), num.NoTrans, num.NoTrans),
		)
	}
	return append(fns, num.Gemm(1, beta, l.batchOnes.Reshape(l.n, 1), l.cube.Reshape(1, chw), y.Reshape(l.n, chw), num.NoTrans, num.NoTrans))
}
