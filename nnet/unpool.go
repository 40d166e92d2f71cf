package nnet

import (
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
)

// unpooling layer implementation
type unpoolLayer struct {
	UnPool
	unpoolGeom
	mask num.Array
}

// window geometry, same for every sample and channel
type unpoolGeom struct {
	batch, channels  int
	height, width    int
	uheight, uwidth  int
	kernelH, kernelW int
	strideH, strideW int
	padH, padW       int
}

func (l *unpoolLayer) Type() string { return "unpool" }

func (l *unpoolLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("UnPool", bottom, top, 1, 2, 1, 1); err != nil {
		return err
	}
	if l.Method < Fixed || l.Method > Rep {
		return errors.Errorf("UnPool: unknown unpool method %d", l.Method)
	}
	return l.setParams(bottom)
}

// derive kernel, stride and pad either from the config or from the reference input
func (l *unpoolLayer) setParams(bottom []*num.Blob) error {
	c := l.UnPool
	if c.KernelSize < 0 || c.KernelH < 0 || c.KernelW < 0 || c.Stride < 0 || c.StrideH < 0 || c.StrideW < 0 ||
		c.Pad < 0 || c.PadH < 0 || c.PadW < 0 {
		return errors.New("UnPool: kernel, stride and pad cannot be negative")
	}
	if c.KernelSize != 0 && (c.KernelH != 0 || c.KernelW != 0) {
		return errors.New("UnPool: kernel size is KernelSize OR KernelH and KernelW; not both")
	}
	if (c.Pad != 0 && (c.PadH != 0 || c.PadW != 0)) || ((c.PadH != 0) != (c.PadW != 0)) {
		return errors.New("UnPool: pad is Pad OR PadH and PadW are required")
	}
	if (c.Stride != 0 && (c.StrideH != 0 || c.StrideW != 0)) || ((c.StrideH != 0) != (c.StrideW != 0)) {
		return errors.New("UnPool: stride is Stride OR StrideH and StrideW are required")
	}
	g := &l.unpoolGeom
	if len(bottom) == 1 {
		if c.KernelSize != 0 {
			g.kernelH, g.kernelW = c.KernelSize, c.KernelSize
		} else {
			g.kernelH, g.kernelW = c.KernelH, c.KernelW
		}
		if g.kernelH <= 0 || g.kernelW <= 0 {
			return errors.New("UnPool: for non-square kernels both KernelH and KernelW are required")
		}
		if c.StrideH != 0 {
			g.strideH, g.strideW = c.StrideH, c.StrideW
		} else {
			g.strideH, g.strideW = c.Stride, c.Stride
		}
		if g.strideH == 0 {
			g.strideH, g.strideW = 1, 1
		}
		if c.PadH != 0 {
			g.padH, g.padW = c.PadH, c.PadW
		} else {
			g.padH, g.padW = c.Pad, c.Pad
		}
	} else {
		low, ref := bottom[0], bottom[1]
		if low.Height() <= 0 || low.Width() <= 0 {
			return errors.Errorf("UnPool: invalid input shape %s", low.ShapeString())
		}
		g.kernelH, g.strideH, g.padH = autoParams(low.Height(), ref.Height())
		g.kernelW, g.strideW, g.padW = autoParams(low.Width(), ref.Width())
	}
	if g.padH != 0 || g.padW != 0 {
		if g.padH >= g.kernelH || g.padW >= g.kernelW {
			return errors.Errorf("UnPool: pad %dx%d must be less than kernel %dx%d", g.padH, g.padW, g.kernelH, g.kernelW)
		}
	}
	return nil
}

// kernel and stride cover the reference dimension, pad trims the overhang
func autoParams(low, ref int) (kernel, stride, pad int) {
	kernel = (ref + low - 1) / low
	stride = kernel
	if stride == ref {
		stride = 1
	}
	pad = floorDiv((low-1)*stride+kernel-ref, 2)
	return
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (l *unpoolLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	if err := l.setParams(bottom); err != nil {
		return err
	}
	g := &l.unpoolGeom
	b := bottom[0]
	g.batch, g.channels, g.height, g.width = b.Num(), b.Channels(), b.Height(), b.Width()
	g.uheight = (g.height-1)*g.strideH - 2*g.padH + g.kernelH
	g.uwidth = (g.width-1)*g.strideW - 2*g.padW + g.kernelW
	if g.uheight <= 0 || g.uwidth <= 0 {
		return errors.Errorf("UnPool: invalid output size %dx%d from input %s", g.uheight, g.uwidth, b.ShapeString())
	}
	top[0].Reshape(g.batch, g.channels, g.uheight, g.uwidth)
	if l.mask == nil || !num.SameShape(l.mask.Dims(), []int{1, 1, g.uheight, g.uwidth}) {
		l.mask = q.NewArray(num.Int32, 1, 1, g.uheight, g.uwidth)
	}
	geom, mask, method := *g, l.mask.Int32s(), l.Method
	q.Call(num.Kernel("unpool_mask", func() { geom.fillMask(method, mask) }))
	return nil
}

func (l *unpoolLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	g, mask, method := l.unpoolGeom, l.mask.Int32s(), l.Method
	src, dst := bottom[0], top[0]
	q.Call(num.Parallel("unpool_fprop", g.batch*g.channels, func(i int) {
		n, c := i/g.channels, i%g.channels
		g.forward(method, mask, src.Plane(n, c), dst.Plane(n, c))
	}))
	return 0
}

func (l *unpoolLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	zeroBackward(q, propagateDown, bottom, 1)
	if !propagateDown[0] {
		return
	}
	g, mask, method := l.unpoolGeom, l.mask.Int32s(), l.Method
	src, dst := bottom[0], top[0]
	q.Call(num.Parallel("unpool_bprop", g.batch*g.channels, func(i int) {
		n, c := i/g.channels, i%g.channels
		g.backward(method, mask, dst.PlaneDiff(n, c), src.PlaneDiff(n, c))
	}))
}

// Mask for FIXED holds the source index written to each output cell or -1. For DIV and REP
// it holds the number of input windows which cover each output cell.
func (g unpoolGeom) fillMask(method UnPoolMethod, mask []int32) {
	switch method {
	case Fixed:
		for i := range mask {
			mask[i] = -1
		}
		for h := 0; h < g.height; h++ {
			uh := midpoint(h, g.strideH, g.padH, g.kernelH, g.uheight)
			for w := 0; w < g.width; w++ {
				uw := midpoint(w, g.strideW, g.padW, g.kernelW, g.uwidth)
				mask[uh*g.uwidth+uw] = int32(h*g.width + w)
			}
		}
	case Div, Rep:
		for i := range mask {
			mask[i] = 0
		}
		for h := 0; h < g.height; h++ {
			_, hstart, hend := span(h, g.strideH, g.padH, g.kernelH, g.uheight)
			for w := 0; w < g.width; w++ {
				_, wstart, wend := span(w, g.strideW, g.padW, g.kernelW, g.uwidth)
				for uh := hstart; uh < hend; uh++ {
					for uw := wstart; uw < wend; uw++ {
						mask[uh*g.uwidth+uw]++
					}
				}
			}
		}
	default:
		panic(fmt.Sprintf("UnPool: unknown unpool method %d", method))
	}
}

func (g unpoolGeom) forward(method UnPoolMethod, mask []int32, in, out []float32) {
	for i := range out {
		out[i] = 0
	}
	if method == Fixed {
		for u, ix := range mask {
			if ix >= 0 {
				out[u] = in[ix]
			}
		}
		return
	}
	for h := 0; h < g.height; h++ {
		nh, hstart, hend := span(h, g.strideH, g.padH, g.kernelH, g.uheight)
		for w := 0; w < g.width; w++ {
			nw, wstart, wend := span(w, g.strideW, g.padW, g.kernelW, g.uwidth)
			val := in[h*g.width+w]
			if method == Div {
				val /= float32(nh * nw)
			}
			for uh := hstart; uh < hend; uh++ {
				for uw := wstart; uw < wend; uw++ {
					u := uh*g.uwidth + uw
					out[u] += val / float32(count(mask, u))
				}
			}
		}
	}
}

func (g unpoolGeom) backward(method UnPoolMethod, mask []int32, dout, din []float32) {
	for i := range din {
		din[i] = 0
	}
	if method == Fixed {
		for u, ix := range mask {
			if ix >= 0 {
				din[ix] = dout[u]
			}
		}
		return
	}
	for h := 0; h < g.height; h++ {
		nh, hstart, hend := span(h, g.strideH, g.padH, g.kernelH, g.uheight)
		for w := 0; w < g.width; w++ {
			nw, wstart, wend := span(w, g.strideW, g.padW, g.kernelW, g.uwidth)
			size := float32(nh * nw)
			var sum float32
			for uh := hstart; uh < hend; uh++ {
				for uw := wstart; uw < wend; uw++ {
					u := uh*g.uwidth + uw
					if method == Div {
						sum += dout[u] / size / float32(count(mask, u))
					} else {
						sum += dout[u] / float32(count(mask, u))
					}
				}
			}
			din[h*g.width+w] += sum
		}
	}
}

// window for input cell i along one axis: nominal length including padding and the range clipped to the output
func span(i, stride, pad, kernel, size int) (length, start, end int) {
	start = i*stride - pad
	end = min(start+kernel, size+pad)
	length = end - start
	return length, max(start, 0), min(end, size)
}

// midpoint of the window for input cell i clamped to the output
func midpoint(i, stride, pad, kernel, size int) int {
	start := i*stride - pad
	mid := (2*start + kernel - 1) / 2
	return min(max(mid, 0), size-1)
}

func count(mask []int32, u int) int32 {
	if mask[u] <= 0 {
		panic(fmt.Sprintf("UnPool: invalid mask count %d at index %d", mask[u], u))
	}
	return mask[u]
}
