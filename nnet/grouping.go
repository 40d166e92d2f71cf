package nnet

import (
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
)

// grouping layer implementation: bottom[0] is the data and bottom[1] holds one or more
// group id maps per sample with the same spatial size.
type groupingLayer struct {
	n, c, h, w int
	gc         int
	// groups[n][gc][id] is the list of plane indices with relabelled group id
	groups [][][][]int
}

func (l *groupingLayer) Type() string { return "grouping" }

func (l *groupingLayer) ToString() string { return "grouping" }

func (l *groupingLayer) Setup(q num.Queue, bottom, top []*num.Blob) error {
	if err := checkBlobs("Grouping", bottom, top, 2, 2, 1, 1); err != nil {
		return err
	}
	return l.checkShape(bottom)
}

func (l *groupingLayer) checkShape(bottom []*num.Blob) error {
	data, group := bottom[0], bottom[1]
	if data.Num() != group.Num() || data.Height() != group.Height() || data.Width() != group.Width() {
		return errors.Errorf("Grouping: group map %s does not match data %s", group.ShapeString(), data.ShapeString())
	}
	if group.Channels() < 1 {
		return errors.New("Grouping: group map must have at least one channel")
	}
	return nil
}

// Reshape reads the group ids so any pending updates to bottom[1] are flushed first.
func (l *groupingLayer) Reshape(q num.Queue, bottom, top []*num.Blob) error {
	if err := l.checkShape(bottom); err != nil {
		return err
	}
	data, group := bottom[0], bottom[1]
	l.n, l.c, l.h, l.w = data.Num(), data.Channels(), data.Height(), data.Width()
	l.gc = group.Channels()
	top[0].ReshapeLike(data)
	q.Finish()
	l.groups = make([][][][]int, l.n)
	for n := range l.groups {
		l.groups[n] = make([][][]int, l.gc)
		for gc := range l.groups[n] {
			l.groups[n][gc] = relabel(group.Plane(n, gc))
		}
	}
	return nil
}

// relabel assigns contiguous ids in raster order of first appearance and returns the member indices of each group
func relabel(plane []float32) [][]int {
	ids := make(map[int]int)
	var groups [][]int
	for i, v := range plane {
		id, ok := ids[int(v)]
		if !ok {
			id = len(groups)
			ids[int(v)] = id
			groups = append(groups, nil)
		}
		groups[id] = append(groups[id], i)
	}
	return groups
}

func (l *groupingLayer) Forward(q num.Queue, bottom, top []*num.Blob) float32 {
	src, dst := bottom[0], top[0]
	groups, channels, scale := l.groups, l.c, float32(l.gc)
	q.Call(num.Parallel("grouping_fprop", l.n*l.c, func(i int) {
		n, c := i/channels, i%channels
		in, out := src.Plane(n, c), dst.Plane(n, c)
		for j := range out {
			out[j] = 0
		}
		for _, gmap := range groups[n] {
			for _, members := range gmap {
				var mean float32
				for _, ix := range members {
					mean += in[ix]
				}
				mean /= float32(len(members)) * scale
				for _, ix := range members {
					out[ix] += mean
				}
			}
		}
	}))
	return 0
}

func (l *groupingLayer) Backward(q num.Queue, top []*num.Blob, propagateDown []bool, bottom []*num.Blob) {
	zeroBackward(q, propagateDown, bottom, 1)
	if !propagateDown[0] {
		return
	}
	src, dst := bottom[0], top[0]
	groups, channels, scale := l.groups, l.c, float32(l.gc)
	q.Call(num.Parallel("grouping_bprop", l.n*l.c, func(i int) {
		n, c := i/channels, i%channels
		dout, din := dst.PlaneDiff(n, c), src.PlaneDiff(n, c)
		for j := range din {
			din[j] = 0
		}
		for _, gmap := range groups[n] {
			for _, members := range gmap {
				var sum float32
				for _, ix := range members {
					sum += dout[ix]
				}
				sum /= float32(len(members)) * scale
				for _, ix := range members {
					din[ix] += sum
				}
			}
		}
	}))
}
