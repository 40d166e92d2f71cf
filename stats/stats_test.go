package stats

import (
	"math"
	"testing"
)

const eps = 1e-6

func TestAverage(t *testing.T) {
	var s Average
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	t.Logf("%+v %s", s, &s)
	if s.Count != 8 || math.Abs(s.Mean-5) > eps || math.Abs(s.StdDev-math.Sqrt(32.0/7)) > eps {
		t.Errorf("invalid stats %+v", s)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("invalid range %g %g", s.Min, s.Max)
	}
	if s.String() != "5.00 ± 2.14" {
		t.Errorf("got %q", s.String())
	}
	s.Reset()
	s.Add(20)
	if s.String() != "20.0" {
		t.Errorf("got %q", s.String())
	}
}

func TestEMA(t *testing.T) {
	var e EMA
	e = e.Add(10, 3)
	e = e.Add(20, 3)
	if math.Abs(float64(e)-15) > eps {
		t.Errorf("expecting 15 got %g", e)
	}
}

func TestSegStats(t *testing.T) {
	s := NewSegStats(5, "background", "aeroplane")
	counts := []float32{
		2, 6, 3,
		3, 4, 5,
		3, 6, 5,
		2, 2, 4,
		0, 0, 1,
	}
	s.Add(counts)
	t.Log("\n" + s.String())
	check := func(name string, got, expect float64) {
		if math.Abs(got-expect) > eps {
			t.Errorf("%s: expecting %.6f got %.6f", name, expect, got)
		}
	}
	check("pixel accuracy", s.PixelAccuracy(), 10.0/18)
	check("mean accuracy", s.MeanAccuracy(), (2.0/6+3.0/4+3.0/6+1)/4)
	check("mean IU", s.MeanIU(), (2.0/7+0.5+3.0/8+0.5+0)/5)
	check("f.w. IU", s.FreqWeightedIU(), (6*2.0/7+4*0.5+6*3.0/8+2*0.5)/18)

	// accumulating a second identical batch gives the same ratios
	s.Add(counts)
	check("pixel accuracy", s.PixelAccuracy(), 10.0/18)
	check("mean IU", s.MeanIU(), (2.0/7+0.5+3.0/8+0.5+0)/5)

	s.Reset()
	check("empty", s.PixelAccuracy(), 0)
	check("empty", s.MeanIU(), 0)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expecting panic for wrong number of values")
		}
	}()
	s.Add(counts[:6])
}
