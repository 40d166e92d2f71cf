// Package stats has running statistics used by the driver to report timing, loss and segmentation accuracy.
package stats

import (
	"fmt"
	"math"
)

// Calc exponentional moving average over approx n samples
type EMA float64

func (e EMA) Add(val, n float64) EMA {
	if e == 0 {
		return EMA(val)
	}
	k := 2.0 / (n + 1.0)
	return EMA(val*k + float64(e)*(1-k))
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	StdDev      float64
	Min, Max    float64
	sumSq       float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.Mean, s.Min, s.Max = x, x, x
		s.sumSq, s.StdDev = 0, 0
		return
	}
	oldM := s.Mean
	s.Mean = oldM + (x-oldM)/s.Count
	s.sumSq += (x - oldM) * (x - s.Mean)
	s.StdDev = math.Sqrt(s.sumSq / (s.Count - 1))
	s.Min = math.Min(s.Min, x)
	s.Max = math.Max(s.Max, x)
}

func (s *Average) Reset() {
	*s = Average{}
}

func (s *Average) String() string {
	if s.Mean > 10 {
		if s.StdDev < 0.1 {
			return fmt.Sprintf("%.1f", s.Mean)
		}
		return fmt.Sprintf("%.1f ± %.1f", s.Mean, s.StdDev)
	}
	if s.StdDev < 0.01 {
		return fmt.Sprintf("%.2f", s.Mean)
	}
	return fmt.Sprintf("%.2f ± %.2f", s.Mean, s.StdDev)
}
