package stats

import (
	"fmt"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"strings"
)

// SegStats accumulates per label pixel counts from a parse evaluate layer output, which
// holds [true positives, ground truth, predicted] for each label.
type SegStats struct {
	Labels []string
	tp     []float64
	gt     []float64
	pred   []float64
}

// NewSegStats returns a new accumulator for numLabels classes. Label names are optional.
func NewSegStats(numLabels int, names ...string) *SegStats {
	return &SegStats{
		Labels: names,
		tp:     make([]float64, numLabels),
		gt:     make([]float64, numLabels),
		pred:   make([]float64, numLabels),
	}
}

// Add counts from one batch
func (s *SegStats) Add(counts []float32) {
	if len(counts) != 3*len(s.tp) {
		panic(fmt.Sprintf("SegStats.Add: expecting %d values, got %d", 3*len(s.tp), len(counts)))
	}
	for i := range s.tp {
		s.tp[i] += float64(counts[3*i])
		s.gt[i] += float64(counts[3*i+1])
		s.pred[i] += float64(counts[3*i+2])
	}
}

func (s *SegStats) Reset() {
	for i := range s.tp {
		s.tp[i], s.gt[i], s.pred[i] = 0, 0, 0
	}
}

// Fraction of labelled pixels which are correctly classified
func (s *SegStats) PixelAccuracy() float64 {
	total := floats.Sum(s.gt)
	if total == 0 {
		return 0
	}
	return floats.Sum(s.tp) / total
}

// Per label accuracy averaged over labels which appear in the ground truth
func (s *SegStats) MeanAccuracy() float64 {
	var acc []float64
	for i, gt := range s.gt {
		if gt > 0 {
			acc = append(acc, s.tp[i]/gt)
		}
	}
	if len(acc) == 0 {
		return 0
	}
	return stat.Mean(acc, nil)
}

// IU returns the intersection over union for each label, and a flag if the union is non-empty.
func (s *SegStats) IU() (iu []float64, valid []bool) {
	iu = make([]float64, len(s.tp))
	valid = make([]bool, len(s.tp))
	for i, tp := range s.tp {
		if union := s.gt[i] + s.pred[i] - tp; union > 0 {
			iu[i] = tp / union
			valid[i] = true
		}
	}
	return
}

// Intersection over union averaged over labels present in either prediction or ground truth
func (s *SegStats) MeanIU() float64 {
	iu, valid := s.IU()
	var vals []float64
	for i, ok := range valid {
		if ok {
			vals = append(vals, iu[i])
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// Intersection over union weighted by the ground truth frequency of each label
func (s *SegStats) FreqWeightedIU() float64 {
	total := floats.Sum(s.gt)
	if total == 0 {
		return 0
	}
	iu, _ := s.IU()
	return floats.Dot(iu, s.gt) / total
}

func (s *SegStats) label(i int) string {
	if i < len(s.Labels) && s.Labels[i] != "" {
		return s.Labels[i]
	}
	return fmt.Sprint(i)
}

// String prints the overall metrics followed by the per label IU
func (s *SegStats) String() string {
	str := []string{fmt.Sprintf("pixel accuracy %.3f  mean accuracy %.3f  mean IU %.3f  f.w. IU %.3f",
		s.PixelAccuracy(), s.MeanAccuracy(), s.MeanIU(), s.FreqWeightedIU())}
	iu, valid := s.IU()
	for i, ok := range valid {
		if ok {
			str = append(str, fmt.Sprintf("%-12s IU %.3f  gt %8.0f  pred %8.0f", s.label(i), iu[i], s.gt[i], s.pred[i]))
		}
	}
	return strings.Join(str, "\n")
}
