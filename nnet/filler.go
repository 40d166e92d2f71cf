package nnet

import (
	"fmt"
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
	"math/rand"
	"time"
)

// Filler settings used to initialise parameter and input blobs.
type FillerConfig struct {
	Type  string
	Value float64 `json:",omitempty"`
	Min   float64 `json:",omitempty"`
	Max   float64 `json:",omitempty"`
	Mean  float64 `json:",omitempty"`
	Std   float64 `json:",omitempty"`
}

func (f FillerConfig) String() string {
	switch f.Type {
	case "uniform":
		return fmt.Sprintf("uniform[%g,%g]", f.Min, f.Max)
	case "gaussian":
		return fmt.Sprintf("gaussian(%g,%g)", f.Mean, f.Std)
	case "label":
		return fmt.Sprintf("label[%g,%g)", f.Min, f.Max)
	default:
		return fmt.Sprintf("constant(%g)", f.Value)
	}
}

// Fill returns a function to fill the array according to the filler type.
func (f FillerConfig) Fill(a num.Array) (num.Function, error) {
	switch f.Type {
	case "", "constant":
		return num.Fill(a, float32(f.Value)), nil
	case "uniform":
		if f.Max < f.Min {
			return num.Function{}, errors.Errorf("uniform filler: max %g < min %g", f.Max, f.Min)
		}
		return num.Kernel("fill_uniform", func() {
			data := a.Float32s()
			for i := range data {
				data[i] = float32(f.Min + rand.Float64()*(f.Max-f.Min))
			}
		}), nil
	case "gaussian":
		if f.Std < 0 {
			return num.Function{}, errors.Errorf("gaussian filler: negative std %g", f.Std)
		}
		return num.Kernel("fill_gaussian", func() {
			data := a.Float32s()
			for i := range data {
				data[i] = float32(f.Mean + rand.NormFloat64()*f.Std)
			}
		}), nil
	case "label":
		lo, hi := int(f.Min), int(f.Max)
		if hi <= lo {
			return num.Function{}, errors.Errorf("label filler: empty range [%d,%d)", lo, hi)
		}
		return num.Kernel("fill_label", func() {
			data := a.Float32s()
			for i := range data {
				data[i] = float32(lo + rand.Intn(hi-lo))
			}
		}), nil
	default:
		return num.Function{}, errors.Errorf("invalid filler type %q", f.Type)
	}
}

// Set random number seed, or random seed if seed <= 0
func SetSeed(seed int64) {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	rand.Seed(seed)
}
