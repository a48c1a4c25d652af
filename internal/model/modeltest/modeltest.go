// Package modeltest builds deterministic synthetic checkpoints for tests.
package modeltest

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/example/spoof-check/internal/checkpoint"
	"github.com/example/spoof-check/internal/model"
	"github.com/example/spoof-check/internal/tensor"
)

// Tiny is a reduced layout: 16 px input, 8-channel 2x2 feature maps, two
// heads and a 16-8-2 head. It runs every kernel of the default layout.
func Tiny() model.Architecture {
	return model.Architecture{
		InputSize: 16,
		Backbone:  []int{4, model.Pool, 8, model.Pool, 8, model.Pool},
		Heads:     2,
		Hidden:    []int{8, 4},
		Classes:   2,
	}
}

// RandomStateDict fills every parameter of arch with values drawn from a
// seeded source. Weights are scaled by fan-in; batch-norm variances are
// positive.
func RandomStateDict(arch model.Architecture, seed int64) checkpoint.Map {
	shapes := arch.ParameterShapes()
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	sd := make(checkpoint.Map, len(names))
	for _, name := range names {
		shape := shapes[name]
		t := tensor.New(shape...)
		switch {
		case strings.HasSuffix(name, "running_var"):
			for i := range t.Data {
				t.Data[i] = 0.5 + rng.Float64()
			}
		case strings.HasSuffix(name, ".1.weight") && strings.HasPrefix(name, "head."):
			for i := range t.Data {
				t.Data[i] = 0.8 + 0.4*rng.Float64()
			}
		default:
			scale := 0.1
			if len(shape) > 1 {
				fanIn := 1
				for _, d := range shape[1:] {
					fanIn *= d
				}
				scale = math.Sqrt(2 / float64(fanIn))
			}
			for i := range t.Data {
				t.Data[i] = rng.NormFloat64() * scale
			}
		}
		sd[name] = t
	}
	return sd
}
