package checkpoint

import (
	"errors"
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"

	"github.com/example/spoof-check/internal/tensor"
)

// pyMapping is the lookup surface shared by the unpickled dict and
// OrderedDict types.
type pyMapping interface {
	Get(key interface{}) (interface{}, bool)
}

type pytorchStateDict struct {
	path   string
	params pyMapping
}

// LoadPyTorch reads a torch.save checkpoint whose top-level mapping holds the
// parameters under StateDictKey. Every failure is a *LoadError.
func LoadPyTorch(path string) (StateDict, error) {
	raw, err := pytorch.Load(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return stateDictFrom(path, raw)
}

// stateDictFrom locates the parameter mapping inside an unpickled checkpoint.
func stateDictFrom(path string, raw interface{}) (StateDict, error) {
	top, ok := raw.(pyMapping)
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("top-level object is %T, not a mapping", raw)}
	}
	inner, ok := top.Get(StateDictKey)
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("missing key %q", StateDictKey)}
	}
	params, ok := inner.(pyMapping)
	if !ok {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%s is %T, not a mapping", StateDictKey, inner)}
	}
	return &pytorchStateDict{path: path, params: params}, nil
}

func (s *pytorchStateDict) Tensor(name string) (*tensor.Tensor, error) {
	v, ok := s.params.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
	}
	pt, ok := v.(*pytorch.Tensor)
	if !ok {
		return nil, &LoadError{Path: s.path, Param: name, Err: fmt.Errorf("%T is not a tensor", v)}
	}
	t, err := fromPyTorch(pt)
	if err != nil {
		return nil, &LoadError{Path: s.path, Param: name, Err: err}
	}
	return t, nil
}

// fromPyTorch materializes a possibly strided torch tensor as a contiguous
// float64 tensor.
func fromPyTorch(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	var (
		at     func(i int) float64
		stored int
	)
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		at = func(i int) float64 { return float64(s.Data[i]) }
		stored = len(s.Data)
	case *pytorch.HalfStorage:
		at = func(i int) float64 { return float64(s.Data[i]) }
		stored = len(s.Data)
	case *pytorch.DoubleStorage:
		at = func(i int) float64 { return s.Data[i] }
		stored = len(s.Data)
	case nil:
		return nil, errors.New("tensor has no storage")
	default:
		return nil, fmt.Errorf("unsupported storage %T", pt.Source)
	}

	shape := pt.Size
	if len(pt.Stride) != len(shape) {
		return nil, fmt.Errorf("stride %v does not match size %v", pt.Stride, shape)
	}
	if err := checkExtent(shape, pt.Stride, pt.StorageOffset, stored); err != nil {
		return nil, err
	}
	out := tensor.New(shape...)
	idx := make([]int, len(shape))
	for i := range out.Data {
		off := pt.StorageOffset
		for d, k := range idx {
			off += k * pt.Stride[d]
		}
		out.Data[i] = at(off)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

// checkExtent verifies that every element a size/stride/offset view reaches
// lies inside a storage of the given length.
func checkExtent(size, stride []int, offset, stored int) error {
	if offset < 0 {
		return fmt.Errorf("negative storage offset %d", offset)
	}
	last := offset
	for d, n := range size {
		if n < 0 || stride[d] < 0 {
			return fmt.Errorf("negative size %v or stride %v", size, stride)
		}
		if n == 0 {
			return nil
		}
		last += (n - 1) * stride[d]
	}
	if last >= stored {
		return fmt.Errorf("view size %v stride %v offset %d reaches element %d of a %d-element storage",
			size, stride, offset, last, stored)
	}
	return nil
}
