// Package tensor holds the dense float64 tensors and CPU kernels used by the
// inference pipeline. Layouts are channel-first (C, H, W) and row-major.
package tensor

import (
	"fmt"
)

// Tensor is a dense row-major tensor.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, volume(shape))}
}

// FromData wraps data without copying. The length of data must match the shape.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if len(data) != volume(shape) {
		return nil, fmt.Errorf("tensor: %d values do not fit shape %v", len(data), shape)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Clone returns a deep copy. The clone never shares storage with t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// HasShape reports whether t has exactly the given shape.
func (t *Tensor) HasShape(shape ...int) bool {
	return SameShape(t.Shape, shape)
}

// MustHaveShape panics when t does not have the given shape. Shape mismatches
// inside a forward pass are programming errors, not recoverable conditions.
func (t *Tensor) MustHaveShape(op string, shape ...int) {
	if !t.HasShape(shape...) {
		panic(fmt.Sprintf("tensor: %s: got shape %v, want %v", op, t.Shape, shape))
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}

// SameShape compares two shapes element-wise.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
