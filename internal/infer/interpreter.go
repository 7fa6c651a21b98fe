// Package infer wraps the opaque neural inference engine behind a small
// tensor interface and provides a bounded pool of interpreter instances so
// independent candidates can run concurrently without sharing buffers.
package infer

import "fmt"

// Tensor is a dense float32 tensor with its shape. Data is row-major.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

// Elements returns the number of values the shape describes.
func (t Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Interpreter runs one loaded model. Given fixed-size input tensors it
// returns fixed-size outputs; everything inside is a black box. An
// Interpreter is not safe for concurrent use; the Pool serializes access.
type Interpreter interface {
	Invoke(inputs []Tensor) ([]Tensor, error)
	Close() error
}

// Factory builds a fresh Interpreter instance with its own buffers.
// The pool calls it once per slot.
type Factory func() (Interpreter, error)

func checkInputCount(got, want int) error {
	if got != want {
		return fmt.Errorf("expected %d input tensors, got %d", want, got)
	}
	return nil
}
