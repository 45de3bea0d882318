package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
)

// ErrDeviceMismatch is returned when tensors participating in one
// operation live on different devices.
var ErrDeviceMismatch = errors.New("device mismatch")

type Context struct {
	device     int
	memUsed    int64
	numThreads int
}

func NewContext() *Context {
	return &Context{
		device:     -1,
		memUsed:    0,
		numThreads: runtime.NumCPU(),
	}
}

func (c *Context) Device() int {
	return c.device
}

func (c *Context) Free() {
	c.memUsed = 0
}

func (c *Context) SetNumThreads(n int) {
	c.numThreads = n
}

func (c *Context) NumThreads() int {
	return c.numThreads
}

type Tensor struct {
	data    []float32
	dims    []int
	strides []int
	name    string
	device  int
}

// NewTensor allocates a zeroed tensor with the given dims on the
// context's device.
func (c *Context) NewTensor(name string, dims ...int) *Tensor {
	n := 1
	for _, d := range dims {
		n *= d
	}
	RecordMemory(int64(n) * 4)
	return &Tensor{
		data:    make([]float32, n),
		dims:    append([]int(nil), dims...),
		strides: rowMajorStrides(dims),
		name:    name,
		device:  c.device,
	}
}

// TensorFrom wraps existing data. The data length must match the dims.
func (c *Context) TensorFrom(name string, data []float32, dims ...int) (*Tensor, error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("tensor %s: data length %d does not match dims %v", name, len(data), dims)
	}
	return &Tensor{
		data:    data,
		dims:    append([]int(nil), dims...),
		strides: rowMajorStrides(dims),
		name:    name,
		device:  c.device,
	}, nil
}

func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	s := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= dims[i]
	}
	return strides
}

func (t *Tensor) Dims() []int {
	return t.dims
}

func (t *Tensor) Dim(i int) int {
	return t.dims[i]
}

func (t *Tensor) Strides() []int {
	return t.strides
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Name() string {
	return t.name
}

func (t *Tensor) Device() int {
	return t.device
}

func (t *Tensor) Free() {
	t.data = nil
}

func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// Reshape reinterprets the tensor's layout in place. The element count
// must be preserved.
func (t *Tensor) Reshape(dims ...int) error {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if n != t.NumElements() {
		return fmt.Errorf("tensor %s: cannot reshape %v to %v", t.name, t.dims, dims)
	}
	t.dims = append([]int(nil), dims...)
	t.strides = rowMajorStrides(dims)
	return nil
}

// SameDevice verifies all tensors of one forward pass share a device.
func SameDevice(tensors ...*Tensor) error {
	if len(tensors) == 0 {
		return nil
	}
	d := tensors[0].device
	for _, t := range tensors[1:] {
		if t.device != d {
			return fmt.Errorf("%w: tensor %s on device %d, tensor %s on device %d",
				ErrDeviceMismatch, tensors[0].name, d, t.name, t.device)
		}
	}
	return nil
}

var cpuAllocatedBytes int64

func CPUAllocatedBytes() int64 {
	return atomic.LoadInt64(&cpuAllocatedBytes)
}

func RecordMemory(n int64) {
	atomic.AddInt64(&cpuAllocatedBytes, n)
}
