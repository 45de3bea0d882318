package device

import (
	"errors"
	"testing"
)

func TestNewTensorStrides(t *testing.T) {
	ctx := NewContext()
	x := ctx.NewTensor("x", 2, 3, 4)
	if got := x.NumElements(); got != 24 {
		t.Fatalf("NumElements = %d, want 24", got)
	}
	wantStrides := []int{12, 4, 1}
	for i, w := range wantStrides {
		if x.Strides()[i] != w {
			t.Fatalf("Strides = %v, want %v", x.Strides(), wantStrides)
		}
	}
	if x.Dim(1) != 3 {
		t.Fatalf("Dim(1) = %d, want 3", x.Dim(1))
	}
}

func TestTensorFromValidatesSize(t *testing.T) {
	ctx := NewContext()
	if _, err := ctx.TensorFrom("x", []float32{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("size mismatch must fail")
	}
	x, err := ctx.TensorFrom("x", []float32{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("TensorFrom failed: %v", err)
	}
	if x.Data()[3] != 4 {
		t.Fatalf("data not adopted: %v", x.Data())
	}
}

func TestReshapeKeepsElementCount(t *testing.T) {
	ctx := NewContext()
	x := ctx.NewTensor("x", 2, 6)
	if err := x.Reshape(3, 4); err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if got := x.Dims(); got[0] != 3 || got[1] != 4 {
		t.Fatalf("Dims = %v, want [3 4]", got)
	}
	if err := x.Reshape(5, 5); err == nil {
		t.Fatal("element-count-changing reshape must fail")
	}
}

func TestSameDevice(t *testing.T) {
	ctx := NewContext()
	a := ctx.NewTensor("a", 2)
	b := ctx.NewTensor("b", 2)
	if err := SameDevice(a, b); err != nil {
		t.Fatalf("SameDevice failed for same-context tensors: %v", err)
	}
	b.device = 3
	if err := SameDevice(a, b); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("mismatched devices: err = %v, want ErrDeviceMismatch", err)
	}
}

func TestComputeActivationStats(t *testing.T) {
	s := ComputeActivationStats([]float32{0, 1, -2, 0, 3}, 0)
	if s.Zeros != 2 {
		t.Errorf("Zeros = %d, want 2", s.Zeros)
	}
	if s.Min != -2 || s.Max != 3 {
		t.Errorf("range = [%f, %f], want [-2, 3]", s.Min, s.Max)
	}
	if s.NaNs != 0 || s.Infs != 0 {
		t.Errorf("clean data reported NaNs=%d Infs=%d", s.NaNs, s.Infs)
	}
}
