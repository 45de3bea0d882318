package nn

import "testing"

func TestConvOutputSize(t *testing.T) {
	cases := []struct {
		size, kernel, stride, want int
	}{
		{224, 7, 2, 109},
		{10, 7, 2, 2},
		{109, 3, 2, 54},
		{54, 5, 1, 50},
		{5, 5, 1, 1},
		{7, 7, 2, 1},
	}
	for _, c := range cases {
		if got := ConvOutputSize(c.size, c.kernel, c.stride); got != c.want {
			t.Errorf("ConvOutputSize(%d, %d, %d) = %d, want %d", c.size, c.kernel, c.stride, got, c.want)
		}
	}
}

func TestPoolOutputSizeFloors(t *testing.T) {
	// A window larger than the input must floor to zero, not truncate
	// toward zero and report a phantom output.
	if got := PoolOutputSize(2, 3, 2); got != 0 {
		t.Fatalf("PoolOutputSize(2, 3, 2) = %d, want 0", got)
	}
	if got := PoolOutputSize(50, 3, 2); got != 24 {
		t.Fatalf("PoolOutputSize(50, 3, 2) = %d, want 24", got)
	}
}

func TestEncoderSizeChain(t *testing.T) {
	// The reference geometry: 224 -> conv(7,2) -> pool(3,2) -> conv(5,1)
	// -> pool(3,2) -> 24 per spatial axis.
	s := ConvOutputSize(224, 7, 2)
	s = PoolOutputSize(s, 3, 2)
	s = ConvOutputSize(s, 5, 1)
	s = PoolOutputSize(s, 3, 2)
	if s != 24 {
		t.Fatalf("size chain for 224 = %d, want 24", s)
	}
}
