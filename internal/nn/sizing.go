package nn

// Spatial size arithmetic for convolution and pooling stages. Both use
// the same formula when dilation is 1 and there is no padding:
// floor((size - kernel) / stride) + 1. The encoder derives its flatten
// dimension by calling these in the exact order of its layer stack, so
// the arithmetic and the architecture cannot drift apart.

// ConvOutputSize returns the spatial output size of a convolution.
func ConvOutputSize(size, kernel, stride int) int {
	return floorDiv(size-kernel, stride) + 1
}

// PoolOutputSize returns the spatial output size of a pooling stage.
func PoolOutputSize(size, kernel, stride int) int {
	return floorDiv(size-kernel, stride) + 1
}

// floorDiv rounds toward negative infinity. Go's integer division
// truncates toward zero, which disagrees for kernels larger than the
// input (size 2, kernel 3, stride 2 must yield 0, not 1).
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
