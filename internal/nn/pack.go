package nn

import (
	"fmt"
	"sort"
)

// PackedSequence is a compact, time-major layout of a right-padded
// batch of variable-length sequences. Step s holds one row per sequence
// still active at time s, longest sequences first. Padding positions
// are simply absent, so recurrent computation over the packed layout
// can never leak a padded step into another sample's state.
type PackedSequence struct {
	Data      []float32
	Dim       int
	StepSizes []int // rows active at each time step, non-increasing
	Offsets   []int // start offset (in rows) of each step
	Order     []int // sorted position -> original sample index
	Lens      []int // lengths in sorted (descending) order
	Total     int   // sum of lengths
}

// Pack sorts samples by length (descending, stable) and compacts the
// padded (n, t, dim) buffer into the time-major layout. Lengths must be
// in [1, t]; empty batches are invalid input.
func Pack(x []float32, n, t, dim int, lens []int) (*PackedSequence, error) {
	if n <= 0 || t <= 0 {
		return nil, fmt.Errorf("%w: pack: empty batch (n=%d, t=%d)", ErrShape, n, t)
	}
	if len(lens) != n {
		return nil, fmt.Errorf("%w: pack: %d lengths for %d sequences", ErrShape, len(lens), n)
	}
	if len(x) != n*t*dim {
		return nil, fmt.Errorf("%w: pack: buffer has %d elements, want %d", ErrShape, len(x), n*t*dim)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lens[order[a]] > lens[order[b]]
	})

	sortedLens := make([]int, n)
	total := 0
	for j, idx := range order {
		l := lens[idx]
		if l < 1 || l > t {
			return nil, fmt.Errorf("%w: pack: sequence %d has length %d, want [1, %d]", ErrShape, idx, l, t)
		}
		sortedLens[j] = l
		total += l
	}

	maxLen := sortedLens[0]
	stepSizes := make([]int, maxLen)
	offsets := make([]int, maxLen)
	off := 0
	for s := 0; s < maxLen; s++ {
		active := 0
		for _, l := range sortedLens {
			if l > s {
				active++
			} else {
				break
			}
		}
		stepSizes[s] = active
		offsets[s] = off
		off += active
	}

	ps := &PackedSequence{
		Dim:       dim,
		StepSizes: stepSizes,
		Offsets:   offsets,
		Order:     order,
		Lens:      sortedLens,
		Total:     total,
	}
	ps.Data = ps.compact(x, t, dim)
	return ps, nil
}

// compact copies the padded buffer into this layout.
func (ps *PackedSequence) compact(x []float32, t, dim int) []float32 {
	out := make([]float32, ps.Total*dim)
	for s, active := range ps.StepSizes {
		base := ps.Offsets[s]
		for j := 0; j < active; j++ {
			src := (ps.Order[j]*t + s) * dim
			dst := (base + j) * dim
			copy(out[dst:dst+dim], x[src:src+dim])
		}
	}
	return out
}

// PackPadded compacts another padded buffer (same batch, possibly a
// different feature width) into this sequence's layout. Used to pack
// gradients flowing back into the recurrent stage.
func (ps *PackedSequence) PackPadded(x []float32, n, t, dim int) ([]float32, error) {
	if n != len(ps.Order) || t < len(ps.StepSizes) {
		return nil, fmt.Errorf("%w: pack: layout is %dx%d, buffer is %dx%d", ErrShape, len(ps.Order), len(ps.StepSizes), n, t)
	}
	if len(x) != n*t*dim {
		return nil, fmt.Errorf("%w: pack: buffer has %d elements, want %d", ErrShape, len(x), n*t*dim)
	}
	return ps.compact(x, t, dim), nil
}

// Unpack inverts the layout back to a right-padded (n, t, dim) buffer
// in the original sample order, with zeros at every padded position.
func (ps *PackedSequence) Unpack(data []float32, dim, n, t int) ([]float32, error) {
	if len(data) != ps.Total*dim {
		return nil, fmt.Errorf("%w: unpack: buffer has %d elements, want %d", ErrShape, len(data), ps.Total*dim)
	}
	if t < len(ps.StepSizes) {
		return nil, fmt.Errorf("%w: unpack: target length %d shorter than packed length %d", ErrShape, t, len(ps.StepSizes))
	}
	out := make([]float32, n*t*dim)
	for s, active := range ps.StepSizes {
		base := ps.Offsets[s]
		for j := 0; j < active; j++ {
			src := (base + j) * dim
			dst := (ps.Order[j]*t + s) * dim
			copy(out[dst:dst+dim], data[src:src+dim])
		}
	}
	return out, nil
}
