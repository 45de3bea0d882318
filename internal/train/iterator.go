package train

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
)

// Iterator walks a dataset in batches. When shuffling is on, the index
// permutation is drawn once per pass, not per batch; Reset draws a
// fresh one for the next pass.
type Iterator struct {
	ds        *dataset.Dataset
	batchSize int
	padIdx    int
	shuffle   bool
	ctx       *device.Context

	order []int
	pos   int
}

func NewIterator(ds *dataset.Dataset, batchSize, padIdx int, shuffle bool, rng *rand.Rand, ctx *device.Context) (*Iterator, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch_size: %d (must be positive)", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}
	it := &Iterator{
		ds:        ds,
		batchSize: batchSize,
		padIdx:    padIdx,
		shuffle:   shuffle,
		ctx:       ctx,
	}
	it.Reset(rng)
	return it, nil
}

// Reset rewinds the iterator and, when shuffling, permutes the index
// list for the next full pass.
func (it *Iterator) Reset(rng *rand.Rand) {
	it.pos = 0
	it.order = make([]int, it.ds.Len())
	for i := range it.order {
		it.order[i] = i
	}
	if it.shuffle {
		rng.Shuffle(len(it.order), func(a, b int) {
			it.order[a], it.order[b] = it.order[b], it.order[a]
		})
	}
}

// Next returns the next batch. ok is false once the pass is complete.
func (it *Iterator) Next() (b *Batch, ok bool, err error) {
	if it.pos >= len(it.order) {
		return nil, false, nil
	}
	end := it.pos + it.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	samples := make([]dataset.Sample, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		samples = append(samples, it.ds.Samples[idx])
	}
	it.pos = end

	batch, err := Prepare(samples, it.ds.Channels, it.ds.Height, it.ds.Width, it.padIdx, it.ctx)
	if err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// NumBatches reports how many batches one full pass yields.
func (it *Iterator) NumBatches() int {
	return (it.ds.Len() + it.batchSize - 1) / it.batchSize
}
