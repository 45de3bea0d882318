package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// LSTM is a single-layer gated recurrent cell run over a
// PackedSequence. Gate order in the stacked weight rows is input,
// forget, cell, output. The initial (hidden, cell) pair seeds every
// sample; state never persists across batches.
type LSTM struct {
	InputDim int
	Hidden   int
	Wi       *Param // 4H x InputDim
	Wh       *Param // 4H x Hidden
	Bi       *Param // 4H
	Bh       *Param // 4H

	ctx *device.Context

	// backward caches, one row per packed position
	ps    *PackedSequence
	iG    []float32
	fG    []float32
	gG    []float32
	oG    []float32
	tanhC []float32
	cPrev []float32
	hPrev []float32
}

func NewLSTM(ctx *device.Context, name string, inputDim, hidden int, rng *rand.Rand) (*LSTM, error) {
	if inputDim <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("%w: lstm %s: input=%d hidden=%d (must be positive)", ErrConfig, name, inputDim, hidden)
	}
	l := &LSTM{
		InputDim: inputDim,
		Hidden:   hidden,
		Wi:       NewParam(ctx, name+".weight_ih", 4*hidden, inputDim),
		Wh:       NewParam(ctx, name+".weight_hh", 4*hidden, hidden),
		Bi:       NewParam(ctx, name+".bias_ih", 4*hidden),
		Bh:       NewParam(ctx, name+".bias_hh", 4*hidden),
		ctx:      ctx,
	}
	bound := 1.0 / math.Sqrt(float64(hidden))
	uniformInit(rng, l.Wi.Data.Data(), bound)
	uniformInit(rng, l.Wh.Data.Data(), bound)
	uniformInit(rng, l.Bi.Data.Data(), bound)
	uniformInit(rng, l.Bh.Data.Data(), bound)
	return l, nil
}

func (l *LSTM) Params() []*Param {
	return []*Param{l.Wi, l.Wh, l.Bi, l.Bh}
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

func tanhf(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Forward runs the cell over the packed sequence, seeded by h0 and c0
// (each n x Hidden, original sample order). It returns the packed
// per-step hidden outputs plus the final (hidden, cell) state per
// sample, back in original order.
func (l *LSTM) Forward(ps *PackedSequence, h0, c0 *device.Tensor) ([]float32, *device.Tensor, *device.Tensor, error) {
	n := len(ps.Order)
	h := l.Hidden
	if ps.Dim != l.InputDim {
		return nil, nil, nil, fmt.Errorf("%w: lstm: packed dim %d, want %d", ErrShape, ps.Dim, l.InputDim)
	}
	if h0.NumElements() != n*h || c0.NumElements() != n*h {
		return nil, nil, nil, fmt.Errorf("%w: lstm: initial state has %d/%d elements, want %d",
			ErrShape, h0.NumElements(), c0.NumElements(), n*h)
	}
	if err := device.SameDevice(h0, c0, l.Wi.Data); err != nil {
		return nil, nil, nil, err
	}

	// Working state in sorted order.
	hState := make([]float32, n*h)
	cState := make([]float32, n*h)
	h0d := h0.Data()
	c0d := c0.Data()
	for j, idx := range ps.Order {
		copy(hState[j*h:(j+1)*h], h0d[idx*h:(idx+1)*h])
		copy(cState[j*h:(j+1)*h], c0d[idx*h:(idx+1)*h])
	}

	total := ps.Total
	out := make([]float32, total*h)
	l.ps = ps
	l.iG = make([]float32, total*h)
	l.fG = make([]float32, total*h)
	l.gG = make([]float32, total*h)
	l.oG = make([]float32, total*h)
	l.tanhC = make([]float32, total*h)
	l.cPrev = make([]float32, total*h)
	l.hPrev = make([]float32, total*h)

	wi := l.Wi.Data.Data()
	wh := l.Wh.Data.Data()
	bi := l.Bi.Data.Data()
	bh := l.Bh.Data.Data()
	in := l.InputDim

	z := make([]float32, 4*h)
	for s, active := range ps.StepSizes {
		base := ps.Offsets[s]
		for j := 0; j < active; j++ {
			row := base + j
			x := ps.Data[row*in : (row+1)*in]
			hp := hState[j*h : (j+1)*h]
			cp := cState[j*h : (j+1)*h]
			copy(l.hPrev[row*h:(row+1)*h], hp)
			copy(l.cPrev[row*h:(row+1)*h], cp)

			for r := 0; r < 4*h; r++ {
				sum := bi[r] + bh[r]
				wir := wi[r*in : (r+1)*in]
				for k, xv := range x {
					sum += xv * wir[k]
				}
				whr := wh[r*h : (r+1)*h]
				for k, hv := range hp {
					sum += hv * whr[k]
				}
				z[r] = sum
			}

			for u := 0; u < h; u++ {
				ig := sigmoid(z[u])
				fg := sigmoid(z[h+u])
				gg := tanhf(z[2*h+u])
				og := sigmoid(z[3*h+u])
				c := fg*cp[u] + ig*gg
				tc := tanhf(c)
				hv := og * tc

				l.iG[row*h+u] = ig
				l.fG[row*h+u] = fg
				l.gG[row*h+u] = gg
				l.oG[row*h+u] = og
				l.tanhC[row*h+u] = tc
				cState[j*h+u] = c
				hState[j*h+u] = hv
				out[row*h+u] = hv
			}
		}
	}

	// Final state per sample, restored to original order. A sample's
	// state stops updating after its last step, so the working buffers
	// already hold the value at each sample's own length.
	hn := l.ctx.NewTensor("lstm.hn", n, h)
	cn := l.ctx.NewTensor("lstm.cn", n, h)
	hnd := hn.Data()
	cnd := cn.Data()
	for j, idx := range ps.Order {
		copy(hnd[idx*h:(idx+1)*h], hState[j*h:(j+1)*h])
		copy(cnd[idx*h:(idx+1)*h], cState[j*h:(j+1)*h])
	}
	return out, hn, cn, nil
}

// Backward consumes the gradient of the packed outputs and returns the
// gradient of the packed inputs along with the gradients of the initial
// hidden and cell states (original sample order). Weight gradients are
// accumulated in place.
func (l *LSTM) Backward(dout []float32) ([]float32, *device.Tensor, *device.Tensor, error) {
	if l.ps == nil {
		return nil, nil, nil, fmt.Errorf("lstm: backward before forward")
	}
	ps := l.ps
	n := len(ps.Order)
	h := l.Hidden
	in := l.InputDim
	if len(dout) != ps.Total*h {
		return nil, nil, nil, fmt.Errorf("%w: lstm: grad has %d elements, want %d", ErrShape, len(dout), ps.Total*h)
	}

	dh := make([]float32, n*h)
	dc := make([]float32, n*h)
	dx := make([]float32, ps.Total*in)

	wi := l.Wi.Data.Data()
	wh := l.Wh.Data.Data()
	dwi := l.Wi.Grad.Data()
	dwh := l.Wh.Grad.Data()
	dbi := l.Bi.Grad.Data()
	dbh := l.Bh.Grad.Data()

	z := make([]float32, 4*h)
	for s := len(ps.StepSizes) - 1; s >= 0; s-- {
		active := ps.StepSizes[s]
		base := ps.Offsets[s]
		for j := 0; j < active; j++ {
			row := base + j
			x := ps.Data[row*in : (row+1)*in]
			hp := l.hPrev[row*h : (row+1)*h]

			for u := 0; u < h; u++ {
				ig := l.iG[row*h+u]
				fg := l.fG[row*h+u]
				gg := l.gG[row*h+u]
				og := l.oG[row*h+u]
				tc := l.tanhC[row*h+u]
				cp := l.cPrev[row*h+u]

				dhTot := dh[j*h+u] + dout[row*h+u]
				dcTot := dc[j*h+u] + dhTot*og*(1-tc*tc)
				dOg := dhTot * tc
				dIg := dcTot * gg
				dFg := dcTot * cp
				dGg := dcTot * ig

				z[u] = dIg * ig * (1 - ig)
				z[h+u] = dFg * fg * (1 - fg)
				z[2*h+u] = dGg * (1 - gg*gg)
				z[3*h+u] = dOg * og * (1 - og)

				dc[j*h+u] = dcTot * fg
			}

			dxRow := dx[row*in : (row+1)*in]
			dhRow := dh[j*h : (j+1)*h]
			for u := range dhRow {
				dhRow[u] = 0
			}
			for r := 0; r < 4*h; r++ {
				g := z[r]
				if g == 0 {
					continue
				}
				dbi[r] += g
				dbh[r] += g
				wir := wi[r*in : (r+1)*in]
				dwir := dwi[r*in : (r+1)*in]
				for k := range x {
					dwir[k] += g * x[k]
					dxRow[k] += g * wir[k]
				}
				whr := wh[r*h : (r+1)*h]
				dwhr := dwh[r*h : (r+1)*h]
				for k := range hp {
					dwhr[k] += g * hp[k]
					dhRow[k] += g * whr[k]
				}
			}
		}
	}

	dh0 := l.ctx.NewTensor("lstm.dh0", n, h)
	dc0 := l.ctx.NewTensor("lstm.dc0", n, h)
	dh0d := dh0.Data()
	dc0d := dc0.Data()
	for j, idx := range ps.Order {
		copy(dh0d[idx*h:(idx+1)*h], dh[j*h:(j+1)*h])
		copy(dc0d[idx*h:(idx+1)*h], dc[j*h:(j+1)*h])
	}
	return dx, dh0, dc0, nil
}
