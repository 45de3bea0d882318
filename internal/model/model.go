package model

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/config"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/logger"
	"github.com/23skdu/longbow-sketch/internal/nn"
)

// Encoder stack geometry. The flatten size below is derived by running
// the size arithmetic in exactly this layer order; keep the two in
// sync.
const (
	conv1Channels = 16
	conv1Kernel   = 7
	conv1Stride   = 2
	conv2Channels = 32
	conv2Kernel   = 5
	conv2Stride   = 1
	poolKernel    = 3
	poolStride    = 2
)

// SketchDecoder conditions a recurrent DSL token decoder on a rendered
// UI sketch. The image feeds a small convolutional encoder whose
// feature vector becomes the decoder's initial hidden state; the
// partially generated program feeds the decoder itself. Forward yields
// per-position log probabilities over the vocabulary.
type SketchDecoder struct {
	cfg config.Model
	ctx *device.Context

	conv1 *nn.Conv2d
	bn1   *nn.BatchNorm2d // nil when normalization is disabled
	relu1 *nn.ReLU
	pool1 *nn.MaxPool2d
	conv2 *nn.Conv2d
	bn2   *nn.BatchNorm2d
	relu2 *nn.ReLU
	pool2 *nn.MaxPool2d

	img2hidden *nn.Linear
	relu3      *nn.ReLU

	embed        *nn.Embedding
	lstm         *nn.LSTM
	hidden2token *nn.Linear

	flatH, flatW int

	training bool

	// forward caches for the backward pass
	packed *nn.PackedSequence
	batchN int
	batchT int
}

// New builds the model and verifies the encoder geometry. Construction
// fails when the configured image size collapses to a non-positive
// flatten dimension.
func New(cfg config.Model, ctx *device.Context) (*SketchDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", nn.ErrConfig, err)
	}

	// Same order as the encoder layer stack.
	h := cfg.ImgHeight
	w := cfg.ImgWidth
	h = nn.ConvOutputSize(h, conv1Kernel, conv1Stride)
	w = nn.ConvOutputSize(w, conv1Kernel, conv1Stride)
	h = nn.PoolOutputSize(h, poolKernel, poolStride)
	w = nn.PoolOutputSize(w, poolKernel, poolStride)
	h = nn.ConvOutputSize(h, conv2Kernel, conv2Stride)
	w = nn.ConvOutputSize(w, conv2Kernel, conv2Stride)
	h = nn.PoolOutputSize(h, poolKernel, poolStride)
	w = nn.PoolOutputSize(w, poolKernel, poolStride)
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d collapses to %dx%d after the encoder stack",
			nn.ErrConfig, cfg.ImgHeight, cfg.ImgWidth, h, w)
	}
	flatten := conv2Channels * h * w

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &SketchDecoder{cfg: cfg, ctx: ctx, flatH: h, flatW: w, training: true}

	var err error
	if m.conv1, err = nn.NewConv2d(ctx, "conv1", cfg.ImgChannels, conv1Channels, conv1Kernel, conv1Stride, rng); err != nil {
		return nil, err
	}
	if m.conv2, err = nn.NewConv2d(ctx, "conv2", conv1Channels, conv2Channels, conv2Kernel, conv2Stride, rng); err != nil {
		return nil, err
	}
	if cfg.BatchNorm {
		if m.bn1, err = nn.NewBatchNorm2d(ctx, "bn1", conv1Channels, cfg.BNMomentum); err != nil {
			return nil, err
		}
		if m.bn2, err = nn.NewBatchNorm2d(ctx, "bn2", conv2Channels, cfg.BNMomentum); err != nil {
			return nil, err
		}
	}
	m.relu1 = nn.NewReLU(ctx, "relu1")
	m.relu2 = nn.NewReLU(ctx, "relu2")
	m.relu3 = nn.NewReLU(ctx, "relu3")
	if m.pool1, err = nn.NewMaxPool2d(ctx, "pool1", poolKernel, poolStride); err != nil {
		return nil, err
	}
	if m.pool2, err = nn.NewMaxPool2d(ctx, "pool2", poolKernel, poolStride); err != nil {
		return nil, err
	}
	if m.img2hidden, err = nn.NewLinear(ctx, "img2hidden", flatten, cfg.HiddenDim, rng); err != nil {
		return nil, err
	}
	if m.embed, err = nn.NewEmbedding(ctx, "embed", cfg.VocabSize, cfg.EmbeddingDim, cfg.PadIndex, rng); err != nil {
		return nil, err
	}
	if m.lstm, err = nn.NewLSTM(ctx, "lstm", cfg.EmbeddingDim, cfg.HiddenDim, rng); err != nil {
		return nil, err
	}
	if m.hidden2token, err = nn.NewLinear(ctx, "hidden2token", cfg.HiddenDim, cfg.VocabSize, rng); err != nil {
		return nil, err
	}

	logger.Log.Info("model initialized",
		"img", fmt.Sprintf("%dx%dx%d", cfg.ImgChannels, cfg.ImgHeight, cfg.ImgWidth),
		"flatten", flatten,
		"hidden", cfg.HiddenDim,
		"embedding", cfg.EmbeddingDim,
		"vocab", cfg.VocabSize,
		"batchnorm", cfg.BatchNorm)
	return m, nil
}

func (m *SketchDecoder) Config() config.Model {
	return m.cfg
}

// Train switches to training mode: normalization consumes batch
// statistics and updates its running estimates. Idempotent.
func (m *SketchDecoder) Train() {
	m.training = true
	if m.bn1 != nil {
		m.bn1.SetTraining(true)
		m.bn2.SetTraining(true)
	}
}

// Eval switches to evaluation mode: normalization reads frozen running
// statistics. Idempotent.
func (m *SketchDecoder) Eval() {
	m.training = false
	if m.bn1 != nil {
		m.bn1.SetTraining(false)
		m.bn2.SetTraining(false)
	}
}

func (m *SketchDecoder) Training() bool {
	return m.training
}

// Parameters returns every trainable parameter for the optimizer.
func (m *SketchDecoder) Parameters() []*nn.Param {
	params := m.conv1.Params()
	if m.bn1 != nil {
		params = append(params, m.bn1.Params()...)
	}
	params = append(params, m.conv2.Params()...)
	if m.bn2 != nil {
		params = append(params, m.bn2.Params()...)
	}
	params = append(params, m.img2hidden.Params()...)
	params = append(params, m.embed.Params()...)
	params = append(params, m.lstm.Params()...)
	params = append(params, m.hidden2token.Params()...)
	return params
}

// Forward runs one conditioned decoding pass.
//
// imgs is (N, C, H, W); tokens is a right-padded (N, T) batch flattened
// row-major; lens holds each sequence's true length. The result is the
// (N*T, V) log-probability tensor over the vocabulary.
func (m *SketchDecoder) Forward(imgs *device.Tensor, tokens []int, t int, lens []int) (*device.Tensor, error) {
	dims := imgs.Dims()
	if len(dims) != 4 || dims[1] != m.cfg.ImgChannels || dims[2] != m.cfg.ImgHeight || dims[3] != m.cfg.ImgWidth {
		return nil, fmt.Errorf("%w: image batch dims %v, want (N, %d, %d, %d)",
			nn.ErrConfig, dims, m.cfg.ImgChannels, m.cfg.ImgHeight, m.cfg.ImgWidth)
	}
	n := dims[0]
	if n == 0 {
		return nil, fmt.Errorf("%w: empty image batch", nn.ErrShape)
	}
	if len(lens) != n {
		return nil, fmt.Errorf("%w: %d lengths for %d images", nn.ErrShape, len(lens), n)
	}
	if t <= 0 || len(tokens) != n*t {
		return nil, fmt.Errorf("%w: %d tokens for a %dx%d batch", nn.ErrShape, len(tokens), n, t)
	}

	// Image encoder.
	x, err := m.conv1.Forward(imgs)
	if err != nil {
		return nil, err
	}
	if m.bn1 != nil {
		if x, err = m.bn1.Forward(x); err != nil {
			return nil, err
		}
	}
	if x, err = m.relu1.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.pool1.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.conv2.Forward(x); err != nil {
		return nil, err
	}
	if m.bn2 != nil {
		if x, err = m.bn2.Forward(x); err != nil {
			return nil, err
		}
	}
	if x, err = m.relu2.Forward(x); err != nil {
		return nil, err
	}
	if x, err = m.pool2.Forward(x); err != nil {
		return nil, err
	}
	if err = x.Reshape(n, conv2Channels*m.flatH*m.flatW); err != nil {
		return nil, err
	}

	// Conditioning bridge: feature vector to initial hidden state.
	// Cell state is zero-initialized, keyed only by batch size and
	// device.
	feat, err := m.img2hidden.Forward(x)
	if err != nil {
		return nil, err
	}
	h0, err := m.relu3.Forward(feat)
	if err != nil {
		return nil, err
	}
	c0 := m.ctx.NewTensor("c0", n, m.cfg.HiddenDim)

	// Sequence decoder over the packed program prefix.
	emb, err := m.embed.Forward(tokens, n, t)
	if err != nil {
		return nil, err
	}
	packed, err := nn.Pack(emb.Data(), n, t, m.cfg.EmbeddingDim, lens)
	if err != nil {
		return nil, err
	}
	outPacked, _, _, err := m.lstm.Forward(packed, h0, c0)
	if err != nil {
		return nil, err
	}
	hiddenPadded, err := packed.Unpack(outPacked, m.cfg.HiddenDim, n, t)
	if err != nil {
		return nil, err
	}
	hidden, err := m.ctx.TensorFrom("decoder.hidden", hiddenPadded, n*t, m.cfg.HiddenDim)
	if err != nil {
		return nil, err
	}
	logits, err := m.hidden2token.Forward(hidden)
	if err != nil {
		return nil, err
	}
	logProbs, err := nn.LogSoftmax(m.ctx, logits)
	if err != nil {
		return nil, err
	}

	m.packed = packed
	m.batchN = n
	m.batchT = t
	return logProbs, nil
}

// Backward propagates dL/dlogits (the gradient with respect to the
// pre-softmax head output, as produced by the fused padded-NLL loss)
// through the whole network, accumulating parameter gradients.
func (m *SketchDecoder) Backward(dlogits *device.Tensor) error {
	if m.packed == nil {
		return fmt.Errorf("model: backward before forward")
	}
	n, t := m.batchN, m.batchT

	dhidden, err := m.hidden2token.Backward(dlogits)
	if err != nil {
		return err
	}
	dpacked, err := m.packed.PackPadded(dhidden.Data(), n, t, m.cfg.HiddenDim)
	if err != nil {
		return err
	}
	dxPacked, dh0, _, err := m.lstm.Backward(dpacked)
	if err != nil {
		return err
	}

	dembData, err := m.packed.Unpack(dxPacked, m.cfg.EmbeddingDim, n, t)
	if err != nil {
		return err
	}
	demb, err := m.ctx.TensorFrom("embed.dout", dembData, n, t, m.cfg.EmbeddingDim)
	if err != nil {
		return err
	}
	if err = m.embed.Backward(demb); err != nil {
		return err
	}

	// Bridge and encoder. The zero cell state is constant, so its
	// gradient is dropped.
	dfeat, err := m.relu3.Backward(dh0)
	if err != nil {
		return err
	}
	dflat, err := m.img2hidden.Backward(dfeat)
	if err != nil {
		return err
	}
	if err = dflat.Reshape(n, conv2Channels, m.flatH, m.flatW); err != nil {
		return err
	}

	dx, err := m.pool2.Backward(dflat)
	if err != nil {
		return err
	}
	if dx, err = m.relu2.Backward(dx); err != nil {
		return err
	}
	if m.bn2 != nil {
		if dx, err = m.bn2.Backward(dx); err != nil {
			return err
		}
	}
	if dx, err = m.conv2.Backward(dx); err != nil {
		return err
	}
	if dx, err = m.pool1.Backward(dx); err != nil {
		return err
	}
	if dx, err = m.relu1.Backward(dx); err != nil {
		return err
	}
	if m.bn1 != nil {
		if dx, err = m.bn1.Backward(dx); err != nil {
			return err
		}
	}
	if _, err = m.conv1.Backward(dx); err != nil {
		return err
	}
	return nil
}
