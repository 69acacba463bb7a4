package encoder

import (
	"fmt"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/base"
	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// DenseBlock is two convolutions, each followed by a channel concatenation
// with the block input. It is the convolutional part of an encoder stage,
// the whole bridge, and the tail of a decoder stage.
type DenseBlock struct {
	Conv1 *nn.Conv3D
	Conv2 *nn.Conv3D

	act  config.Activation
	cOut int64
}

// NewDenseBlock creates a DenseBlock reading cIn channels. Its output has
// blk.Filters + cIn channels.
func NewDenseBlock(p *nn.Path, cIn int64, blk config.Block) (*DenseBlock, error) {
	if !blk.Kernel.IsCube() {
		return nil, fmt.Errorf("kernel %v: only cubic kernels are supported", blk.Kernel)
	}
	ksize := blk.Kernel[0]
	padding, err := base.ConvPadding(ksize, blk.Padding)
	if err != nil {
		return nil, err
	}

	return &DenseBlock{
		Conv1: base.Conv3d(p.Sub("conv1"), cIn, blk.Filters, ksize, padding),
		Conv2: base.Conv3d(p.Sub("conv2"), cIn+blk.Filters, blk.Filters, ksize, padding),
		act:   blk.Activation,
		cOut:  cIn + blk.Filters,
	}, nil
}

// ForwardT implements ts.ModuleT for DenseBlock.
// x should be in shape [B C H W D].
func (b *DenseBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := base.Activate(b.Conv1.Forward(x), b.act, true) // [B f   H W D]
	cat1 := ts.MustCat([]ts.Tensor{*x, *c1}, 1)           // [B C+f H W D]
	c1.MustDrop()
	c2 := base.Activate(b.Conv2.Forward(cat1), b.act, true)
	cat1.MustDrop()
	out := ts.MustCat([]ts.Tensor{*x, *c2}, 1) // [B C+f H W D]
	c2.MustDrop()

	return out
}

// OutChannels returns the number of output channels.
func (b *DenseBlock) OutChannels() int64 {
	return b.cOut
}

// EncoderBlock is a DenseBlock followed by max-pooling.
type EncoderBlock struct {
	Dense *DenseBlock

	pool    shape.Triple
	stride  shape.Triple
	padding shape.Padding
}

// NewEncoderBlock creates an EncoderBlock reading cIn channels.
func NewEncoderBlock(p *nn.Path, cIn int64, blk config.Block) (*EncoderBlock, error) {
	if blk.Padding == shape.Same && blk.Pool != blk.PoolStride {
		return nil, fmt.Errorf("pool %v stride %v: same pooling needs pool equal to stride", blk.Pool, blk.PoolStride)
	}
	dense, err := NewDenseBlock(p, cIn, blk)
	if err != nil {
		return nil, err
	}

	return &EncoderBlock{
		Dense:   dense,
		pool:    blk.Pool,
		stride:  blk.PoolStride,
		padding: blk.Padding,
	}, nil
}

// ForwardT implements ts.ModuleT for EncoderBlock.
func (b *EncoderBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	d := b.Dense.ForwardT(x, train)
	out := base.MaxPool3d(d, b.pool, b.stride, b.padding)
	d.MustDrop()

	return out
}

// OutChannels returns the number of output channels.
func (b *EncoderBlock) OutChannels() int64 {
	return b.Dense.OutChannels()
}

// DenseEncoder chains EncoderBlocks.
type DenseEncoder struct {
	blocks []*EncoderBlock
}

// NewDenseEncoder creates one EncoderBlock per descriptor under
// p/encoder1, p/encoder2, ...
func NewDenseEncoder(p *nn.Path, cIn int64, blocks []config.Block) (*DenseEncoder, error) {
	enc := &DenseEncoder{}
	for i, blk := range blocks {
		b, err := NewEncoderBlock(p.Sub(fmt.Sprintf("encoder%d", i+1)), cIn, blk)
		if err != nil {
			return nil, fmt.Errorf("encoder%d: %w", i+1, err)
		}
		enc.blocks = append(enc.blocks, b)
		cIn = b.OutChannels()
	}

	return enc, nil
}

// ForwardAll implements Encoder interface for DenseEncoder.
func (e *DenseEncoder) ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor {
	features := make([]*ts.Tensor, 0, len(e.blocks))
	for _, b := range e.blocks {
		x = b.ForwardT(x, train)
		features = append(features, x)
	}

	return features
}

// OutChannels implements Encoder interface for DenseEncoder.
func (e *DenseEncoder) OutChannels() []int64 {
	out := make([]int64, len(e.blocks))
	for i, b := range e.blocks {
		out[i] = b.OutChannels()
	}
	return out
}
