package unet

import (
	"fmt"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/graph"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// dense adds the two dense-concatenated convolutions shared by encoder and
// bridge blocks. Both concatenations are anchored on x.
func dense(b *graph.Builder, x graph.Tensor, blk config.Block) (graph.Tensor, error) {
	c1, err := b.Conv(x, blk.Filters, blk.Kernel, blk.Padding, blk.Activation)
	if err != nil {
		return graph.Tensor{}, err
	}
	cat1, err := b.Concat(x, c1)
	if err != nil {
		return graph.Tensor{}, err
	}
	c2, err := b.Conv(cat1, blk.Filters, blk.Kernel, blk.Padding, blk.Activation)
	if err != nil {
		return graph.Tensor{}, err
	}
	return b.Concat(x, c2)
}

// Encode adds an encoder block: dense convolutions followed by max-pooling.
// Output channels are blk.Filters plus the input channels.
func Encode(b *graph.Builder, x graph.Tensor, blk config.Block) (graph.Tensor, error) {
	d, err := dense(b, x, blk)
	if err != nil {
		return graph.Tensor{}, err
	}
	return b.MaxPool(d, blk.Pool, blk.PoolStride, blk.Padding)
}

// Bridge adds the bottleneck block: an encoder block without pooling.
func Bridge(b *graph.Builder, x graph.Tensor, blk config.Block) (graph.Tensor, error) {
	return dense(b, x, blk)
}

// Decode adds a decoder block: a linear transposed convolution, then dense
// convolutions anchored on the transposed output. Output channels are
// 2*blk.Filters. The skip concatenation is left to the caller.
func Decode(b *graph.Builder, x graph.Tensor, blk config.Block) (graph.Tensor, error) {
	up, err := b.ConvTranspose(x, blk.Filters, blk.TransposeKernel, blk.TransposeStride, blk.Padding, config.Linear)
	if err != nil {
		return graph.Tensor{}, err
	}
	return dense(b, up, blk)
}

// Stage names used in plans.
func encoderStage(i int) string { return fmt.Sprintf("encoder%d", i+1) }
func decoderStage(i int) string { return fmt.Sprintf("decoder%d", i+1) }

const (
	inputStage  = "input"
	bridgeStage = "bridge"
	headStage   = "head"
)

// Plan validates cfg and assembles the symbolic network:
//
//	input -> E1 -> ... -> En -> bridge -> D1 -> skip(E(n-1), D1) -> ... -> Dn -> head
//
// It fails with graph.ErrShapeMismatch when a skip pairs tensors of
// different resolution, or when the last decoder does not restore the input
// resolution, in which case the head is never added.
func Plan(cfg config.Config, opts ...graph.Option) (*graph.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := graph.NewBuilder(opts...)
	b.Stage(inputStage)
	in, err := b.Input(cfg.Input())
	if err != nil {
		return nil, err
	}

	x := in
	skips := make([]graph.Tensor, len(cfg.Encoder))
	for i, blk := range cfg.Encoder {
		b.Stage(encoderStage(i))
		if x, err = Encode(b, x, blk); err != nil {
			return nil, err
		}
		skips[i] = x
	}

	b.Stage(bridgeStage)
	if x, err = Bridge(b, x, cfg.Bridge); err != nil {
		return nil, err
	}

	n := len(cfg.Decoder)
	for i, blk := range cfg.Decoder {
		b.Stage(decoderStage(i))
		if x, err = Decode(b, x, blk); err != nil {
			return nil, err
		}
		// The deepest encoder output feeds the bridge; decoder i pairs
		// with encoder n-1-i counting from the bottom.
		if i < n-1 {
			if x, err = b.Skip(skips[n-2-i], x); err != nil {
				return nil, err
			}
		}
	}

	if x.Shape.Spatial() != in.Shape.Spatial() {
		return nil, &graph.ShapeError{
			Node:   decoderStage(n - 1),
			Reason: fmt.Sprintf("decoder output does not restore input resolution; input axes must be divisible by %v", cfg.Reduction()),
			Shapes: []shape.Shape{in.Shape, x.Shape},
		}
	}

	b.Stage(headStage)
	out, err := b.Conv(x, cfg.OutputChannels, cfg.OutputKernel, shape.Same, cfg.OutputActivation)
	if err != nil {
		return nil, err
	}
	return b.Build(out)
}
