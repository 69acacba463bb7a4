package unet

import (
	"fmt"
	"log"
	"reflect"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/base"
	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/encoder"
)

// DecoderBlock up-samples with a transposed convolution, then runs a
// DenseBlock anchored on the up-sampled tensor.
type DecoderBlock struct {
	Up    *base.ConvTranspose3D
	Dense *encoder.DenseBlock
}

// NewDecoderBlock creates a DecoderBlock reading cIn channels. Its output
// has 2*blk.Filters channels.
func NewDecoderBlock(p *nn.Path, cIn int64, blk config.Block) (*DecoderBlock, error) {
	up, err := base.ConvTranspose3d(p.Sub("upconv1"), cIn, blk.Filters, blk.TransposeKernel, blk.TransposeStride, blk.Padding)
	if err != nil {
		return nil, err
	}
	dense, err := encoder.NewDenseBlock(p, blk.Filters, blk)
	if err != nil {
		return nil, err
	}

	return &DecoderBlock{Up: up, Dense: dense}, nil
}

// ForwardT implements ts.ModuleT for DecoderBlock.
func (d *DecoderBlock) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	up := d.Up.Forward(x)
	out := d.Dense.ForwardT(up, train)
	up.MustDrop()

	return out
}

// OutChannels returns the number of output channels.
func (d *DecoderBlock) OutChannels() int64 {
	return d.Dense.OutChannels()
}

// skip concatenates an encoder feature with the decoder output of the same
// resolution. x, feat should be in shape [B C H W D].
func skip(feat, x *ts.Tensor) *ts.Tensor {
	featSize := feat.MustSize()
	xSize := x.MustSize()
	if !reflect.DeepEqual(featSize[2:], xSize[2:]) {
		log.Fatalf("Skip connection between mismatched resolutions: encoder %v, decoder %v\n", featSize, xSize)
	}

	return ts.MustCat([]ts.Tensor{*feat, *x}, 1)
}

// UNetDecoder is Decoder struct for DenseUNet model.
type UNetDecoder struct {
	blocks []*DecoderBlock
}

// NewUNetDecoder creates one DecoderBlock per descriptor under p/decoder1,
// p/decoder2, ... cIn is the bridge output; features are the channel counts
// of the encoder stages, shallowest first.
func NewUNetDecoder(p *nn.Path, cIn int64, features []int64, blocks []config.Block) (*UNetDecoder, error) {
	if len(features) != len(blocks) {
		return nil, fmt.Errorf("%d encoder features for %d decoder stages", len(features), len(blocks))
	}

	n := len(blocks)
	dec := &UNetDecoder{}
	for i, blk := range blocks {
		b, err := NewDecoderBlock(p.Sub(decoderStage(i)), cIn, blk)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", decoderStage(i), err)
		}
		dec.blocks = append(dec.blocks, b)
		cIn = b.OutChannels()
		if i < n-1 {
			cIn += features[n-2-i]
		}
	}

	return dec, nil
}

// ForwardFeatures decodes the bridge output x, concatenating encoder
// features on the way up.
func (d *UNetDecoder) ForwardFeatures(x *ts.Tensor, features []*ts.Tensor, train bool) *ts.Tensor {
	n := len(d.blocks)
	if len(features) != n {
		log.Fatalf("Expected features of %v tensors. Got %v\n", n, len(features))
	}

	// E.g. x [1 993 2 2 2] for a [1 1 32 32 32] input.
	// z0: [1 512  4  4  4] -> skip with feat2 [1 225  4  4  4]
	// z1: [1 256  8  8  8] -> skip with feat1 [1  97  8  8  8]
	// z2: [1 128 16 16 16] -> skip with feat0 [1  33 16 16 16]
	// z3: [1  64 32 32 32]
	z := x.MustShallowClone()
	for i, b := range d.blocks {
		next := b.ForwardT(z, train)
		z.MustDrop()
		z = next
		if i < n-1 {
			cat := skip(features[n-2-i], z)
			z.MustDrop()
			z = cat
		}
	}

	return z
}
