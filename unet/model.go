// Package unet assembles the 3D Dense U-Net: a symbolic, shape-checked plan
// of the topology (Plan) and the matching gotch network (DenseUNet).
package unet

import (
	"errors"
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/base"
	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/encoder"
	"github.com/miladsade96/3D-Dense-U-Net/graph"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// ErrUnsupported is returned when a valid plan cannot be expressed with
// libtorch's symmetric padding.
var ErrUnsupported = errors.New("unsupported by the tensor engine")

// DenseUNet is a 3D Dense U-Net model struct
// Ref: https://www.mdpi.com/2076-3417/9/3/404
type DenseUNet struct {
	encoder encoder.Encoder
	bridge  *encoder.DenseBlock
	decoder *UNetDecoder
	segHead *nn.SequentialT

	cfg  config.Config
	plan *graph.Graph
}

// NewDenseUNet plans cfg and, only if the plan is valid, creates the
// network variables under p. Variable paths follow plan node names, e.g.
// encoder1.conv1.weight.
func NewDenseUNet(p *nn.Path, cfg config.Config, opts ...graph.Option) (*DenseUNet, error) {
	cfg = cfg.Clone()
	plan, err := Plan(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := checkEngine(cfg); err != nil {
		return nil, err
	}

	enc, err := encoder.NewDenseEncoder(p, cfg.Channels, cfg.Encoder)
	if err != nil {
		return nil, err
	}
	features := enc.OutChannels()

	bridge, err := encoder.NewDenseBlock(p.Sub(bridgeStage), features[len(features)-1], cfg.Bridge)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", bridgeStage, err)
	}

	dec, err := NewUNetDecoder(p, bridge.OutChannels(), features, cfg.Decoder)
	if err != nil {
		return nil, err
	}

	last := cfg.Decoder[len(cfg.Decoder)-1].Filters * 2
	head, err := base.NewSegmentationHead(p.Sub(headStage), last, cfg.OutputChannels, cfg.OutputKernel[0], cfg.OutputActivation)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", headStage, err)
	}

	return &DenseUNet{
		encoder: enc,
		bridge:  bridge,
		decoder: dec,
		segHead: head,
		cfg:     cfg,
		plan:    plan,
	}, nil
}

// DefaultDenseUNet creates DenseUNet with default values.
// 128^3 single-channel input, 1-channel sigmoid output.
func DefaultDenseUNet(p *nn.Path) *DenseUNet {
	net, err := NewDenseUNet(p, config.Default())
	if err != nil {
		log.Fatal(err)
	}
	return net
}

// checkEngine rejects the configurations gotch cannot run with symmetric
// padding: non-cubic or even same-padded kernels, same pooling whose window
// differs from its stride, and transposed convolutions without an exact
// same padding.
func checkEngine(cfg config.Config) error {
	conv := func(stage string, k shape.Triple, pad shape.Padding) error {
		if !k.IsCube() {
			return fmt.Errorf("%w: %s: non-cubic kernel %v", ErrUnsupported, stage, k)
		}
		if _, err := base.ConvPadding(k[0], pad); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnsupported, stage, err)
		}
		return nil
	}

	for i, b := range cfg.Encoder {
		if err := conv(encoderStage(i), b.Kernel, b.Padding); err != nil {
			return err
		}
		if b.Padding == shape.Same && b.Pool != b.PoolStride {
			return fmt.Errorf("%w: %s: same pooling with pool %v != stride %v", ErrUnsupported, encoderStage(i), b.Pool, b.PoolStride)
		}
	}
	if err := conv(bridgeStage, cfg.Bridge.Kernel, cfg.Bridge.Padding); err != nil {
		return err
	}
	for i, b := range cfg.Decoder {
		if err := conv(decoderStage(i), b.Kernel, b.Padding); err != nil {
			return err
		}
		if _, _, err := base.TransposePadding(b.TransposeKernel, b.TransposeStride, b.Padding); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnsupported, decoderStage(i), err)
		}
	}
	return conv(headStage, cfg.OutputKernel, shape.Same)
}

// Plan returns the validated plan the network was built from.
func (n *DenseUNet) Plan() *graph.Graph {
	return n.plan
}

// Config returns a copy of the network configuration.
func (n *DenseUNet) Config() config.Config {
	return n.cfg.Clone()
}

// CheckInput verifies that x is [B C H W D] with the configured channels
// and spatial size. The batch size is free.
func (n *DenseUNet) CheckInput(x *ts.Tensor) error {
	got, err := shape.FromChannelsFirst(x.MustSize())
	if err != nil {
		return fmt.Errorf("%w: %v", graph.ErrShapeMismatch, err)
	}
	want := n.cfg.Input()
	want.Batch = got.Batch
	if got != want {
		return &graph.ShapeError{Node: "input", Reason: "input does not match the planned shape", Shapes: []shape.Shape{want, got}}
	}
	return nil
}

// ForwardT implements ts.ModuleT for DenseUNet struct.
// x should be in shape [B C H W D]; the result is [B 1 H W D].
func (n *DenseUNet) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	if err := n.CheckInput(x); err != nil {
		log.Fatal(err)
	}

	// E.g. x [1 1 32 32 32]
	// 0- Shape: [1  33 16 16 16]
	// 1- Shape: [1  97  8  8  8]
	// 2- Shape: [1 225  4  4  4]
	// 3- Shape: [1 481  2  2  2]
	features := n.encoder.ForwardAll(x, train)
	center := n.bridge.ForwardT(features[len(features)-1], train) // [1 993 2 2 2]
	out := n.decoder.ForwardFeatures(center, features, train)     // [1  64 32 32 32]
	masks := n.segHead.ForwardT(out, train)                       // [1   1 32 32 32]

	for _, f := range features {
		f.MustDrop()
	}
	center.MustDrop()
	out.MustDrop()

	return masks
}
