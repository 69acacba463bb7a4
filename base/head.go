package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// NewSegmentationHead creates new SegmentatationHead (nn.SequentialT):
// a cubic Conv3D mapping cIn features to cOut channels, followed by act.
func NewSegmentationHead(p *nn.Path, cIn, cOut, ksize int64, act config.Activation) (*nn.SequentialT, error) {
	padding, err := ConvPadding(ksize, shape.Same)
	if err != nil {
		return nil, err
	}
	conv := Conv3d(p.Sub("conv1"), cIn, cOut, ksize, padding)

	seq := nn.SeqT()
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return conv.Forward(xs)
	}))
	seq.AddFn(NewActivation(act))

	return seq, nil
}
