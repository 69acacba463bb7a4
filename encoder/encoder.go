package encoder

import (
	ts "github.com/sugarme/gotch/tensor"
)

// Encoder is encoder interface for a volumetric segmentation model.
// ForwardAll returns the output of every stage, shallowest first; the
// caller owns (and drops) the returned tensors.
type Encoder interface {
	ForwardAll(x *ts.Tensor, train bool) []*ts.Tensor
	OutChannels() []int64
}
