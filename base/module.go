package base

import (
	"fmt"
	"log"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// Identity is a nn.Module placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// ForwardT implement nn.ModuleT for Identity struct.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// Activate applies act to x. If del is true x is consumed.
func Activate(x *ts.Tensor, act config.Activation, del bool) *ts.Tensor {
	switch act {
	case config.ReLU:
		return x.MustRelu(del)
	case config.Sigmoid:
		return x.MustSigmoid(del)
	case config.Tanh:
		return x.MustTanh(del)
	case config.Linear:
		if del {
			return x
		}
		return NewIdentity().Forward(x)
	}

	log.Fatalf("Unsupported activation %q\n", act)
	return nil
}

// NewActivation wraps Activate into a module usable in a SequentialT.
func NewActivation(act config.Activation) nn.Func {
	return nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return Activate(xs, act, false)
	})
}

// ConvPadding returns the symmetric libtorch padding of a stride-1 cubic
// convolution of size k.
func ConvPadding(k int64, pad shape.Padding) (int64, error) {
	if pad == shape.Valid {
		return 0, nil
	}
	p, ok := shape.SamePad(k)
	if !ok {
		return 0, fmt.Errorf("same padding needs an odd kernel, got %d", k)
	}
	return p, nil
}

// TransposePadding returns the padding and output padding that make a
// transposed convolution follow pad.
func TransposePadding(kernel, stride shape.Triple, pad shape.Padding) (padding, outPadding []int64, err error) {
	padding = make([]int64, 3)
	outPadding = make([]int64, 3)
	if pad == shape.Valid {
		return padding, outPadding, nil
	}
	for i := range kernel {
		p, op, ok := shape.TransposeSamePad(kernel[i], stride[i])
		if !ok {
			return nil, nil, fmt.Errorf("no same padding for transposed kernel %v stride %v", kernel, stride)
		}
		padding[i], outPadding[i] = p, op
	}
	return padding, outPadding, nil
}

// Conv3d creates a stride-1 Conv3D with a cubic kernel.
func Conv3d(p *nn.Path, cIn, cOut, ksize, padding int64) *nn.Conv3D {
	cfg := &nn.Conv3DConfig{
		Stride:   []int64{1, 1, 1},
		Padding:  []int64{padding, padding, padding},
		Dilation: []int64{1, 1, 1},
		Groups:   1,
		Bias:     true,
		WsInit:   nn.NewKaimingUniformInit(),
		BsInit:   nn.NewConstInit(0),
	}

	return nn.NewConv3D(p, cIn, cOut, ksize, cfg)
}

// ConvTranspose3D is a 3D transposed convolution. Its weight follows
// libtorch's layout [cIn cOut kH kW kD].
type ConvTranspose3D struct {
	Ws *ts.Tensor
	Bs *ts.Tensor

	stride     []int64
	padding    []int64
	outPadding []int64
}

// ConvTranspose3d creates a ConvTranspose3D that scales every spatial axis
// by stride under pad.
func ConvTranspose3d(p *nn.Path, cIn, cOut int64, kernel, stride shape.Triple, pad shape.Padding) (*ConvTranspose3D, error) {
	padding, outPadding, err := TransposePadding(kernel, stride, pad)
	if err != nil {
		return nil, err
	}

	return &ConvTranspose3D{
		Ws:         p.NewVar("weight", []int64{cIn, cOut, kernel[0], kernel[1], kernel[2]}, nn.NewKaimingUniformInit()),
		Bs:         p.NewVar("bias", []int64{cOut}, nn.NewConstInit(0)),
		stride:     stride.Slice(),
		padding:    padding,
		outPadding: outPadding,
	}, nil
}

// Forward implements nn.Module for ConvTranspose3D.
// x should be in shape [B cIn H W D].
func (c *ConvTranspose3D) Forward(x *ts.Tensor) *ts.Tensor {
	return ts.MustConvTranspose3d(x, c.Ws, c.Bs, c.stride, c.padding, c.outPadding, 1, []int64{1, 1, 1})
}

// MaxPool3d down-samples x. Same padding is realised with ceil mode, which
// matches ceil(n/stride) only when pool equals stride.
// x should be in shape [B C H W D].
func MaxPool3d(x *ts.Tensor, pool, stride shape.Triple, pad shape.Padding) *ts.Tensor {
	return x.MustMaxPool3d(pool.Slice(), stride.Slice(), []int64{0, 0, 0}, []int64{1, 1, 1}, pad == shape.Same, false)
}

// NumParams returns the number of scalars held by vs.
func NumParams(vs *nn.VarStore) int64 {
	var total int64
	for _, v := range vs.Variables() {
		n := int64(1)
		for _, d := range v.MustSize() {
			n *= d
		}
		total += n
	}
	return total
}
