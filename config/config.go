// Package config describes the hyper-parameters of a 3D Dense U-Net: input
// geometry, per-stage block descriptors and the output head.
//
// A Config is a plain value. Presets return fresh copies, and the With*
// helpers return modified copies, so a Config handed to a builder is never
// changed behind its back.
package config

import (
	"errors"
	"fmt"

	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// ErrInvalidConfig is returned (wrapped) by Validate and the loaders.
var ErrInvalidConfig = errors.New("invalid config")

// Activation names an element-wise activation function.
type Activation string

const (
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Linear  Activation = "linear"
)

// Valid reports whether a is a known activation.
func (a Activation) Valid() bool {
	switch a {
	case ReLU, Sigmoid, Tanh, Linear:
		return true
	}
	return false
}

// Bounded reports whether a maps into [0,1].
func (a Activation) Bounded() bool {
	return a == Sigmoid
}

var (
	// SymmetricStride halves (or doubles) every spatial axis.
	SymmetricStride = shape.Cube(2)
	// DepthPreservingStride halves height and width but keeps depth.
	DepthPreservingStride = shape.Triple{2, 2, 1}
)

// Block is the descriptor of one encoder, bridge or decoder stage.
type Block struct {
	Filters    int64
	Kernel     shape.Triple
	Padding    shape.Padding
	Activation Activation

	// Encoder only.
	Pool       shape.Triple
	PoolStride shape.Triple

	// Decoder only.
	TransposeKernel shape.Triple
	TransposeStride shape.Triple
}

// EncoderBlock returns the default encoder descriptor: 3x3x3 same-padded
// relu convolutions followed by a 2x2x2 max-pooling of stride 2.
func EncoderBlock(filters int64) Block {
	return Block{
		Filters:    filters,
		Kernel:     shape.Cube(3),
		Padding:    shape.Same,
		Activation: ReLU,
		Pool:       SymmetricStride,
		PoolStride: SymmetricStride,
	}
}

// BridgeBlock returns the default bottleneck descriptor.
func BridgeBlock(filters int64) Block {
	return Block{
		Filters:    filters,
		Kernel:     shape.Cube(3),
		Padding:    shape.Same,
		Activation: ReLU,
	}
}

// DecoderBlock returns the default decoder descriptor: a 2x2x2 stride-2
// transposed convolution followed by 3x3x3 same-padded relu convolutions.
func DecoderBlock(filters int64) Block {
	return Block{
		Filters:         filters,
		Kernel:          shape.Cube(3),
		Padding:         shape.Same,
		Activation:      ReLU,
		TransposeKernel: SymmetricStride,
		TransposeStride: SymmetricStride,
	}
}

// Config is the full network description.
type Config struct {
	Name string

	Batch    int64
	Height   int64
	Width    int64
	Depth    int64
	Channels int64

	Encoder []Block
	Bridge  Block
	Decoder []Block

	OutputChannels   int64
	OutputKernel     shape.Triple
	OutputActivation Activation
}

// Default returns the reference network: 128^3 single-channel input,
// encoder 32/64/128/256, bridge 512, decoder 256/128/64/32 and a 1x1x1
// sigmoid head.
func Default() Config {
	return New("default", 128, 128, 128, 1,
		[]int64{32, 64, 128, 256}, 512, []int64{256, 128, 64, 32})
}

// Brain is the default network on a 128^3 three-modality volume.
func Brain() Config {
	c := Default()
	c.Name = "brain"
	c.Channels = 3
	return c
}

// Spine is the default network on a 256x256x32 single-channel volume.
func Spine() Config {
	c := Default()
	c.Name = "spine"
	c.Height, c.Width, c.Depth = 256, 256, 32
	return c
}

// Preset returns a named preset.
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "brain":
		return Brain(), nil
	case "spine":
		return Spine(), nil
	}
	return Config{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, name)
}

// New builds a Config with default block descriptors for the given filters.
func New(name string, height, width, depth, channels int64, encoder []int64, bridge int64, decoder []int64) Config {
	c := Config{
		Name:             name,
		Batch:            1,
		Height:           height,
		Width:            width,
		Depth:            depth,
		Channels:         channels,
		Bridge:           BridgeBlock(bridge),
		OutputChannels:   1,
		OutputKernel:     shape.Cube(1),
		OutputActivation: Sigmoid,
	}
	for _, f := range encoder {
		c.Encoder = append(c.Encoder, EncoderBlock(f))
	}
	for _, f := range decoder {
		c.Decoder = append(c.Decoder, DecoderBlock(f))
	}
	return c
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.Encoder = append([]Block(nil), c.Encoder...)
	c.Decoder = append([]Block(nil), c.Decoder...)
	return c
}

// Input returns the input shape in (batch, H, W, D, C) order.
func (c Config) Input() shape.Shape {
	return shape.New(c.Batch, c.Height, c.Width, c.Depth, c.Channels)
}

// Stages returns the number of encoder (and decoder) stages.
func (c Config) Stages() int {
	return len(c.Encoder)
}

// WithInput returns a copy of c with a new input geometry.
func (c Config) WithInput(height, width, depth, channels int64) Config {
	c = c.Clone()
	c.Height, c.Width, c.Depth, c.Channels = height, width, depth, channels
	return c
}

// WithStride returns a copy of c where every encoder pools with factor and
// stride s and every decoder upsamples with kernel and stride s.
func (c Config) WithStride(s shape.Triple) Config {
	c = c.Clone()
	for i := range c.Encoder {
		c.Encoder[i].Pool = s
		c.Encoder[i].PoolStride = s
	}
	for i := range c.Decoder {
		c.Decoder[i].TransposeKernel = s
		c.Decoder[i].TransposeStride = s
	}
	return c
}

// DepthPreserving returns a copy of c that never pools or upsamples the
// depth axis.
func (c Config) DepthPreserving() Config {
	return c.WithStride(DepthPreservingStride)
}

// WithKernel returns a copy of c with kernel k for every hidden convolution.
func (c Config) WithKernel(k shape.Triple) Config {
	c = c.Clone()
	for i := range c.Encoder {
		c.Encoder[i].Kernel = k
	}
	c.Bridge.Kernel = k
	for i := range c.Decoder {
		c.Decoder[i].Kernel = k
	}
	return c
}

// WithPadding returns a copy of c with padding p for every hidden op.
func (c Config) WithPadding(p shape.Padding) Config {
	c = c.Clone()
	for i := range c.Encoder {
		c.Encoder[i].Padding = p
	}
	c.Bridge.Padding = p
	for i := range c.Decoder {
		c.Decoder[i].Padding = p
	}
	return c
}

// WithActivation returns a copy of c with activation a for every hidden
// convolution.
func (c Config) WithActivation(a Activation) Config {
	c = c.Clone()
	for i := range c.Encoder {
		c.Encoder[i].Activation = a
	}
	c.Bridge.Activation = a
	for i := range c.Decoder {
		c.Decoder[i].Activation = a
	}
	return c
}

// Reduction returns the cumulative down-sampling factor of the encoder, the
// factor every input axis must be divisible by for an exact round trip.
func (c Config) Reduction() shape.Triple {
	r := shape.Cube(1)
	for _, b := range c.Encoder {
		r = shape.Mul(r, b.PoolStride)
	}
	return r
}

// Validate checks every field that does not depend on shape inference.
// Spatial compatibility is left to the graph builder.
func (c Config) Validate() error {
	if err := c.Input().Validate(); err != nil {
		return fmt.Errorf("%w: input %v: %v", ErrInvalidConfig, c.Input(), err)
	}
	if len(c.Encoder) == 0 {
		return fmt.Errorf("%w: at least one encoder stage required", ErrInvalidConfig)
	}
	if len(c.Decoder) != len(c.Encoder) {
		return fmt.Errorf("%w: %d decoder stages do not mirror %d encoder stages",
			ErrInvalidConfig, len(c.Decoder), len(c.Encoder))
	}
	for i, b := range c.Encoder {
		if err := b.validate(true, false); err != nil {
			return fmt.Errorf("%w: encoder%d: %v", ErrInvalidConfig, i+1, err)
		}
	}
	if err := c.Bridge.validate(false, false); err != nil {
		return fmt.Errorf("%w: bridge: %v", ErrInvalidConfig, err)
	}
	for i, b := range c.Decoder {
		if err := b.validate(false, true); err != nil {
			return fmt.Errorf("%w: decoder%d: %v", ErrInvalidConfig, i+1, err)
		}
	}
	// The head emits one per-voxel probability.
	if c.OutputChannels != 1 {
		return fmt.Errorf("%w: output channels %d, want 1", ErrInvalidConfig, c.OutputChannels)
	}
	if !c.OutputKernel.Positive() {
		return fmt.Errorf("%w: output kernel %v", ErrInvalidConfig, c.OutputKernel)
	}
	if !c.OutputActivation.Valid() || !c.OutputActivation.Bounded() {
		return fmt.Errorf("%w: output activation %q does not map into [0,1]", ErrInvalidConfig, c.OutputActivation)
	}
	return nil
}

func (b Block) validate(encoder, decoder bool) error {
	if b.Filters <= 0 {
		return fmt.Errorf("filters %d", b.Filters)
	}
	if !b.Kernel.Positive() {
		return fmt.Errorf("kernel %v", b.Kernel)
	}
	if !b.Padding.Valid() {
		return fmt.Errorf("padding %q", b.Padding)
	}
	if !b.Activation.Valid() {
		return fmt.Errorf("activation %q", b.Activation)
	}
	if encoder && (!b.Pool.Positive() || !b.PoolStride.Positive()) {
		return fmt.Errorf("pool %v stride %v", b.Pool, b.PoolStride)
	}
	if decoder && (!b.TransposeKernel.Positive() || !b.TransposeStride.Positive()) {
		return fmt.Errorf("transpose kernel %v stride %v", b.TransposeKernel, b.TransposeStride)
	}
	return nil
}
