// Package shape holds the volumetric tensor shape and the output-size
// arithmetic of 3D convolution, pooling and transposed convolution.
package shape

import (
	"fmt"
	"strconv"
	"strings"
)

// Padding is a padding policy for a sliding-window op.
type Padding string

const (
	// Same pads so that a stride-1 op preserves spatial size and a strided op
	// yields ceil(n/stride).
	Same Padding = "same"
	// Valid applies no padding.
	Valid Padding = "valid"
)

// Valid reports whether p is a known padding policy.
func (p Padding) Valid() bool {
	return p == Same || p == Valid
}

// Triple is a per-axis value in (height, width, depth) order.
type Triple [3]int64

// Cube returns a Triple with the same value on every axis.
func Cube(n int64) Triple {
	return Triple{n, n, n}
}

// IsCube reports whether all three axes hold the same value.
func (t Triple) IsCube() bool {
	return t[0] == t[1] && t[1] == t[2]
}

// Positive reports whether every axis is > 0.
func (t Triple) Positive() bool {
	return t[0] > 0 && t[1] > 0 && t[2] > 0
}

// Volume returns the product of the three axes.
func (t Triple) Volume() int64 {
	return t[0] * t[1] * t[2]
}

// Slice returns the triple as a slice, the form gotch expects.
func (t Triple) Slice() []int64 {
	return []int64{t[0], t[1], t[2]}
}

func (t Triple) String() string {
	return fmt.Sprintf("%dx%dx%d", t[0], t[1], t[2])
}

// Shape is a 5-D volume shape: (batch, height, width, depth, channels).
type Shape struct {
	Batch    int64
	Height   int64
	Width    int64
	Depth    int64
	Channels int64
}

// New creates a Shape.
func New(batch, height, width, depth, channels int64) Shape {
	return Shape{batch, height, width, depth, channels}
}

// Spatial returns (height, width, depth).
func (s Shape) Spatial() Triple {
	return Triple{s.Height, s.Width, s.Depth}
}

// WithSpatial returns a copy of s with the spatial axes replaced.
func (s Shape) WithSpatial(t Triple) Shape {
	s.Height, s.Width, s.Depth = t[0], t[1], t[2]
	return s
}

// WithChannels returns a copy of s with a new channel count.
func (s Shape) WithChannels(c int64) Shape {
	s.Channels = c
	return s
}

// SameSpatial reports whether s and o agree on batch and spatial axes, i.e.
// whether they can be concatenated along channels.
func (s Shape) SameSpatial(o Shape) bool {
	return s.Batch == o.Batch && s.Spatial() == o.Spatial()
}

// Dims returns the shape in (batch, H, W, D, C) order.
func (s Shape) Dims() []int64 {
	return []int64{s.Batch, s.Height, s.Width, s.Depth, s.Channels}
}

// ChannelsFirst returns the shape in libtorch order [batch, C, H, W, D].
func (s Shape) ChannelsFirst() []int64 {
	return []int64{s.Batch, s.Channels, s.Height, s.Width, s.Depth}
}

// Elements returns the number of elements of the tensor.
func (s Shape) Elements() int64 {
	return s.Batch * s.Height * s.Width * s.Depth * s.Channels
}

// Validate checks that every axis is positive.
func (s Shape) Validate() error {
	for i, d := range s.Dims() {
		if d <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, d)
		}
	}
	return nil
}

func (s Shape) String() string {
	parts := make([]string, 0, 5)
	for _, d := range s.Dims() {
		parts = append(parts, strconv.FormatInt(d, 10))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// FromChannelsFirst converts a libtorch size [B C H W D] to a Shape.
func FromChannelsFirst(size []int64) (Shape, error) {
	if len(size) != 5 {
		return Shape{}, fmt.Errorf("expected 5-D size, got %v", size)
	}
	return Shape{size[0], size[2], size[3], size[4], size[1]}, nil
}
