package shape_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

func TestWindowOutput(t *testing.T) {
	tests := []struct {
		name    string
		n, k, s int64
		pad     shape.Padding
		want    int64
	}{
		{"same stride1", 32, 3, 1, shape.Same, 32},
		{"same pool even", 32, 2, 2, shape.Same, 16},
		{"same pool odd rounds up", 15, 2, 2, shape.Same, 8},
		{"same depth preserving", 16, 1, 1, shape.Same, 16},
		{"valid conv", 32, 3, 1, shape.Valid, 30},
		{"valid pool odd rounds down", 15, 2, 2, shape.Valid, 7},
		{"valid window too large", 2, 3, 1, shape.Valid, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shape.WindowOutput(tt.n, tt.k, tt.s, tt.pad))
		})
	}
}

func TestTransposeOutput(t *testing.T) {
	assert.Equal(t, int64(4), shape.TransposeOutput(2, 2, 2, shape.Same))
	assert.Equal(t, int64(4), shape.TransposeOutput(2, 2, 2, shape.Valid))
	assert.Equal(t, int64(5), shape.TransposeOutput(2, 3, 2, shape.Valid))
	assert.Equal(t, int64(6), shape.TransposeOutput(2, 3, 3, shape.Same))
}

func TestTransposeSamePad(t *testing.T) {
	for _, k := range []int64{1, 2, 3, 4, 5} {
		for _, s := range []int64{1, 2, 3} {
			pad, outPad, ok := shape.TransposeSamePad(k, s)
			if !ok {
				continue
			}
			n := int64(7)
			got := (n-1)*s - 2*pad + k + outPad
			assert.Equal(t, n*s, got, "k=%d s=%d", k, s)
			assert.Less(t, outPad, s)
		}
	}

	_, _, ok := shape.TransposeSamePad(2, 1)
	assert.False(t, ok)
}

func TestSamePad(t *testing.T) {
	pad, ok := shape.SamePad(3)
	require.True(t, ok)
	assert.Equal(t, int64(1), pad)

	_, ok = shape.SamePad(2)
	assert.False(t, ok)
}

func TestShape(t *testing.T) {
	s := shape.New(1, 32, 32, 16, 1)
	require.NoError(t, s.Validate())
	assert.Equal(t, "(1,32,32,16,1)", s.String())
	assert.Equal(t, []int64{1, 1, 32, 32, 16}, s.ChannelsFirst())
	assert.Equal(t, int64(32*32*16), s.Elements())

	back, err := shape.FromChannelsFirst(s.ChannelsFirst())
	require.NoError(t, err)
	assert.Equal(t, s, back)

	assert.True(t, s.SameSpatial(s.WithChannels(64)))
	assert.False(t, s.SameSpatial(s.WithSpatial(shape.Triple{32, 32, 8})))

	assert.Error(t, shape.New(1, 0, 32, 32, 1).Validate())
	_, err = shape.FromChannelsFirst([]int64{1, 2, 3})
	assert.Error(t, err)
}

func TestDivisible(t *testing.T) {
	assert.True(t, shape.Divisible(shape.Cube(32), shape.Cube(16)))
	assert.False(t, shape.Divisible(shape.Cube(15), shape.Cube(16)))
	assert.True(t, shape.Divisible(shape.Triple{32, 32, 5}, shape.Triple{16, 16, 1}))
	assert.False(t, shape.Divisible(shape.Cube(4), shape.Triple{1, 1, 0}))
}
