package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

func TestDefault(t *testing.T) {
	c := config.Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 4, c.Stages())
	assert.Equal(t, shape.New(1, 128, 128, 128, 1), c.Input())
	assert.Equal(t, shape.Cube(16), c.Reduction())
	assert.Equal(t, int64(512), c.Bridge.Filters)
	assert.Equal(t, config.Sigmoid, c.OutputActivation)
	assert.Equal(t, int64(1), c.OutputChannels)

	var enc, dec []int64
	for i := range c.Encoder {
		enc = append(enc, c.Encoder[i].Filters)
		dec = append(dec, c.Decoder[i].Filters)
	}
	assert.Equal(t, []int64{32, 64, 128, 256}, enc)
	assert.Equal(t, []int64{256, 128, 64, 32}, dec)

	e := c.Encoder[0]
	assert.Equal(t, shape.Cube(3), e.Kernel)
	assert.Equal(t, shape.Same, e.Padding)
	assert.Equal(t, config.ReLU, e.Activation)
	assert.Equal(t, shape.Cube(2), e.Pool)
	assert.Equal(t, shape.Cube(2), c.Decoder[0].TransposeStride)
}

func TestWithHelpersCopy(t *testing.T) {
	c := config.Default()
	d := c.DepthPreserving()

	assert.Equal(t, shape.Cube(2), c.Encoder[0].PoolStride, "original must be untouched")
	assert.Equal(t, config.DepthPreservingStride, d.Encoder[0].PoolStride)
	assert.Equal(t, config.DepthPreservingStride, d.Decoder[3].TransposeKernel)
	assert.Equal(t, shape.Triple{16, 16, 1}, d.Reduction())

	v := c.WithPadding(shape.Valid).WithActivation(config.Tanh)
	assert.Equal(t, shape.Same, c.Bridge.Padding)
	assert.Equal(t, shape.Valid, v.Bridge.Padding)
	assert.Equal(t, config.Tanh, v.Decoder[1].Activation)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"zero height", func(c *config.Config) { c.Height = 0 }},
		{"no encoder", func(c *config.Config) { c.Encoder = nil }},
		{"unmirrored decoder", func(c *config.Config) { c.Decoder = c.Decoder[:3] }},
		{"zero filters", func(c *config.Config) { c.Encoder[1].Filters = 0 }},
		{"bad padding", func(c *config.Config) { c.Bridge.Padding = "reflect" }},
		{"bad activation", func(c *config.Config) { c.Decoder[0].Activation = "gelu" }},
		{"zero pool", func(c *config.Config) { c.Encoder[0].PoolStride = shape.Triple{2, 0, 2} }},
		{"zero transpose", func(c *config.Config) { c.Decoder[2].TransposeKernel = shape.Triple{} }},
		{"zero output", func(c *config.Config) { c.OutputChannels = 0 }},
		{"two output channels", func(c *config.Config) { c.OutputChannels = 2 }},
		{"bad output activation", func(c *config.Config) { c.OutputActivation = "softmax" }},
		{"unbounded output activation", func(c *config.Config) { c.OutputActivation = config.Tanh }},
		{"linear output activation", func(c *config.Config) { c.OutputActivation = config.Linear }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default().Clone()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestPreset(t *testing.T) {
	b, err := config.Preset("brain")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Channels)

	s, err := config.Preset("spine")
	require.NoError(t, err)
	assert.Equal(t, shape.Triple{256, 256, 32}, s.Input().Spatial())

	_, err = config.Preset("knee")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadHCL(t *testing.T) {
	c, err := config.Load(filepath.Join("testdata", "spine.hcl"))
	require.NoError(t, err)

	assert.Equal(t, "spine-depth", c.Name)
	assert.Equal(t, shape.New(1, 128, 128, 24, 1), c.Input())
	assert.Equal(t, int64(16), c.Encoder[0].Filters)
	assert.Equal(t, int64(256), c.Bridge.Filters)
	assert.Equal(t, int64(16), c.Decoder[3].Filters)
	assert.Equal(t, config.DepthPreservingStride, c.Encoder[2].PoolStride)
	assert.Equal(t, config.DepthPreservingStride, c.Decoder[0].TransposeStride)
}

func TestLoadYAML(t *testing.T) {
	c, err := config.Load(filepath.Join("testdata", "brain.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "brain-small", c.Name)
	assert.Equal(t, shape.New(1, 64, 64, 64, 3), c.Input())
	assert.Equal(t, shape.Cube(3), c.Bridge.Kernel)
	assert.Equal(t, config.Tanh, c.Encoder[0].Activation)
	assert.Equal(t, int64(512), c.Bridge.Filters)
}

func TestParseErrors(t *testing.T) {
	_, err := config.ParseHCL([]byte(`kernel = [3, 3]`), "bad.hcl")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.ParseHCL([]byte(`kernel = `), "broken.hcl")
	assert.Error(t, err)

	_, err = config.ParseHCL([]byte(`stride = stride.sideways`), "unknown.hcl")
	assert.Error(t, err)

	_, err = config.ParseYAML([]byte("activation: swish\n"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.ParseYAML([]byte("output_activation: relu\n"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.ParseYAML([]byte("output_channels: 2\n"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.ParseYAML([]byte("base: [1, 2\n"))
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "net.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err = config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.Load(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestActivation(t *testing.T) {
	for _, a := range []config.Activation{config.ReLU, config.Sigmoid, config.Tanh, config.Linear} {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, config.Activation("elu").Valid())

	assert.True(t, config.Sigmoid.Bounded())
	assert.False(t, config.Tanh.Bounded())
	assert.False(t, config.Linear.Bounded())
}
