package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// document is the on-disk form shared by the HCL and YAML loaders. Every
// field is optional and overrides the preset named by Base.
type document struct {
	Name  *string `hcl:"name,optional" yaml:"name"`
	Base  *string `hcl:"base,optional" yaml:"base"`
	Input *input  `hcl:"input,block" yaml:"input"`

	EncoderFilters []int64 `hcl:"encoder_filters,optional" yaml:"encoder_filters"`
	BridgeFilters  *int64  `hcl:"bridge_filters,optional" yaml:"bridge_filters"`
	DecoderFilters []int64 `hcl:"decoder_filters,optional" yaml:"decoder_filters"`

	Kernel          []int64 `hcl:"kernel,optional" yaml:"kernel"`
	Pool            []int64 `hcl:"pool,optional" yaml:"pool"`
	Stride          []int64 `hcl:"stride,optional" yaml:"stride"`
	TransposeKernel []int64 `hcl:"transpose_kernel,optional" yaml:"transpose_kernel"`

	Padding          *string `hcl:"padding,optional" yaml:"padding"`
	Activation       *string `hcl:"activation,optional" yaml:"activation"`
	OutputActivation *string `hcl:"output_activation,optional" yaml:"output_activation"`
	OutputChannels   *int64  `hcl:"output_channels,optional" yaml:"output_channels"`
}

type input struct {
	Batch    *int64 `hcl:"batch,optional" yaml:"batch"`
	Height   *int64 `hcl:"height,optional" yaml:"height"`
	Width    *int64 `hcl:"width,optional" yaml:"width"`
	Depth    *int64 `hcl:"depth,optional" yaml:"depth"`
	Channels *int64 `hcl:"channels,optional" yaml:"channels"`
}

// Load reads a network description from path. The format is chosen by
// extension: .hcl, or .yaml/.yml.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return ParseHCL(src, path)
	case ".yaml", ".yml":
		return ParseYAML(src)
	}
	return Config{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, filepath.Ext(path))
}

// evalContext exposes the stride presets to HCL expressions, so a file can
// write `stride = stride.depth_preserving`.
func evalContext() *hcl.EvalContext {
	triple := func(t shape.Triple) cty.Value {
		return cty.ListVal([]cty.Value{
			cty.NumberIntVal(t[0]), cty.NumberIntVal(t[1]), cty.NumberIntVal(t[2]),
		})
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"stride": cty.ObjectVal(map[string]cty.Value{
				"symmetric":        triple(SymmetricStride),
				"depth_preserving": triple(DepthPreservingStride),
			}),
		},
	}
}

// ParseHCL decodes an HCL network description. filename is only used in
// diagnostics.
func ParseHCL(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var doc document
	diags = gohcl.DecodeBody(file.Body, evalContext(), &doc)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return doc.apply()
}

// ParseYAML decodes a YAML network description.
func ParseYAML(src []byte) (Config, error) {
	var doc document
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return Config{}, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return doc.apply()
}

// apply overlays the document on its base preset and validates the result.
func (d *document) apply() (Config, error) {
	base := ""
	if d.Base != nil {
		base = *d.Base
	}
	c, err := Preset(base)
	if err != nil {
		return Config{}, err
	}
	if d.Name != nil {
		c.Name = *d.Name
	}

	if in := d.Input; in != nil {
		setInt(&c.Batch, in.Batch)
		setInt(&c.Height, in.Height)
		setInt(&c.Width, in.Width)
		setInt(&c.Depth, in.Depth)
		setInt(&c.Channels, in.Channels)
	}

	if d.EncoderFilters != nil || d.DecoderFilters != nil || d.BridgeFilters != nil {
		enc := filtersOf(c.Encoder)
		dec := filtersOf(c.Decoder)
		bridge := c.Bridge.Filters
		if d.EncoderFilters != nil {
			enc = d.EncoderFilters
		}
		if d.DecoderFilters != nil {
			dec = d.DecoderFilters
		}
		setInt(&bridge, d.BridgeFilters)
		c = New(c.Name, c.Height, c.Width, c.Depth, c.Channels, enc, bridge, dec).withBatch(c.Batch)
	}

	if d.Kernel != nil {
		k, err := toTriple("kernel", d.Kernel)
		if err != nil {
			return Config{}, err
		}
		c = c.WithKernel(k)
	}
	if d.Stride != nil {
		s, err := toTriple("stride", d.Stride)
		if err != nil {
			return Config{}, err
		}
		c = c.WithStride(s)
	}
	if d.Pool != nil {
		p, err := toTriple("pool", d.Pool)
		if err != nil {
			return Config{}, err
		}
		for i := range c.Encoder {
			c.Encoder[i].Pool = p
		}
	}
	if d.TransposeKernel != nil {
		k, err := toTriple("transpose_kernel", d.TransposeKernel)
		if err != nil {
			return Config{}, err
		}
		for i := range c.Decoder {
			c.Decoder[i].TransposeKernel = k
		}
	}
	if d.Padding != nil {
		c = c.WithPadding(shape.Padding(*d.Padding))
	}
	if d.Activation != nil {
		c = c.WithActivation(Activation(*d.Activation))
	}
	if d.OutputActivation != nil {
		c.OutputActivation = Activation(*d.OutputActivation)
	}
	setInt(&c.OutputChannels, d.OutputChannels)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) withBatch(b int64) Config {
	c.Batch = b
	return c
}

func setInt(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func filtersOf(blocks []Block) []int64 {
	out := make([]int64, len(blocks))
	for i, b := range blocks {
		out[i] = b.Filters
	}
	return out
}

// toTriple accepts one value (applied to every axis) or three.
func toTriple(field string, v []int64) (shape.Triple, error) {
	switch len(v) {
	case 1:
		return shape.Cube(v[0]), nil
	case 3:
		return shape.Triple{v[0], v[1], v[2]}, nil
	}
	return shape.Triple{}, fmt.Errorf("%w: %s must have 1 or 3 values, got %d", ErrInvalidConfig, field, len(v))
}
