package graph

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// Builder appends shape-checked nodes to a graph under construction.
// A Builder is not safe for concurrent use.
type Builder struct {
	nodes  []Node
	stage  string
	counts map[string]int
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger makes the builder log every node at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		counts: make(map[string]int),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stage sets the stage name prefixed to every following node.
func (b *Builder) Stage(name string) {
	b.stage = name
}

// name returns stage/prefixN, numbering prefixes per stage.
func (b *Builder) name(prefix string) string {
	key := b.stage + "/" + prefix
	b.counts[key]++
	n := prefix + strconv.Itoa(b.counts[key])
	if b.stage == "" {
		return n
	}
	return b.stage + "/" + n
}

func (b *Builder) tensor(x Tensor) (Node, error) {
	if x.ID < 0 || x.ID >= len(b.nodes) {
		return Node{}, fmt.Errorf("graph: unknown tensor %d", x.ID)
	}
	return b.nodes[x.ID], nil
}

func (b *Builder) add(n Node) Tensor {
	n.ID = len(b.nodes)
	n.Stage = b.stage
	b.nodes = append(b.nodes, n)
	b.logger.Debug("Node added.", "id", n.ID, "name", n.Name, "op", n.Op, "shape", n.Shape.String(), "params", n.Params)
	return Tensor{ID: n.ID, Shape: n.Shape}
}

// Input adds the graph input. It must be the first node.
func (b *Builder) Input(s shape.Shape) (Tensor, error) {
	if len(b.nodes) > 0 {
		return Tensor{}, fmt.Errorf("graph: input must be the first node")
	}
	if err := s.Validate(); err != nil {
		return Tensor{}, &ShapeError{Node: "input", Reason: err.Error(), Shapes: []shape.Shape{s}}
	}
	return b.add(Node{Name: "input", Op: OpInput, Shape: s}), nil
}

// checkSpatial rejects outputs whose spatial axes collapsed.
func checkSpatial(name string, in shape.Shape, out shape.Triple) error {
	if !out.Positive() {
		return &ShapeError{
			Node:   name,
			Reason: fmt.Sprintf("window does not fit, output %v", out),
			Shapes: []shape.Shape{in},
		}
	}
	return nil
}

// Conv adds a stride-1 3D convolution.
func (b *Builder) Conv(x Tensor, filters int64, kernel shape.Triple, pad shape.Padding, act config.Activation) (Tensor, error) {
	in, err := b.tensor(x)
	if err != nil {
		return Tensor{}, err
	}
	name := b.name("conv")
	stride := shape.Cube(1)
	out := shape.Window(in.Shape.Spatial(), kernel, stride, pad)
	if err := checkSpatial(name, in.Shape, out); err != nil {
		return Tensor{}, err
	}
	return b.add(Node{
		Name:       name,
		Op:         OpConv,
		Inputs:     []int{in.ID},
		Shape:      in.Shape.WithSpatial(out).WithChannels(filters),
		Filters:    filters,
		Kernel:     kernel,
		Stride:     stride,
		Padding:    pad,
		Activation: act,
		Params:     kernel.Volume()*in.Shape.Channels*filters + filters,
	}), nil
}

// ConvTranspose adds a 3D transposed convolution.
func (b *Builder) ConvTranspose(x Tensor, filters int64, kernel, stride shape.Triple, pad shape.Padding, act config.Activation) (Tensor, error) {
	in, err := b.tensor(x)
	if err != nil {
		return Tensor{}, err
	}
	out := shape.Transpose(in.Shape.Spatial(), kernel, stride, pad)
	return b.add(Node{
		Name:       b.name("upconv"),
		Op:         OpConvTranspose,
		Inputs:     []int{in.ID},
		Shape:      in.Shape.WithSpatial(out).WithChannels(filters),
		Filters:    filters,
		Kernel:     kernel,
		Stride:     stride,
		Padding:    pad,
		Activation: act,
		Params:     kernel.Volume()*in.Shape.Channels*filters + filters,
	}), nil
}

// MaxPool adds a 3D max-pooling.
func (b *Builder) MaxPool(x Tensor, pool, stride shape.Triple, pad shape.Padding) (Tensor, error) {
	in, err := b.tensor(x)
	if err != nil {
		return Tensor{}, err
	}
	name := b.name("pool")
	out := shape.Window(in.Shape.Spatial(), pool, stride, pad)
	if err := checkSpatial(name, in.Shape, out); err != nil {
		return Tensor{}, err
	}
	return b.add(Node{
		Name:    name,
		Op:      OpMaxPool,
		Inputs:  []int{in.ID},
		Shape:   in.Shape.WithSpatial(out),
		Kernel:  pool,
		Stride:  stride,
		Padding: pad,
	}), nil
}

// Concat concatenates xs along the channel axis.
func (b *Builder) Concat(xs ...Tensor) (Tensor, error) {
	return b.concat("concat", false, xs)
}

// Skip concatenates an encoder output with the decoder output of the same
// resolution, encoder first.
func (b *Builder) Skip(enc, dec Tensor) (Tensor, error) {
	return b.concat("skip", true, []Tensor{enc, dec})
}

func (b *Builder) concat(prefix string, skip bool, xs []Tensor) (Tensor, error) {
	if len(xs) < 2 {
		return Tensor{}, fmt.Errorf("graph: concat needs at least 2 tensors, got %d", len(xs))
	}
	name := b.name(prefix)

	first, err := b.tensor(xs[0])
	if err != nil {
		return Tensor{}, err
	}
	ids := []int{first.ID}
	shapes := []shape.Shape{first.Shape}
	channels := first.Shape.Channels
	mismatch := false
	for _, x := range xs[1:] {
		n, err := b.tensor(x)
		if err != nil {
			return Tensor{}, err
		}
		if !n.Shape.SameSpatial(first.Shape) {
			mismatch = true
		}
		ids = append(ids, n.ID)
		shapes = append(shapes, n.Shape)
		channels += n.Shape.Channels
	}
	if mismatch {
		return Tensor{}, &ShapeError{Node: name, Reason: "concatenated tensors differ in spatial shape", Shapes: shapes}
	}

	return b.add(Node{
		Name:   name,
		Op:     OpConcat,
		Inputs: ids,
		Shape:  first.Shape.WithChannels(channels),
		Skip:   skip,
	}), nil
}

// Build freezes the graph with out as its output. The builder may not be
// used afterwards.
func (b *Builder) Build(out Tensor) (*Graph, error) {
	if _, err := b.tensor(out); err != nil {
		return nil, err
	}
	if len(b.nodes) == 0 || b.nodes[0].Op != OpInput {
		return nil, fmt.Errorf("graph: no input node")
	}
	g := &Graph{nodes: b.nodes, output: out.ID}
	b.nodes = nil
	b.logger.Debug("Graph built.", "nodes", g.Len(), "params", g.Params(), "output", g.Output().Shape.String())
	return g, nil
}
