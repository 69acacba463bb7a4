package graph_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/graph"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// tiny builds input -> conv -> concat(input, conv) -> pool.
func tiny(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	b.Stage("encoder1")
	x, err := b.Input(shape.New(1, 8, 8, 8, 2))
	require.NoError(t, err)
	c, err := b.Conv(x, 4, shape.Cube(3), shape.Same, config.ReLU)
	require.NoError(t, err)
	cat, err := b.Concat(x, c)
	require.NoError(t, err)
	p, err := b.MaxPool(cat, shape.Cube(2), shape.Cube(2), shape.Same)
	require.NoError(t, err)
	g, err := b.Build(p)
	require.NoError(t, err)
	return g
}

func TestBuilderShapes(t *testing.T) {
	g := tiny(t)

	require.Equal(t, 4, g.Len())
	assert.Equal(t, graph.OpInput, g.Input().Op)
	assert.Equal(t, "encoder1/conv1", g.Node(1).Name)
	assert.Equal(t, shape.New(1, 8, 8, 8, 4), g.Node(1).Shape)
	assert.Equal(t, shape.New(1, 8, 8, 8, 6), g.Node(2).Shape)
	assert.Equal(t, []int{0, 1}, g.Node(2).Inputs)
	assert.Equal(t, shape.New(1, 4, 4, 4, 6), g.Output().Shape)

	// 27*2*4 weights + 4 biases
	assert.Equal(t, int64(220), g.Params())
	assert.Equal(t, int64(220), g.Node(1).Params)

	n, ok := g.Find("encoder1/pool1")
	require.True(t, ok)
	assert.Equal(t, graph.OpMaxPool, n.Op)
	_, ok = g.Find("nope")
	assert.False(t, ok)
}

func TestNodesAreCopies(t *testing.T) {
	g := tiny(t)
	nodes := g.Nodes()
	nodes[2].Inputs[0] = 99
	assert.Equal(t, 0, g.Node(2).Inputs[0])
}

func TestConcatMismatch(t *testing.T) {
	b := graph.NewBuilder()
	x, err := b.Input(shape.New(1, 8, 8, 8, 1))
	require.NoError(t, err)
	p, err := b.MaxPool(x, shape.Cube(2), shape.Cube(2), shape.Same)
	require.NoError(t, err)

	_, err = b.Concat(x, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrShapeMismatch))

	var se *graph.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "concat1", se.Node)
	assert.Equal(t, []shape.Shape{shape.New(1, 8, 8, 8, 1), shape.New(1, 4, 4, 4, 1)}, se.Shapes)
	assert.Contains(t, err.Error(), "(1,4,4,4,1)")

	_, err = b.Concat(x)
	assert.Error(t, err)
}

func TestValidConvCollapse(t *testing.T) {
	b := graph.NewBuilder()
	x, err := b.Input(shape.New(1, 2, 2, 2, 1))
	require.NoError(t, err)
	_, err = b.Conv(x, 4, shape.Cube(3), shape.Valid, config.ReLU)
	assert.ErrorIs(t, err, graph.ErrShapeMismatch)
	_, err = b.MaxPool(x, shape.Cube(3), shape.Cube(3), shape.Valid)
	assert.ErrorIs(t, err, graph.ErrShapeMismatch)
}

func TestConvTranspose(t *testing.T) {
	b := graph.NewBuilder()
	x, err := b.Input(shape.New(2, 4, 4, 3, 8))
	require.NoError(t, err)
	up, err := b.ConvTranspose(x, 4, shape.Triple{2, 2, 1}, shape.Triple{2, 2, 1}, shape.Same, config.Linear)
	require.NoError(t, err)
	assert.Equal(t, shape.New(2, 8, 8, 3, 4), up.Shape)

	g, err := b.Build(up)
	require.NoError(t, err)
	assert.Equal(t, int64(4*8*4+4), g.Params())
}

func TestBuilderMisuse(t *testing.T) {
	b := graph.NewBuilder()
	_, err := b.Conv(graph.Tensor{ID: 3}, 1, shape.Cube(1), shape.Same, config.ReLU)
	assert.Error(t, err)

	_, err = b.Input(shape.New(1, 0, 4, 4, 1))
	assert.ErrorIs(t, err, graph.ErrShapeMismatch)

	x, err := b.Input(shape.New(1, 4, 4, 4, 1))
	require.NoError(t, err)
	_, err = b.Input(shape.New(1, 4, 4, 4, 1))
	assert.Error(t, err)

	_, err = b.Build(graph.Tensor{ID: x.ID + 5})
	assert.Error(t, err)
}

func TestStageOutputsAndText(t *testing.T) {
	b := graph.NewBuilder()
	b.Stage("a")
	x, err := b.Input(shape.New(1, 4, 4, 4, 1))
	require.NoError(t, err)
	y, err := b.Conv(x, 2, shape.Cube(1), shape.Same, config.ReLU)
	require.NoError(t, err)
	b.Stage("b")
	z, err := b.Conv(y, 3, shape.Cube(1), shape.Same, config.Sigmoid)
	require.NoError(t, err)
	s, err := b.Skip(y, z)
	require.NoError(t, err)
	g, err := b.Build(s)
	require.NoError(t, err)

	outs := g.StageOutputs()
	require.Len(t, outs, 2)
	assert.Equal(t, "a/conv1", outs[0].Name)
	assert.Equal(t, "b/skip1", outs[1].Name)

	skips := g.Skips()
	require.Len(t, skips, 1)
	assert.Equal(t, int64(5), skips[0].Shape.Channels)

	text := g.Text()
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Input To=input Shape=(1,4,4,4,1)", lines[0])
	assert.Contains(t, lines[2], "From=a/conv1 To=b/conv1 Filters=3")
	assert.Contains(t, lines[2], "Activation=sigmoid")
	assert.Equal(t, "Concatenate From=a/conv1,b/conv1 To=b/skip1 Skip=true Shape=(1,4,4,4,5)", lines[3])
}

func TestSummary(t *testing.T) {
	g := tiny(t)

	df := g.DataFrame()
	require.NoError(t, df.Err)
	assert.Equal(t, 4, df.Nrow())
	assert.Equal(t, []string{"layer", "stage", "op", "from", "output", "channels", "params"}, df.Names())

	var buf bytes.Buffer
	require.NoError(t, g.WriteSummary(&buf))
	out := buf.String()
	assert.Contains(t, out, "encoder1/concat1")
	assert.Contains(t, out, "Total params: 220")
	assert.Contains(t, out, "Output: (1,4,4,4,6)")

	buf.Reset()
	require.NoError(t, g.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "layer,stage,op,from,output,channels,params", lines[0])
}

func TestPlotStages(t *testing.T) {
	g := tiny(t)
	path := filepath.Join(t.TempDir(), "stages.png")
	require.NoError(t, g.PlotStages(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
