// Package graph is a symbolic 3D computation graph. A Builder appends ops
// one at a time, infers every output shape as it goes and rejects a
// concatenation of spatially different tensors the moment it is requested,
// so an invalid topology never produces a Graph.
package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/miladsade96/3D-Dense-U-Net/config"
	"github.com/miladsade96/3D-Dense-U-Net/shape"
)

// Op is the kind of a graph node.
type Op string

const (
	OpInput         Op = "Input"
	OpConv          Op = "Conv3D"
	OpConvTranspose Op = "Conv3DTranspose"
	OpMaxPool       Op = "MaxPooling3D"
	OpConcat        Op = "Concatenate"
)

// ErrShapeMismatch is the error class of every structural failure.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeError describes which node could not be built and why.
type ShapeError struct {
	Node   string
	Reason string
	Shapes []shape.Shape
}

func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%v at %s: %s [%s]", ErrShapeMismatch, e.Node, e.Reason, strings.Join(parts, " "))
}

// Unwrap makes errors.Is(err, ErrShapeMismatch) hold.
func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// Node is one op of the graph together with its output shape.
type Node struct {
	ID     int
	Name   string
	Stage  string
	Op     Op
	Inputs []int
	Shape  shape.Shape

	Filters    int64
	Kernel     shape.Triple
	Stride     shape.Triple
	Padding    shape.Padding
	Activation config.Activation

	// Skip marks the encoder-decoder concatenations.
	Skip   bool
	Params int64
}

// Tensor is a handle on a node output used while building.
type Tensor struct {
	ID    int
	Shape shape.Shape
}

// Graph is an immutable, fully shape-checked DAG from one input to one
// output. Node ids are indices in topological order.
type Graph struct {
	nodes  []Node
	output int
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns node id.
func (g *Graph) Node(id int) Node {
	return g.nodes[id].clone()
}

// Nodes returns a copy of all nodes in topological order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Input returns the input node.
func (g *Graph) Input() Node {
	return g.Node(0)
}

// Output returns the output node.
func (g *Graph) Output() Node {
	return g.Node(g.output)
}

// Find returns the node with the given name.
func (g *Graph) Find(name string) (Node, bool) {
	for _, n := range g.nodes {
		if n.Name == name {
			return n.clone(), true
		}
	}
	return Node{}, false
}

// Params returns the number of trainable parameters.
func (g *Graph) Params() int64 {
	var total int64
	for _, n := range g.nodes {
		total += n.Params
	}
	return total
}

// Skips returns the skip concatenations in build order.
func (g *Graph) Skips() []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Skip {
			out = append(out, n.clone())
		}
	}
	return out
}

// StageOutputs returns, for every stage in build order, the last node built
// in it.
func (g *Graph) StageOutputs() []Node {
	var out []Node
	for _, n := range g.nodes {
		if len(out) > 0 && out[len(out)-1].Stage == n.Stage {
			out[len(out)-1] = n.clone()
			continue
		}
		out = append(out, n.clone())
	}
	return out
}

// Text renders one line per node:
//
//	Conv3D From=input To=encoder1/conv1 Filters=32 Kernel=3x3x3 ... Shape=(1,32,32,32,32)
func (g *Graph) Text() string {
	var sb strings.Builder
	for _, n := range g.nodes {
		sb.WriteString(string(n.Op))
		if len(n.Inputs) > 0 {
			from := make([]string, len(n.Inputs))
			for i, id := range n.Inputs {
				from[i] = g.nodes[id].Name
			}
			sb.WriteString(" From=" + strings.Join(from, ","))
		}
		sb.WriteString(" To=" + n.Name)
		switch n.Op {
		case OpConv, OpConvTranspose:
			sb.WriteString(" Filters=" + strconv.FormatInt(n.Filters, 10))
			sb.WriteString(" Kernel=" + n.Kernel.String())
			sb.WriteString(" Stride=" + n.Stride.String())
			sb.WriteString(" Padding=" + string(n.Padding))
			sb.WriteString(" Activation=" + string(n.Activation))
		case OpMaxPool:
			sb.WriteString(" Pool=" + n.Kernel.String())
			sb.WriteString(" Stride=" + n.Stride.String())
			sb.WriteString(" Padding=" + string(n.Padding))
		case OpConcat:
			if n.Skip {
				sb.WriteString(" Skip=true")
			}
		}
		sb.WriteString(" Shape=" + n.Shape.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (n Node) clone() Node {
	n.Inputs = append([]int(nil), n.Inputs...)
	return n
}
