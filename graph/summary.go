package graph

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DataFrame returns one row per node: layer, stage, op, inputs, output
// shape, channels and parameter count.
func (g *Graph) DataFrame() dataframe.DataFrame {
	n := len(g.nodes)
	var (
		layers   = make([]string, n)
		stages   = make([]string, n)
		ops      = make([]string, n)
		from     = make([]string, n)
		shapes   = make([]string, n)
		channels = make([]int, n)
		params   = make([]int, n)
	)
	for i, node := range g.nodes {
		layers[i] = node.Name
		stages[i] = node.Stage
		ops[i] = string(node.Op)
		names := make([]string, len(node.Inputs))
		for j, id := range node.Inputs {
			names[j] = g.nodes[id].Name
		}
		from[i] = strings.Join(names, " ")
		shapes[i] = node.Shape.String()
		channels[i] = int(node.Shape.Channels)
		params[i] = int(node.Params)
	}

	return dataframe.New(
		series.New(layers, series.String, "layer"),
		series.New(stages, series.String, "stage"),
		series.New(ops, series.String, "op"),
		series.New(from, series.String, "from"),
		series.New(shapes, series.String, "output"),
		series.New(channels, series.Int, "channels"),
		series.New(params, series.Int, "params"),
	)
}

// WriteSummary prints the layer table followed by the parameter total.
func (g *Graph) WriteSummary(w io.Writer) error {
	df := g.DataFrame()
	if df.Err != nil {
		return df.Err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, rec := range df.Records() {
		if _, err := fmt.Fprintln(tw, strings.Join(rec, "\t")); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nInput: %v\nOutput: %v\nTotal params: %d\n",
		g.Input().Shape, g.Output().Shape, g.Params())
	return err
}

// WriteCSV writes the DataFrame as CSV.
func (g *Graph) WriteCSV(w io.Writer) error {
	df := g.DataFrame()
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

// PlotStages saves a chart of the channel count and height of every stage
// output to path. The image format follows the file extension.
func (g *Graph) PlotStages(path string) error {
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Stage outputs"
	p.X.Label.Text = "stage"

	stages := g.StageOutputs()
	names := make([]string, len(stages))
	channels := make(plotter.XYs, len(stages))
	heights := make(plotter.XYs, len(stages))
	for i, n := range stages {
		names[i] = n.Stage
		if names[i] == "" {
			names[i] = n.Name
		}
		channels[i].X, channels[i].Y = float64(i), float64(n.Shape.Channels)
		heights[i].X, heights[i].Y = float64(i), float64(n.Shape.Height)
	}

	cl, cp, err := plotter.NewLinePoints(channels)
	if err != nil {
		return err
	}
	hl, hp, err := plotter.NewLinePoints(heights)
	if err != nil {
		return err
	}
	hl.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(cl, cp, hl, hp)
	p.Legend.Add("channels", cl, cp)
	p.Legend.Add("height", hl, hp)
	p.NominalX(names...)

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
